/*
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package htraced

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apache/htrace-htraced/internal/common"
)

func id16(b byte) common.SpanId {
	id := make(common.SpanId, common.SPAN_ID_SIZE)
	id[15] = b
	return id
}

// A description that is a strict prefix of another must always sort before
// it, regardless of which id happens to be appended to each key. Without
// the NUL separator, "foobar" with a small id could sort before "foo" with
// a large one.
func TestStringKeyPrefixOrdering(t *testing.T) {
	fooKey := descriptionKey("foo", id16(0xff))
	foobarKey := descriptionKey("foobar", id16(0x00))
	require.True(t, bytes.Compare(fooKey, foobarKey) < 0,
		"\"foo\" (even with the largest id) must sort before \"foobar\" (even with the smallest id)")
}

func TestStringKeySameDescriptionOrdersById(t *testing.T) {
	a := descriptionKey("foo", id16(0x01))
	b := descriptionKey("foo", id16(0x02))
	require.True(t, bytes.Compare(a, b) < 0)
}

func TestNumericKeyOrdersNegativeBeforePositive(t *testing.T) {
	neg := beginKey(-100, id16(0))
	pos := beginKey(100, id16(0))
	require.True(t, bytes.Compare(neg, pos) < 0)
}

func TestIdFromIndexKeyRoundTrips(t *testing.T) {
	id := id16(0x42)
	key := beginKey(1000, id)
	require.True(t, idFromIndexKey(key).Equal(id))
}

func TestIndexPrefixForField(t *testing.T) {
	require.Equal(t, PRIMARY_PREFIX, indexPrefixForField(common.SPAN_ID))
	require.Equal(t, BEGIN_PREFIX, indexPrefixForField(common.BEGIN_TIME))
	require.Equal(t, END_PREFIX, indexPrefixForField(common.END_TIME))
	require.Equal(t, DURATION_PREFIX, indexPrefixForField(common.DURATION))
	require.Equal(t, DESCRIPTION_PREFIX, indexPrefixForField(common.DESCRIPTION))
	require.Equal(t, TRACER_ID_PREFIX, indexPrefixForField(common.TRACER_ID))
}

func TestIndexEntriesForSpanCoversAllFamilies(t *testing.T) {
	span := &common.Span{
		Id: id16(0x01),
		SpanData: common.SpanData{
			Begin: 100, End: 200, Description: "work", TracerId: "t1",
			Parents: []common.SpanId{id16(0x02)},
		},
	}
	entries := indexEntriesForSpan(span, []byte("encoded"))
	require.Contains(t, entries, string(primaryKey(span.Id)))
	require.Contains(t, entries, string(childKey(span.Parents[0], span.Id)))
	require.Contains(t, entries, string(beginKey(span.Begin, span.Id)))
	require.Contains(t, entries, string(endKey(span.End, span.Id)))
	require.Contains(t, entries, string(durationKey(span.Duration(), span.Id)))
	require.Contains(t, entries, string(descriptionKey(span.Description, span.Id)))
	require.Contains(t, entries, string(tracerIdKey(span.TracerId, span.Id)))
}
