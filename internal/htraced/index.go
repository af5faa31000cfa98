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
	"encoding/binary"

	"github.com/apache/htrace-htraced/internal/common"
)

// One-byte key-family prefixes.  See SPEC_FULL.md's index-layer table.
const (
	PRIMARY_PREFIX     byte = 'P'
	CHILD_PREFIX       byte = 'C'
	BEGIN_PREFIX       byte = 'B'
	END_PREFIX         byte = 'E'
	DURATION_PREFIX    byte = 'D'
	DESCRIPTION_PREFIX byte = 'S'
	TRACER_ID_PREFIX   byte = 'T'
)

// Separator appended after variable-length string index components before
// the fixed-width span id, so that a description which is a strict prefix
// of another always sorts before it regardless of the id bytes that follow.
const stringKeySep byte = 0x00

// Encodes a signed 64-bit integer as 8 big-endian bytes with the sign bit
// flipped, so that lexicographic byte order equals numeric order.
func encodeInt64(v int64) []byte {
	u := uint64(v) ^ (uint64(1) << 63)
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, u)
	return b
}

func decodeInt64(b []byte) int64 {
	u := binary.BigEndian.Uint64(b)
	return int64(u ^ (uint64(1) << 63))
}

func primaryKey(id common.SpanId) []byte {
	key := make([]byte, 1+common.SPAN_ID_SIZE)
	key[0] = PRIMARY_PREFIX
	copy(key[1:], id)
	return key
}

func childKey(parent, child common.SpanId) []byte {
	key := make([]byte, 1+2*common.SPAN_ID_SIZE)
	key[0] = CHILD_PREFIX
	copy(key[1:], parent)
	copy(key[1+common.SPAN_ID_SIZE:], child)
	return key
}

func numericKey(prefix byte, v int64, id common.SpanId) []byte {
	key := make([]byte, 1+8+common.SPAN_ID_SIZE)
	key[0] = prefix
	copy(key[1:9], encodeInt64(v))
	copy(key[9:], id)
	return key
}

func beginKey(begin int64, id common.SpanId) []byte    { return numericKey(BEGIN_PREFIX, begin, id) }
func endKey(end int64, id common.SpanId) []byte        { return numericKey(END_PREFIX, end, id) }
func durationKey(dur int64, id common.SpanId) []byte   { return numericKey(DURATION_PREFIX, dur, id) }

func stringKey(prefix byte, s string, id common.SpanId) []byte {
	key := make([]byte, 0, 1+len(s)+1+common.SPAN_ID_SIZE)
	key = append(key, prefix)
	key = append(key, []byte(s)...)
	key = append(key, stringKeySep)
	key = append(key, id...)
	return key
}

func descriptionKey(desc string, id common.SpanId) []byte {
	return stringKey(DESCRIPTION_PREFIX, desc, id)
}

func tracerIdKey(tracerId string, id common.SpanId) []byte {
	return stringKey(TRACER_ID_PREFIX, tracerId, id)
}

// Extracts the trailing span id from any fixed-tail index key (every
// family except C, whose value has two ids appended after its prefix).
func idFromIndexKey(key []byte) common.SpanId {
	return common.SpanId(key[len(key)-common.SPAN_ID_SIZE:])
}

// Returns every key/value pair that should be written for span, across the
// primary record and all secondary index families.  Deletion uses the same
// set of keys with the entries removed instead of added.
func indexEntriesForSpan(span *common.Span, encoded []byte) map[string][]byte {
	entries := make(map[string][]byte)
	entries[string(primaryKey(span.Id))] = encoded
	for _, parent := range span.Parents {
		entries[string(childKey(parent, span.Id))] = []byte{}
	}
	entries[string(beginKey(span.Begin, span.Id))] = []byte{}
	entries[string(endKey(span.End, span.Id))] = []byte{}
	entries[string(durationKey(span.Duration(), span.Id))] = []byte{}
	entries[string(descriptionKey(span.Description, span.Id))] = []byte{}
	entries[string(tracerIdKey(span.TracerId, span.Id))] = []byte{}
	return entries
}

// Returns the index prefix that serves as the driving index for a given
// predicate field, or 0 if the field cannot drive a scan directly (i.e. it
// requires a full scan over B with post-filtering, such as a lone
// description CONTAINS).
func indexPrefixForField(field common.Field) byte {
	switch field {
	case common.SPAN_ID:
		return PRIMARY_PREFIX
	case common.BEGIN_TIME:
		return BEGIN_PREFIX
	case common.END_TIME:
		return END_PREFIX
	case common.DURATION:
		return DURATION_PREFIX
	case common.DESCRIPTION:
		return DESCRIPTION_PREFIX
	case common.TRACER_ID:
		return TRACER_ID_PREFIX
	default:
		return 0
	}
}
