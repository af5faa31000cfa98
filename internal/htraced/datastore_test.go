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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apache/htrace-htraced/internal/common"
)

func TestDataStoreWriteAndFindSpan(t *testing.T) {
	mini := setupQueryStore(t, 2)
	spans := threeTestSpans()

	found, err := mini.Store.FindSpan(spans[0].Id)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "alpha", found.Description)
	require.Equal(t, "t", found.TracerId)
}

func TestDataStoreFindSpanMissingIsNilNotError(t *testing.T) {
	mini := setupQueryStore(t, 1)
	missing := make(common.SpanId, common.SPAN_ID_SIZE)
	missing[15] = 0xee
	found, err := mini.Store.FindSpan(missing)
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestDataStoreWriteSpansRejectsInvalidId(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 1}).Build()
	require.NoError(t, err)
	defer mini.Close()

	good := threeTestSpans()[0]
	bad := &common.Span{
		Id:       make(common.SpanId, common.SPAN_ID_SIZE),
		SpanData: common.SpanData{Description: "no id"},
	}
	written, numBad := mini.Store.WriteSpans("test-addr", "deflt", []*common.Span{good, bad})
	require.Equal(t, 1, written)
	require.Equal(t, 1, numBad)

	mini.Store.WrittenSpans.Waits(1)
	found, err := mini.Store.FindSpan(good.Id)
	require.NoError(t, err)
	require.NotNil(t, found)
}

func TestDataStoreFindChildren(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 2}).Build()
	require.NoError(t, err)
	defer mini.Close()

	parent := make(common.SpanId, common.SPAN_ID_SIZE)
	parent[15] = 0x01
	child1 := make(common.SpanId, common.SPAN_ID_SIZE)
	child1[15] = 0x02
	child2 := make(common.SpanId, common.SPAN_ID_SIZE)
	child2[15] = 0x03

	spans := []*common.Span{
		{Id: parent, SpanData: common.SpanData{Description: "parent", TracerId: "t"}},
		{Id: child1, SpanData: common.SpanData{Description: "c1", TracerId: "t", Parents: []common.SpanId{parent}}},
		{Id: child2, SpanData: common.SpanData{Description: "c2", TracerId: "t", Parents: []common.SpanId{parent}}},
	}
	written, bad := mini.Store.WriteSpans("test", "deflt", spans)
	require.Equal(t, 3, written)
	require.Equal(t, 0, bad)
	mini.Store.WrittenSpans.Waits(3)

	children, err := mini.Store.FindChildren(parent, 10)
	require.NoError(t, err)
	require.Len(t, children, 2)
}

func TestDataStoreFindChildrenRespectsLimit(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 1}).Build()
	require.NoError(t, err)
	defer mini.Close()

	parent := make(common.SpanId, common.SPAN_ID_SIZE)
	parent[15] = 0x01
	var spans []*common.Span
	spans = append(spans, &common.Span{Id: parent, SpanData: common.SpanData{Description: "parent", TracerId: "t"}})
	for i := byte(2); i < 7; i++ {
		id := make(common.SpanId, common.SPAN_ID_SIZE)
		id[15] = i
		spans = append(spans, &common.Span{Id: id, SpanData: common.SpanData{
			Description: "child", TracerId: "t", Parents: []common.SpanId{parent}}})
	}
	written, bad := mini.Store.WriteSpans("test", "deflt", spans)
	require.Equal(t, len(spans), written)
	require.Equal(t, 0, bad)
	mini.Store.WrittenSpans.Waits(int64(len(spans)))

	children, err := mini.Store.FindChildren(parent, 2)
	require.NoError(t, err)
	require.Len(t, children, 2)
}

func TestDataStoreServerStatsCountsIngestedSpans(t *testing.T) {
	mini := setupQueryStore(t, 2)
	stats := mini.Store.ServerStats()
	require.Equal(t, uint64(3), stats.IngestedSpans)
	require.Equal(t, mini.Store.ShardBytes(), stats.ShardBytes)
}

func TestDataStoreQueueDepthAndNumShards(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 4}).Build()
	require.NoError(t, err)
	defer mini.Close()

	require.Equal(t, 4, mini.Store.NumShards())
	require.GreaterOrEqual(t, mini.Store.QueueDepth(), int64(0))
}
