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

func threeTestSpans() []*common.Span {
	mk := func(lastByte byte, begin, end int64, desc string) *common.Span {
		id := make(common.SpanId, common.SPAN_ID_SIZE)
		id[15] = lastByte
		return &common.Span{Id: id, SpanData: common.SpanData{
			Begin: begin, End: end, Description: desc, TracerId: "t",
		}}
	}
	return []*common.Span{
		mk(0x01, 123, 130, "alpha"),
		mk(0x02, 125, 140, "beta"),
		mk(0x03, 200, 260, "gamma"),
	}
}

func setupQueryStore(t *testing.T, numShards int) *MiniHTraced {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: numShards}).Build()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	spans := threeTestSpans()
	written, bad := mini.Store.WriteSpans("test", "deflt", spans)
	require.Equal(t, 0, bad)
	require.Equal(t, len(spans), written)
	mini.Store.WrittenSpans.Waits(int64(len(spans)))
	return mini
}

func idsOf(spans []*common.Span) []string {
	ids := make([]string, len(spans))
	for i, s := range spans {
		ids[i] = s.Id.String()
	}
	return ids
}

// Ingest three spans with begins 123, 125, 200 (ids ...01, ...02, ...03).
// A GE BEGIN_TIME 125 query with lim=5 should return [...02, ...03] in
// ascending begin-time order.
func TestQueryGeBeginTimeOrder(t *testing.T) {
	for _, numShards := range []int{1, 3} {
		mini := setupQueryStore(t, numShards)
		query := &common.Query{
			Predicates: []common.Predicate{{Field: common.BEGIN_TIME, Op: common.GE, Val: "125"}},
			Lim:        5,
		}
		spans, _, err := mini.Store.HandleQuery(query)
		require.NoError(t, err)
		require.Equal(t, []string{
			"00000000000000000000000000000002",
			"00000000000000000000000000000003",
		}, idsOf(spans))
	}
}

func TestQueryLeDurationDescending(t *testing.T) {
	mini := setupQueryStore(t, 2)
	query := &common.Query{
		Predicates: []common.Predicate{{Field: common.DURATION, Op: common.LE, Val: "60"}},
		Lim:        5,
	}
	spans, _, err := mini.Store.HandleQuery(query)
	require.NoError(t, err)
	// Durations are 7, 15, 60; LE 60 matches all three, descending by duration:
	// gamma(60), beta(15), alpha(7).
	require.Equal(t, []string{"gamma", "beta", "alpha"}, descriptionsOf(spans))
}

func descriptionsOf(spans []*common.Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Description
	}
	return out
}

func TestQueryEqSpanId(t *testing.T) {
	mini := setupQueryStore(t, 3)
	target := "00000000000000000000000000000002"
	query := &common.Query{
		Predicates: []common.Predicate{{Field: common.SPAN_ID, Op: common.EQ, Val: target}},
		Lim:        5,
	}
	spans, _, err := mini.Store.HandleQuery(query)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	require.Equal(t, "beta", spans[0].Description)
}

// spec.md §8 scenario 5: LE SPAN_ID ...02, lim=100 -> [...02, ...01],
// scanning the primary family directly in descending order.
func TestQueryLeSpanIdDescending(t *testing.T) {
	for _, numShards := range []int{1, 3} {
		mini := setupQueryStore(t, numShards)
		query := &common.Query{
			Predicates: []common.Predicate{{Field: common.SPAN_ID, Op: common.LE,
				Val: "00000000000000000000000000000002"}},
			Lim: 100,
		}
		spans, _, err := mini.Store.HandleQuery(query)
		require.NoError(t, err)
		require.Equal(t, []string{
			"00000000000000000000000000000002",
			"00000000000000000000000000000001",
		}, idsOf(spans))
	}
}

func TestQueryGtSpanIdAscending(t *testing.T) {
	mini := setupQueryStore(t, 2)
	query := &common.Query{
		Predicates: []common.Predicate{{Field: common.SPAN_ID, Op: common.GT,
			Val: "00000000000000000000000000000001"}},
		Lim: 100,
	}
	spans, _, err := mini.Store.HandleQuery(query)
	require.NoError(t, err)
	require.Equal(t, []string{
		"00000000000000000000000000000002",
		"00000000000000000000000000000003",
	}, idsOf(spans))
}

func TestQueryDescriptionContains(t *testing.T) {
	mini := setupQueryStore(t, 2)
	query := &common.Query{
		Predicates: []common.Predicate{{Field: common.DESCRIPTION, Op: common.CONTAINS, Val: "et"}},
		Lim:        5,
	}
	spans, _, err := mini.Store.HandleQuery(query)
	require.NoError(t, err)
	require.Equal(t, []string{"beta"}, descriptionsOf(spans))
}

func TestQueryContinuationToken(t *testing.T) {
	mini := setupQueryStore(t, 2)
	query := &common.Query{
		Predicates: []common.Predicate{{Field: common.BEGIN_TIME, Op: common.GE, Val: "0"}},
		Lim:        1,
	}
	first, _, err := mini.Store.HandleQuery(query)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, "alpha", first[0].Description)

	query.Prev = first[0]
	second, _, err := mini.Store.HandleQuery(query)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, "beta", second[0].Description)
}

func TestQueryRejectsContainsOnNonDescription(t *testing.T) {
	mini := setupQueryStore(t, 1)
	query := &common.Query{
		Predicates: []common.Predicate{{Field: common.TRACER_ID, Op: common.CONTAINS, Val: "t"}},
	}
	_, _, err := mini.Store.HandleQuery(query)
	require.Error(t, err)
}

func TestQueryBadSpanIdIsRejected(t *testing.T) {
	mini := setupQueryStore(t, 1)
	query := &common.Query{
		Predicates: []common.Predicate{{Field: common.SPAN_ID, Op: common.EQ, Val: "not-hex"}},
	}
	_, _, err := mini.Store.HandleQuery(query)
	require.Error(t, err)
}
