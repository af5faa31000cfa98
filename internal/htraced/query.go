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
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/htrace-htraced/internal/common"
)

// The largest possible span id; used as the id component of the upper
// boundary key for a given index value.
var maxSpanId = func() common.SpanId {
	id := make(common.SpanId, common.SPAN_ID_SIZE)
	for i := range id {
		id[i] = 0xff
	}
	return id
}()

// The chosen driving predicate for a query, plus the index family and scan
// direction it implies.  See spec.md §4.F for the selection priority.
type queryPlan struct {
	predIdx    int  // index into the query's Predicates, or -1 for the B fallback scan
	field      common.Field
	op         common.Op
	prefix     byte
	reverse    bool
	primaryEQ  bool // true: field==SPAN_ID, op==EQ; served by a single Get, not a scan
	primaryId  common.SpanId
}

func planQuery(predicates []common.Predicate) (*queryPlan, error) {
	for i, p := range predicates {
		if p.Field != common.SPAN_ID {
			continue
		}
		id, err := common.SpanIdFromString(p.Val)
		if err != nil {
			return nil, fmt.Errorf("bad-query: invalid span id %q: %s", p.Val, err.Error())
		}
		if p.Op == common.EQ {
			// A single Get against the primary family, not a scan.
			return &queryPlan{predIdx: i, field: p.Field, op: p.Op, prefix: PRIMARY_PREFIX,
				primaryEQ: true, primaryId: id}, nil
		}
		// LT/LE/GT/GE on SPAN_ID scan the primary family directly, since span
		// id is itself the primary family's sort key; reversed for LT/LE.
		return &queryPlan{predIdx: i, field: p.Field, op: p.Op, prefix: PRIMARY_PREFIX,
			reverse: p.Op.IsDescending()}, nil
	}
	for i, p := range predicates {
		if p.Field == common.BEGIN_TIME || p.Field == common.END_TIME || p.Field == common.DURATION {
			return &queryPlan{predIdx: i, field: p.Field, op: p.Op,
				prefix: indexPrefixForField(p.Field), reverse: p.Op.IsDescending()}, nil
		}
	}
	for i, p := range predicates {
		if (p.Field == common.DESCRIPTION || p.Field == common.TRACER_ID) && p.Op != common.CONTAINS {
			return &queryPlan{predIdx: i, field: p.Field, op: p.Op,
				prefix: indexPrefixForField(p.Field), reverse: p.Op.IsDescending()}, nil
		}
	}
	// Fallback: scan B (begin time) forward, with every predicate (including
	// any lone CONTAINS) applied purely as a post-filter.
	return &queryPlan{predIdx: -1, field: common.BEGIN_TIME, op: common.GE, prefix: BEGIN_PREFIX}, nil
}

func validateQuery(query *common.Query) error {
	if query.Lim < 0 {
		return fmt.Errorf("bad-query: lim must be non-negative")
	}
	for _, p := range query.Predicates {
		if p.Op == common.CONTAINS && p.Field != common.DESCRIPTION {
			return fmt.Errorf("bad-query: CONTAINS is only supported on DESCRIPTION")
		}
		if p.Field.IsNumeric() {
			if _, err := strconv.ParseInt(p.Val, 10, 64); err != nil {
				return fmt.Errorf("bad-query: invalid numeric value %q for field %s",
					p.Val, p.Field.String())
			}
		}
		if p.Field == common.SPAN_ID {
			if _, err := common.SpanIdFromString(p.Val); err != nil {
				return fmt.Errorf("bad-query: invalid span id %q", p.Val)
			}
		}
	}
	return nil
}

func evaluatePredicate(span *common.Span, p *common.Predicate) (bool, error) {
	switch p.Field {
	case common.SPAN_ID:
		id, err := common.SpanIdFromString(p.Val)
		if err != nil {
			return false, err
		}
		return compareResult(span.Id.Compare(id), p.Op), nil
	case common.BEGIN_TIME:
		v, err := strconv.ParseInt(p.Val, 10, 64)
		if err != nil {
			return false, err
		}
		return compareResult(int64Compare(span.Begin, v), p.Op), nil
	case common.END_TIME:
		v, err := strconv.ParseInt(p.Val, 10, 64)
		if err != nil {
			return false, err
		}
		return compareResult(int64Compare(span.End, v), p.Op), nil
	case common.DURATION:
		v, err := strconv.ParseInt(p.Val, 10, 64)
		if err != nil {
			return false, err
		}
		return compareResult(int64Compare(span.Duration(), v), p.Op), nil
	case common.DESCRIPTION:
		if p.Op == common.CONTAINS {
			return strings.Contains(span.Description, p.Val), nil
		}
		return compareResult(strings.Compare(span.Description, p.Val), p.Op), nil
	case common.TRACER_ID:
		return compareResult(strings.Compare(span.TracerId, p.Val), p.Op), nil
	default:
		return false, fmt.Errorf("bad-query: unknown field %s", p.Field.String())
	}
}

func int64Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareResult(cmp int, op common.Op) bool {
	switch op {
	case common.EQ:
		return cmp == 0
	case common.LT:
		return cmp < 0
	case common.LE:
		return cmp <= 0
	case common.GT:
		return cmp > 0
	case common.GE:
		return cmp >= 0
	default:
		return false
	}
}

func satisfiesAll(span *common.Span, predicates []common.Predicate) bool {
	for i := range predicates {
		ok, err := evaluatePredicate(span, &predicates[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func numericFieldValue(span *common.Span, field common.Field) int64 {
	switch field {
	case common.BEGIN_TIME:
		return span.Begin
	case common.END_TIME:
		return span.End
	case common.DURATION:
		return span.Duration()
	}
	return 0
}

func stringFieldValue(span *common.Span, field common.Field) string {
	switch field {
	case common.DESCRIPTION:
		return span.Description
	case common.TRACER_ID:
		return span.TracerId
	}
	return ""
}

func keyForSpanInFamily(prefix byte, field common.Field, span *common.Span) []byte {
	if field == common.SPAN_ID {
		return append([]byte{prefix}, span.Id...)
	}
	if field.IsNumeric() {
		return numericKey(prefix, numericFieldValue(span, field), span.Id)
	}
	return stringKey(prefix, stringFieldValue(span, field), span.Id)
}

// boundaryId is ignored for field == SPAN_ID: the primary family's sort key
// is the span id itself, so val alone (not a separate value+id pair)
// determines the boundary.
func boundaryKey(prefix byte, field common.Field, val string, boundaryId common.SpanId) []byte {
	if field == common.SPAN_ID {
		id, _ := common.SpanIdFromString(val)
		return append([]byte{prefix}, id...)
	}
	if field.IsNumeric() {
		v, _ := strconv.ParseInt(val, 10, 64)
		return numericKey(prefix, v, boundaryId)
	}
	return stringKey(prefix, val, boundaryId)
}

// One shard's view of a query: a pull-based iterator yielding candidate
// spans in scan order, already filtered.  Tracks how many primary records
// it had to examine, which HandleQuery reports back for pagination tests.
type source struct {
	shd     *shard
	plan    *queryPlan
	query   *common.Query
	scanned int
	done    bool

	primaryDone bool
	it          interface {
		Valid() bool
		Key() []byte
		Next()
		Prev()
		Close()
		Seek([]byte)
		SeekToLast()
	}
}

func createSource(shd *shard, query *common.Query, plan *queryPlan) *source {
	src := &source{shd: shd, plan: plan, query: query}
	if plan.primaryEQ {
		return src
	}
	it := shd.newIterator()
	var startKey []byte
	if query.Prev != nil {
		startKey = keyForSpanInFamily(plan.prefix, plan.field, query.Prev)
		it.Seek(startKey)
		if plan.reverse {
			if !it.Valid() {
				it.SeekToLast()
			} else if bytes.Compare(it.Key(), startKey) >= 0 {
				it.Prev()
			}
		} else {
			if it.Valid() && bytes.Equal(it.Key(), startKey) {
				it.Next()
			}
		}
	} else if plan.predIdx >= 0 {
		if plan.reverse {
			startKey = boundaryKey(plan.prefix, plan.field, query.Predicates[plan.predIdx].Val, maxSpanId)
			it.Seek(startKey)
			if !it.Valid() {
				it.SeekToLast()
			} else if bytes.Compare(it.Key(), startKey) > 0 {
				it.Prev()
			}
		} else {
			startKey = boundaryKey(plan.prefix, plan.field, query.Predicates[plan.predIdx].Val, common.INVALID_SPAN_ID)
			it.Seek(startKey)
		}
	} else {
		it.Seek([]byte{plan.prefix})
	}
	src.it = it
	return src
}

// Returns the next matching candidate's raw index key (used only for the
// cross-shard merge comparison) and the decoded span, or (nil, nil, nil)
// when the source is exhausted.
func (src *source) next() ([]byte, *common.Span, error) {
	if src.plan.primaryEQ {
		if src.primaryDone {
			return nil, nil, nil
		}
		src.primaryDone = true
		src.scanned++
		val, err := src.shd.get(primaryKey(src.plan.primaryId))
		if err != nil {
			return nil, nil, err
		}
		if val == nil {
			return nil, nil, nil
		}
		span, err := common.DecodeSpan(val)
		if err != nil {
			return nil, nil, err
		}
		if !satisfiesAll(span, src.query.Predicates) {
			return nil, nil, nil
		}
		return primaryKey(span.Id), span, nil
	}
	for src.it.Valid() {
		key := append([]byte{}, src.it.Key()...)
		if len(key) == 0 || key[0] != src.plan.prefix {
			return nil, nil, nil
		}
		id := idFromIndexKey(key)
		src.scanned++
		if src.plan.reverse {
			src.it.Prev()
		} else {
			src.it.Next()
		}
		val, err := src.shd.get(primaryKey(id))
		if err != nil {
			return nil, nil, err
		}
		if val == nil {
			continue
		}
		span, err := common.DecodeSpan(val)
		if err != nil {
			return nil, nil, err
		}
		if !satisfiesAll(span, src.query.Predicates) {
			continue
		}
		return key, span, nil
	}
	return nil, nil, nil
}

func (src *source) close() {
	if src.it != nil {
		src.it.Close()
	}
}

// Runs query against every shard in parallel and merges the results in
// global scan order.  Returns the matching spans (bounded by query.Lim)
// and, for each shard, how many primary records it had to examine.
func (store *DataStore) HandleQuery(query *common.Query) ([]*common.Span, []int, error) {
	if err := validateQuery(query); err != nil {
		return nil, nil, err
	}
	plan, err := planQuery(query.Predicates)
	if err != nil {
		return nil, nil, err
	}

	sources := make([]*source, len(store.shards))
	peekedKey := make([][]byte, len(store.shards))
	peekedSpan := make([]*common.Span, len(store.shards))
	exhausted := make([]bool, len(store.shards))

	defer func() {
		for _, src := range sources {
			if src != nil {
				src.close()
			}
		}
	}()

	type shardResult struct {
		idx    int
		src    *source
		key    []byte
		span   *common.Span
		err    error
	}
	results := make(chan shardResult, len(store.shards))
	for i, shd := range store.shards {
		go func(i int, shd *shard) {
			src := createSource(shd, query, plan)
			key, span, err := src.next()
			results <- shardResult{idx: i, src: src, key: key, span: span, err: err}
		}(i, shd)
	}
	for j := 0; j < len(store.shards); j++ {
		r := <-results
		if r.err != nil {
			return nil, nil, r.err
		}
		sources[r.idx] = r.src
		peekedKey[r.idx] = r.key
		peekedSpan[r.idx] = r.span
		exhausted[r.idx] = r.span == nil
	}

	var out []*common.Span
	for query.Lim <= 0 || len(out) < query.Lim {
		best := -1
		for i := range sources {
			if exhausted[i] {
				continue
			}
			if best == -1 {
				best = i
				continue
			}
			cmp := bytes.Compare(peekedKey[i], peekedKey[best])
			if (plan.reverse && cmp > 0) || (!plan.reverse && cmp < 0) {
				best = i
			}
		}
		if best == -1 {
			break
		}
		out = append(out, peekedSpan[best])
		key, span, err := sources[best].next()
		if err != nil {
			return nil, nil, err
		}
		peekedKey[best] = key
		peekedSpan[best] = span
		exhausted[best] = span == nil
	}

	scanned := make([]int, len(sources))
	for i, src := range sources {
		scanned[i] = src.scanned
	}
	return out, scanned, nil
}
