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

package common

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// A 128-bit span identifier.  SpanIds are opaque: the only operations that
// matter are equality, total order, and stable hashing.
type SpanId []byte

const SPAN_ID_SIZE = 16

// The invalid span id: all zero bytes.  Spans may never be stored under this
// id; it is used as a sentinel by ingestors and by callers who have no
// current span.
var INVALID_SPAN_ID = SpanId(make([]byte, SPAN_ID_SIZE))

func (id SpanId) FindProblem() error {
	if len(id) != SPAN_ID_SIZE {
		return fmt.Errorf("SpanId has invalid length %d; expected %d",
			len(id), SPAN_ID_SIZE)
	}
	return nil
}

func (id SpanId) String() string {
	return hex.EncodeToString(id)
}

func (id SpanId) IsInvalid() bool {
	return bytes.Equal(id, INVALID_SPAN_ID)
}

// Parses a span id from its 32-character lowercase hex form.
func SpanIdFromString(str string) (SpanId, error) {
	if len(str) != SPAN_ID_SIZE*2 {
		return nil, fmt.Errorf("invalid span id length %d; expected %d",
			len(str), SPAN_ID_SIZE*2)
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("invalid span id %s: %s", str, err.Error())
	}
	return SpanId(b), nil
}

func (id SpanId) MarshalJSON() ([]byte, error) {
	if err := id.FindProblem(); err != nil {
		return nil, err
	}
	return []byte(`"` + id.String() + `"`), nil
}

func (id *SpanId) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.New("span id must be a quoted hex string")
	}
	parsed, err := SpanIdFromString(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Compares two span ids lexicographically over their big-endian bytes.
func (id SpanId) Compare(other SpanId) int {
	return bytes.Compare(id, other)
}

func (id SpanId) Equal(other SpanId) bool {
	return bytes.Equal(id, other)
}

// Returns id+1, with carry, wrapping around to INVALID_SPAN_ID on overflow
// of the full 128 bits.
func (id SpanId) Next() SpanId {
	next := make(SpanId, SPAN_ID_SIZE)
	copy(next, id)
	for i := SPAN_ID_SIZE - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

// Returns id-1, with borrow.
func (id SpanId) Prev() SpanId {
	prev := make(SpanId, SPAN_ID_SIZE)
	copy(prev, id)
	for i := SPAN_ID_SIZE - 1; i >= 0; i-- {
		prev[i]--
		if prev[i] != 0xff {
			break
		}
	}
	return prev
}

// A stable, restart-independent hash of a span id, used to assign spans to
// shards.  Built on xxhash rather than the id bytes' own entropy so that
// shard assignment does not depend on upstream id-generation quality.
func (id SpanId) ShardHash() uint64 {
	return xxhash.Sum64(id)
}

type SpanIdSlice []SpanId

func (s SpanIdSlice) Len() int           { return len(s) }
func (s SpanIdSlice) Less(i, j int) bool { return s[i].Compare(s[j]) < 0 }
func (s SpanIdSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Sorts ids and removes duplicates in place, returning the deduped slice.
func dedupSortedSpanIds(ids []SpanId) []SpanId {
	sort.Sort(SpanIdSlice(ids))
	out := ids[:0]
	var prev SpanId
	for i, id := range ids {
		if i == 0 || !id.Equal(prev) {
			out = append(out, id)
		}
		prev = id
	}
	return out
}

// One (time, message) annotation on a span's timeline.
type TimelineAnnotation struct {
	Time int64  `json:"t"`
	Msg  string `json:"m"`
}

// A mapping from info keys to byte-string values, attached to a span.
type TraceInfoMap map[string]string

// The mutable-until-ingestion fields of a span.  Kept as a separate struct,
// embedded into Span, so that the wire/storage codec can address it without
// repeating the field list.
type SpanData struct {
	Begin       int64                `json:"b"`
	End         int64                `json:"e"`
	Description string               `json:"d"`
	TracerId    string               `json:"r"`
	Parents     []SpanId             `json:"p,omitempty"`
	Info        TraceInfoMap         `json:"n,omitempty"`
	Timeline    []TimelineAnnotation `json:"t,omitempty"`
}

// A single unit of traced work.  Immutable after ingestion into a shard.
type Span struct {
	Id SpanId `json:"s"`
	SpanData
}

func (span *Span) Duration() int64 {
	d := span.End - span.Begin
	if d < 0 {
		return 0
	}
	return d
}

// Sorts parents and removes duplicates; called once, at ingestion time.
func (span *Span) NormalizeParents() {
	if len(span.Parents) == 0 {
		return
	}
	span.Parents = dedupSortedSpanIds(span.Parents)
}

func (span *Span) ToJson() []byte {
	jbytes, err := json.Marshal(span)
	if err != nil {
		panic(err)
	}
	return jbytes
}

func (span *Span) String() string {
	return string(span.ToJson())
}

type SpanSlice []*Span

func (s SpanSlice) Len() int      { return len(s) }
func (s SpanSlice) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s SpanSlice) Less(i, j int) bool {
	return s[i].Id.Compare(s[j].Id) < 0
}
