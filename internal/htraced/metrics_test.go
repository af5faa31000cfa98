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
	"github.com/apache/htrace-htraced/internal/conf"
)

func TestCircBufU32EmptyIsZero(t *testing.T) {
	cbuf := NewCircBufU32(3)
	require.Equal(t, uint32(0), cbuf.Max())
	require.Equal(t, uint32(0), cbuf.Average())
}

func TestCircBufU32WrapsAndAverages(t *testing.T) {
	cbuf := NewCircBufU32(3)
	for _, v := range []uint32{2, 10, 12, 14, 1} {
		cbuf.Append(v)
	}
	// After wrapping, the buffer holds {14, 1, 12}: the last three appends.
	require.Equal(t, uint32(14), cbuf.Max())
	require.Equal(t, uint32(9), cbuf.Average())
}

func TestCircBufU32PartiallyFilled(t *testing.T) {
	cbuf := NewCircBufU32(5)
	cbuf.Append(4)
	cbuf.Append(6)
	require.Equal(t, uint32(6), cbuf.Max())
	require.Equal(t, uint32(5), cbuf.Average())
}

func TestMetricsLruEvictsLeastRecentlyUpdated(t *testing.T) {
	lru := newMetricsLRU()
	lru.touch("a").Add(&ServerSpanMetrics{Written: 1})
	lru.touch("b").Add(&ServerSpanMetrics{Written: 1})
	lru.touch("c").Add(&ServerSpanMetrics{Written: 1})
	// Touching "a" again makes "b" the least-recently-updated.
	lru.touch("a").Add(&ServerSpanMetrics{Written: 1})

	lg := common.NewLogger("test", testConfig())
	defer lg.Close()
	lru.prune(2, lg)

	require.Equal(t, 2, lru.len())
	snap := lru.snapshot()
	_, hasA := snap["a"]
	_, hasB := snap["b"]
	_, hasC := snap["c"]
	require.True(t, hasA)
	require.False(t, hasB, "b should have been evicted as least-recently-updated")
	require.True(t, hasC)
}

func testConfig() *conf.Config {
	bld := conf.Builder{Values: conf.TEST_VALUES(), Defaults: conf.DEFAULTS}
	cnf, err := bld.Build()
	if err != nil {
		panic(err)
	}
	return cnf
}
