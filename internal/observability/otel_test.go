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

package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// A hand-rolled StatSource, since the real one lives in package htraced and
// importing it here would invert the intended htraced -> observability edge.
type fakeStatSource struct {
	numShards             int
	queueDepth            int64
	ingestedSpans         uint64
	reapedSpans           uint64
	clientDroppedSpans    uint64
	writeLatencyMaxMs     uint32
	writeLatencyAverageMs uint32
	shardBytes            uint64
}

func (f *fakeStatSource) NumShards() int               { return f.numShards }
func (f *fakeStatSource) QueueDepth() int64             { return f.queueDepth }
func (f *fakeStatSource) IngestedSpans() uint64         { return f.ingestedSpans }
func (f *fakeStatSource) ReapedSpans() uint64           { return f.reapedSpans }
func (f *fakeStatSource) ClientDroppedSpans() uint64    { return f.clientDroppedSpans }
func (f *fakeStatSource) WriteLatencyMaxMs() uint32     { return f.writeLatencyMaxMs }
func (f *fakeStatSource) WriteLatencyAverageMs() uint32 { return f.writeLatencyAverageMs }
func (f *fakeStatSource) ShardBytes() uint64            { return f.shardBytes }

func TestBridgeRegistersAndShutsDownCleanly(t *testing.T) {
	source := &fakeStatSource{
		numShards: 3, queueDepth: 5, ingestedSpans: 100, reapedSpans: 2,
		clientDroppedSpans: 1, writeLatencyMaxMs: 40, writeLatencyAverageMs: 10,
	}
	bridge, err := NewBridge(source)
	require.NoError(t, err)
	require.NotNil(t, bridge)
	require.NoError(t, bridge.Shutdown(context.Background()))
}

func TestBridgeRegistersAgainstZeroedSource(t *testing.T) {
	// Construction must not depend on any gauge having a nonzero value yet;
	// the callback only runs when something actually collects.
	bridge, err := NewBridge(&fakeStatSource{})
	require.NoError(t, err)
	require.NoError(t, bridge.Shutdown(context.Background()))
}
