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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apache/htrace-htraced/internal/common"
	"github.com/apache/htrace-htraced/internal/conf"
	"github.com/apache/htrace-htraced/pkg/client"
)

func TestHrpcWriteSpansAndQueryRoundTrip(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 2, WithHrpc: true}).Build()
	require.NoError(t, err)
	defer mini.Close()

	c, err := client.DialHrpc(mini.HrpcAddr())
	require.NoError(t, err)
	defer c.Close()

	spans := threeTestSpans()
	require.NoError(t, c.WriteSpans(spans, "deflt"))
	mini.Store.WrittenSpans.Waits(int64(len(spans)))

	results, err := c.Query(&common.Query{
		Predicates: []common.Predicate{{Field: common.BEGIN_TIME, Op: common.GE, Val: "125"}},
		Lim:        5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestHrpcGetServerVersion(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 1, WithHrpc: true}).Build()
	require.NoError(t, err)
	defer mini.Close()

	c, err := client.DialHrpc(mini.HrpcAddr())
	require.NoError(t, err)
	defer c.Close()

	v, err := c.GetServerVersion()
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestHrpcGetServerDebugInfo(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 1, WithHrpc: true}).Build()
	require.NoError(t, err)
	defer mini.Close()

	c, err := client.DialHrpc(mini.HrpcAddr())
	require.NoError(t, err)
	defer c.Close()

	info, err := c.GetServerDebugInfo()
	require.NoError(t, err)
	require.NotEmpty(t, info.GCStats)
}

// A client that connects but never sends a request header must be dropped
// once the configured HRPC I/O timeout elapses, rather than held open
// forever.
func TestHrpcIdleConnectionHitsIoTimeout(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{
		NumDataDirs: 1,
		WithHrpc:    true,
		Overrides:   map[string]string{conf.HTRACE_HRPC_IO_TIMEOUT_MS: "50"},
	}).Build()
	require.NoError(t, err)
	defer mini.Close()

	conn, err := net.Dial("tcp", mini.HrpcAddr())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	// The server closes the connection once its own read deadline expires
	// without a request header arriving.
	require.Error(t, err)
}

func TestHrpcQueryErrorSurfacesToClient(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 1, WithHrpc: true}).Build()
	require.NoError(t, err)
	defer mini.Close()

	c, err := client.DialHrpc(mini.HrpcAddr())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Query(&common.Query{
		Predicates: []common.Predicate{{Field: common.TRACER_ID, Op: common.CONTAINS, Val: "t"}},
	})
	require.Error(t, err)
}
