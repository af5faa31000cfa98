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
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apache/htrace-htraced/internal/common"
	"github.com/apache/htrace-htraced/pkg/client"
)

func TestRestWriteAndFindSpanRoundTrip(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 1}).Build()
	require.NoError(t, err)
	defer mini.Close()

	c := client.NewRestClient(mini.BaseURL())
	spans := threeTestSpans()
	require.NoError(t, c.WriteSpans(spans, "deflt"))
	mini.Store.WrittenSpans.Waits(int64(len(spans)))

	found, err := c.FindSpan(spans[1].Id)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "beta", found.Description)
}

func TestRestFindSpanMissingReturns204(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 1}).Build()
	require.NoError(t, err)
	defer mini.Close()

	c := client.NewRestClient(mini.BaseURL())
	missing := make(common.SpanId, common.SPAN_ID_SIZE)
	missing[15] = 0xaa
	found, err := c.FindSpan(missing)
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestRestQueryRoundTrip(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 2}).Build()
	require.NoError(t, err)
	defer mini.Close()

	c := client.NewRestClient(mini.BaseURL())
	spans := threeTestSpans()
	require.NoError(t, c.WriteSpans(spans, "deflt"))
	mini.Store.WrittenSpans.Waits(int64(len(spans)))

	result, err := c.Query(&common.Query{
		Predicates: []common.Predicate{{Field: common.BEGIN_TIME, Op: common.GE, Val: "125"}},
		Lim:        5,
	})
	require.NoError(t, err)
	require.Len(t, result, 2)
}

func TestRestServerInfoAndStats(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 1}).Build()
	require.NoError(t, err)
	defer mini.Close()

	c := client.NewRestClient(mini.BaseURL())
	v, err := c.GetServerVersion()
	require.NoError(t, err)
	require.NotNil(t, v)

	spans := threeTestSpans()
	require.NoError(t, c.WriteSpans(spans, "deflt"))
	mini.Store.WrittenSpans.Waits(int64(len(spans)))

	stats, err := c.GetServerStats()
	require.NoError(t, err)
	require.Equal(t, uint64(len(spans)), stats.IngestedSpans)
}

func TestRestBadQueryReturns400(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 1}).Build()
	require.NoError(t, err)
	defer mini.Close()

	httpClient := mini.HttpClient()
	resp, err := httpClient.Post(mini.BaseURL()+"/query?query="+
		"%7B%22pred%22%3A%5B%7B%22op%22%3A%22CONTAINS%22%2C%22field%22%3A%22TRACER_ID%22%2C%22val%22%3A%22x%22%7D%5D%7D",
		"application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRestAddrMatchesBaseURL(t *testing.T) {
	mini, err := (&MiniHTracedBuilder{NumDataDirs: 1}).Build()
	require.NoError(t, err)
	defer mini.Close()

	require.True(t, strings.HasSuffix(mini.BaseURL(), mini.RestAddr()))
}
