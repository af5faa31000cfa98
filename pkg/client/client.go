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

// Package client is a Go client for htraced, speaking either REST or the
// binary HRPC protocol.  Out-of-core per SPEC_FULL.md: this is what
// cmd/htrace and any external Go program uses to talk to a running daemon.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/apache/htrace-htraced/internal/common"
)

// RestClient talks htraced's JSON-over-HTTP protocol.
type RestClient struct {
	baseURL string
	http    *http.Client
}

func NewRestClient(baseURL string) *RestClient {
	return &RestClient{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{}}
}

func (c *RestClient) url(path string) string {
	return c.baseURL + path
}

func (c *RestClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("htraced returned %s: %s", resp.Status, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *RestClient) GetServerVersion() (*common.ServerVersion, error) {
	req, err := http.NewRequest("GET", c.url("/server/info"), nil)
	if err != nil {
		return nil, err
	}
	v := &common.ServerVersion{}
	if err := c.do(req, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *RestClient) GetServerStats() (*common.ServerStats, error) {
	req, err := http.NewRequest("GET", c.url("/server/stats"), nil)
	if err != nil {
		return nil, err
	}
	stats := &common.ServerStats{}
	if err := c.do(req, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *RestClient) GetServerDebugInfo() (*common.ServerDebugInfo, error) {
	req, err := http.NewRequest("GET", c.url("/server/debug"), nil)
	if err != nil {
		return nil, err
	}
	info := &common.ServerDebugInfo{}
	if err := c.do(req, info); err != nil {
		return nil, err
	}
	return info, nil
}

// Returns (nil, nil) if the span doesn't exist.
func (c *RestClient) FindSpan(id common.SpanId) (*common.Span, error) {
	req, err := http.NewRequest("GET", c.url("/span/"+id.String()), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("htraced returned %s: %s", resp.Status, string(body))
	}
	span := &common.Span{}
	if err := json.NewDecoder(resp.Body).Decode(span); err != nil {
		return nil, err
	}
	return span, nil
}

func (c *RestClient) FindChildren(id common.SpanId, lim int) ([]common.SpanId, error) {
	path := fmt.Sprintf("/span/%s/children?lim=%d", id.String(), lim)
	req, err := http.NewRequest("GET", c.url(path), nil)
	if err != nil {
		return nil, err
	}
	var children []common.SpanId
	if err := c.do(req, &children); err != nil {
		return nil, err
	}
	return children, nil
}

// WriteSpans posts spans as newline-delimited JSON. defaultTrid fills in
// the tracer id for any span that omits one.
func (c *RestClient) WriteSpans(spans []*common.Span, defaultTrid string) error {
	var buf bytes.Buffer
	for _, span := range spans {
		b, err := json.Marshal(span)
		if err != nil {
			return err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	req, err := http.NewRequest("POST", c.url("/writeSpans"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if defaultTrid != "" {
		req.Header.Set("htrace-trid", defaultTrid)
	}
	return c.do(req, nil)
}

func (c *RestClient) Query(query *common.Query) ([]*common.Span, error) {
	qbytes, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	path := "/query?query=" + url.QueryEscape(string(qbytes))
	req, err := http.NewRequest("POST", c.url(path), nil)
	if err != nil {
		return nil, err
	}
	var spans []*common.Span
	if err := c.do(req, &spans); err != nil {
		return nil, err
	}
	return spans, nil
}

// A convenience helper for CLI tools building a single equality predicate.
func EqPredicate(field common.Field, val string) common.Predicate {
	return common.Predicate{Op: common.EQ, Field: field, Val: val}
}
