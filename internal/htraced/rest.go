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
	"bufio"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/apache/htrace-htraced/internal/common"
	"github.com/apache/htrace-htraced/internal/conf"
	"github.com/gorilla/mux"
)

// Filled in at link time via -ldflags; "unknown" otherwise.
var (
	ReleaseVersion = "unknown"
	GitVersion     = "unknown"
)

const DEFAULT_CHILDREN_LIM = 20

// The REST boundary adapter (part of Component I). Every handler talks only
// to the DataStore; none of this package's internals leak past this file.
type RestServer struct {
	store  *DataStore
	lg     *common.Logger
	router *mux.Router
}

func NewRestServer(cnf *conf.Config, store *DataStore) *RestServer {
	rs := &RestServer{store: store, lg: common.NewLogger("rest", cnf)}
	r := mux.NewRouter()
	r.HandleFunc("/server/info", rs.infoHandler).Methods("GET")
	r.HandleFunc("/server/stats", rs.statsHandler).Methods("GET")
	r.HandleFunc("/server/debug", rs.debugHandler).Methods("GET")
	r.HandleFunc("/span/{id}", rs.getSpanHandler).Methods("GET")
	r.HandleFunc("/span/{id}/children", rs.childrenHandler).Methods("GET")
	r.HandleFunc("/writeSpans", rs.writeSpansHandler).Methods("POST")
	r.HandleFunc("/query", rs.queryHandler).Methods("POST")
	rs.router = r
	return rs
}

func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Error bodies quote their message with " replaced by ' so the response
// body never needs its own JSON escaping.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := strings.Replace(err.Error(), "\"", "'", -1)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJson(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(err)
	}
}

func statusForError(err error) int {
	msg := err.Error()
	if strings.HasPrefix(msg, "bad-query") || strings.HasPrefix(msg, "bad-span") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (rs *RestServer) infoHandler(w http.ResponseWriter, r *http.Request) {
	writeJson(w, &common.ServerVersion{ReleaseVersion: ReleaseVersion, GitVersion: GitVersion})
}

func (rs *RestServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJson(w, rs.store.ServerStats())
}

func (rs *RestServer) debugHandler(w http.ResponseWriter, r *http.Request) {
	writeJson(w, &common.ServerDebugInfo{
		StackTraces: common.GetStackTraces(),
		GCStats:     common.GetGCStats(),
	})
}

func (rs *RestServer) getSpanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := common.SpanIdFromString(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	span, err := rs.store.FindSpan(id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if span == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJson(w, span)
}

func (rs *RestServer) childrenHandler(w http.ResponseWriter, r *http.Request) {
	id, err := common.SpanIdFromString(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lim := DEFAULT_CHILDREN_LIM
	if limStr := r.URL.Query().Get("lim"); limStr != "" {
		lim, err = strconv.Atoi(limStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	children, err := rs.store.FindChildren(id, int32(lim))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJson(w, children)
}

// The body is newline-delimited JSON, one Span per line; the htrace-trid
// header supplies the default tracer id for spans that omit one.
func (rs *RestServer) writeSpansHandler(w http.ResponseWriter, r *http.Request) {
	defaultTrid := r.Header.Get("htrace-trid")
	var spans []*common.Span
	scanner := bufio.NewScanner(r.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		span := &common.Span{}
		if err := json.Unmarshal([]byte(line), span); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		spans = append(spans, span)
	}
	if err := scanner.Err(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	written, bad := rs.store.WriteSpans(r.RemoteAddr, defaultTrid, spans)
	rs.lg.Debugf("writeSpans from %s: %d written, %d bad\n", r.RemoteAddr, written, bad)
	writeJson(w, &common.WriteSpansResp{})
}

func (rs *RestServer) queryHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("query")
	if raw == "" {
		var body struct {
			Query common.Query `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rs.runQuery(w, &body.Query)
		return
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	query := &common.Query{}
	if err := json.Unmarshal([]byte(decoded), query); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rs.runQuery(w, query)
}

func (rs *RestServer) runQuery(w http.ResponseWriter, query *common.Query) {
	spans, _, err := rs.store.HandleQuery(query)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJson(w, spans)
}
