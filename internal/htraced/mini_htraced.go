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
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/apache/htrace-htraced/internal/common"
	"github.com/apache/htrace-htraced/internal/conf"
)

// MiniHTraced runs a real DataStore plus real REST (and optionally HRPC)
// listeners against temp-directory shards, for use by tests that want to
// exercise the whole stack without a subprocess.
type MiniHTraced struct {
	Store      *DataStore
	Cnf        *conf.Config
	httpServer *httptest.Server
	hrpcSrv    *HrpcServer
	dataDirs   []string
}

type MiniHTracedBuilder struct {
	NumDataDirs int
	WithHrpc    bool
	Overrides   map[string]string
}

func (b *MiniHTracedBuilder) Build() (*MiniHTraced, error) {
	numDirs := b.NumDataDirs
	if numDirs < 1 {
		numDirs = 1
	}
	var dataDirs []string
	for i := 0; i < numDirs; i++ {
		dir, err := os.MkdirTemp("", fmt.Sprintf("mini_htraced_shard_%d_", i))
		if err != nil {
			return nil, err
		}
		dataDirs = append(dataDirs, dir)
	}
	values := make(map[string]string)
	for k, v := range conf.TEST_VALUES() {
		values[k] = v
	}
	dirList := dataDirs[0]
	for _, d := range dataDirs[1:] {
		dirList += conf.PATH_LIST_SEP + d
	}
	values[conf.HTRACE_DATA_STORE_DIRECTORIES] = dirList
	for k, v := range b.Overrides {
		values[k] = v
	}
	bld := conf.Builder{Values: values, Defaults: conf.DEFAULTS}
	cnf, err := bld.Build()
	if err != nil {
		removeAll(dataDirs)
		return nil, err
	}

	store, err := CreateDataStore(cnf, nil)
	if err != nil {
		removeAll(dataDirs)
		return nil, err
	}

	mini := &MiniHTraced{Store: store, Cnf: cnf, dataDirs: dataDirs}
	restSrv := NewRestServer(cnf, store)
	mini.httpServer = httptest.NewServer(restSrv.Handler())

	if b.WithHrpc {
		listener, err := net.Listen("tcp", ":0")
		if err != nil {
			mini.Close()
			return nil, err
		}
		mini.hrpcSrv = NewHrpcServer(cnf, store, common.NewLogger("hrpc-test", cnf), listener)
		go mini.hrpcSrv.Run()
	}
	return mini, nil
}

func (m *MiniHTraced) RestAddr() string {
	return m.httpServer.Listener.Addr().String()
}

func (m *MiniHTraced) HrpcAddr() string {
	if m.hrpcSrv == nil {
		return ""
	}
	return m.hrpcSrv.listener.Addr().String()
}

func (m *MiniHTraced) HttpClient() *http.Client {
	return m.httpServer.Client()
}

func (m *MiniHTraced) BaseURL() string {
	return m.httpServer.URL
}

func (m *MiniHTraced) Close() {
	if m.httpServer != nil {
		m.httpServer.Close()
	}
	if m.hrpcSrv != nil {
		m.hrpcSrv.Close()
	}
	if m.Store != nil {
		m.Store.Close()
	}
	removeAll(m.dataDirs)
}

func removeAll(dirs []string) {
	for _, d := range dirs {
		os.RemoveAll(d)
	}
}
