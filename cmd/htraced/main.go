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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/apache/htrace-htraced/internal/common"
	"github.com/apache/htrace-htraced/internal/conf"
	"github.com/apache/htrace-htraced/internal/htraced"
	"github.com/apache/htrace-htraced/internal/observability"
)

var (
	app         = kingpin.New("htraced", "The HTrace data collection daemon.")
	versionCmd  = app.Command("version", "Print the htraced version and exit.")
	runCmd      = app.Command("run", "Run htraced (the default if no command is given).").Default()
)

// Sent once as a single JSON line to HTRACE_STARTUP_NOTIFICATION_ADDRESS
// right after both listeners are bound, so that test harnesses launching
// htraced as a subprocess can learn its ephemeral ports without polling.
type startupNotification struct {
	HttpAddr  string `json:"HttpAddr"`
	HrpcAddr  string `json:"HrpcAddr"`
	ProcessId int    `json:"ProcessId"`
}

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	if cmd == versionCmd.FullCommand() {
		fmt.Printf("htraced %s (git %s)\n", htraced.ReleaseVersion, htraced.GitVersion)
		return
	}
	run()
}

func run() {
	cnf, dlog := conf.LoadApplicationConfig()

	// Bind both listeners before doing anything else that could fail, so a
	// port conflict is reported immediately rather than after a slow
	// datastore load.
	webListener, err := net.Listen("tcp", cnf.Get(conf.HTRACE_WEB_ADDRESS))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind web address %s: %s\n",
			cnf.Get(conf.HTRACE_WEB_ADDRESS), err.Error())
		os.Exit(1)
	}
	hrpcListener, err := net.Listen("tcp", cnf.Get(conf.HTRACE_HRPC_ADDRESS))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind HRPC address %s: %s\n",
			cnf.Get(conf.HTRACE_HRPC_ADDRESS), err.Error())
		os.Exit(1)
	}

	lg := common.NewLogger("main", cnf)
	defer lg.Close()
	scanner := bufio.NewScanner(dlog)
	for scanner.Scan() {
		lg.Infof("%s\n", scanner.Text())
	}
	common.InstallSignalHandlers(cnf)
	runtime.GOMAXPROCS(runtime.NumCPU())

	store, err := htraced.CreateDataStore(cnf, nil)
	if err != nil {
		lg.Errorf("Failed to create data store: %s\n", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	otelBridge, err := observability.NewBridge(store)
	if err != nil {
		lg.Warnf("Failed to start OpenTelemetry bridge: %s\n", err.Error())
	} else {
		defer otelBridge.Shutdown(context.Background())
	}

	restSrv := htraced.NewRestServer(cnf, store)
	httpSrv := &http.Server{
		Handler:      restSrv.Handler(),
		ReadTimeout:  time.Millisecond * time.Duration(cnf.GetInt64(conf.HTRACE_REST_READ_TIMEOUT_MS)),
		WriteTimeout: time.Millisecond * time.Duration(cnf.GetInt64(conf.HTRACE_REST_WRITE_TIMEOUT_MS)),
	}
	go func() {
		if err := httpSrv.Serve(webListener); err != nil {
			lg.Infof("HTTP server stopped: %s\n", err.Error())
		}
	}()

	hrpcSrv := htraced.NewHrpcServer(cnf, store, common.NewLogger("hrpc", cnf), hrpcListener)
	go hrpcSrv.Run()

	lg.Infof("Started htraced. web=%s hrpc=%s\n",
		webListener.Addr().String(), hrpcListener.Addr().String())

	notifyStartup(cnf, lg, webListener.Addr().String(), hrpcListener.Addr().String())

	select {
	case <-store.FatalError():
		lg.Errorf("Fatal datastore error; shutting down.\n")
		os.Exit(1)
	}
}

// Failure to deliver the startup notification is fatal: a test harness or
// supervisor waiting on it would otherwise hang or misreport the daemon as
// unreachable, matching the teacher's sendStartupNotification/os.Exit(1).
func notifyStartup(cnf *conf.Config, lg *common.Logger, httpAddr, hrpcAddr string) {
	addr := cnf.Get(conf.HTRACE_STARTUP_NOTIFICATION_ADDRESS)
	if addr == "" {
		return
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		lg.Errorf("Failed to connect to startup notification address %s: %s\n",
			addr, err.Error())
		os.Exit(1)
	}
	defer conn.Close()
	notif := &startupNotification{HttpAddr: httpAddr, HrpcAddr: hrpcAddr, ProcessId: os.Getpid()}
	if err := json.NewEncoder(conn).Encode(notif); err != nil {
		lg.Errorf("Failed to send startup notification: %s\n", err.Error())
		os.Exit(1)
	}
}

