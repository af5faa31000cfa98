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
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/apache/htrace-htraced/internal/conf"
)

var fatalSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGABRT,
	syscall.SIGALRM,
	syscall.SIGBUS,
	syscall.SIGFPE,
	syscall.SIGILL,
	syscall.SIGSEGV,
	syscall.SIGTERM,
}

// Installs handlers which log and exit on the usual fatal signals, and dump
// goroutine stacks plus GC stats on SIGQUIT without exiting.
func InstallSignalHandlers(cnf *conf.Config) {
	lg := NewLogger("signal", cnf)
	fatalCh := make(chan os.Signal, 1)
	signal.Notify(fatalCh, fatalSignals...)
	go func() {
		for sig := range fatalCh {
			lg.Errorf("Received fatal signal %s. Exiting.\n", sig.String())
			os.Exit(1)
		}
	}()
	quitCh := make(chan os.Signal, 1)
	signal.Notify(quitCh, syscall.SIGQUIT)
	go func() {
		for range quitCh {
			lg.Warnf("Received SIGQUIT.\n%s\n%s\n", GetStackTraces(), GetGCStats())
		}
	}()
}

func GetStackTraces() string {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return string(buf[:n])
}

func GetGCStats() string {
	var stats debug.GCStats
	debug.ReadGCStats(&stats)
	var b bytes.Buffer
	fmt.Fprintf(&b, "LastGC: %s, NumGC: %d, PauseTotal: %s\n",
		stats.LastGC.String(), stats.NumGC, stats.PauseTotal.String())
	return b.String()
}
