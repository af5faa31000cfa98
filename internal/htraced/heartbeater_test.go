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
	"time"

	"github.com/apache/htrace-htraced/internal/common"
)

func TestHeartbeaterPingsRegisteredTargets(t *testing.T) {
	lg := common.NewLogger("heartbeater-test", testConfig())
	defer lg.Close()

	hb := NewHeartbeater("test", 20, lg)
	defer hb.Shutdown()

	target := NewHeartbeatTarget("t1")
	hb.AddHeartbeatTarget(target)

	select {
	case <-target.C():
	case <-time.After(2 * time.Second):
		t.Fatal("target should have received a heartbeat")
	}
}

func TestHeartbeaterPingsMultipleTargetsIndependently(t *testing.T) {
	lg := common.NewLogger("heartbeater-test", testConfig())
	defer lg.Close()

	hb := NewHeartbeater("test", 20, lg)
	defer hb.Shutdown()

	a := NewHeartbeatTarget("a")
	b := NewHeartbeatTarget("b")
	hb.AddHeartbeatTarget(a)
	hb.AddHeartbeatTarget(b)

	gotA, gotB := false, false
	deadline := time.After(2 * time.Second)
	for !gotA || !gotB {
		select {
		case <-a.C():
			gotA = true
		case <-b.C():
			gotB = true
		case <-deadline:
			t.Fatal("both targets should eventually receive a heartbeat")
		}
	}
}

func TestHeartbeaterShutdownStopsTicking(t *testing.T) {
	lg := common.NewLogger("heartbeater-test", testConfig())
	defer lg.Close()

	hb := NewHeartbeater("test", 10, lg)
	target := NewHeartbeatTarget("t1")
	hb.AddHeartbeatTarget(target)

	select {
	case <-target.C():
	case <-time.After(2 * time.Second):
		t.Fatal("target should have received at least one heartbeat before shutdown")
	}

	hb.Shutdown()

	select {
	case <-target.C():
		t.Fatal("target should not receive heartbeats after shutdown")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHeartbeaterAddTargetAfterShutdownDoesNotBlock(t *testing.T) {
	lg := common.NewLogger("heartbeater-test", testConfig())
	defer lg.Close()

	hb := NewHeartbeater("test", 10, lg)
	hb.Shutdown()

	done := make(chan struct{})
	go func() {
		hb.AddHeartbeatTarget(NewHeartbeatTarget("late"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AddHeartbeatTarget should not block after shutdown")
	}
}
