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
	"sync"
	"time"

	"github.com/apache/htrace-htraced/internal/common"
)

// One registered recipient of a Heartbeater's pings.
type HeartbeatTarget struct {
	name       string
	targetChan chan interface{}
}

func NewHeartbeatTarget(name string) *HeartbeatTarget {
	return &HeartbeatTarget{name: name, targetChan: make(chan interface{})}
}

func (t *HeartbeatTarget) C() <-chan interface{} {
	return t.targetChan
}

// A single periodic-timer goroutine that non-blockingly pings a list of
// registered target channels.  Shared by the metrics sink's self-eviction
// tick and the reaper's per-shard sweep tick so that neither needs its own
// timer goroutine.
type Heartbeater struct {
	name     string
	periodMs int64
	lg       *common.Logger
	lock     sync.Mutex
	targets  []*HeartbeatTarget
	req      chan *HeartbeatTarget
	shutdown chan struct{}
	wg       sync.WaitGroup
}

func NewHeartbeater(name string, periodMs int64, lg *common.Logger) *Heartbeater {
	hb := &Heartbeater{
		name:     name,
		periodMs: periodMs,
		lg:       lg,
		req:      make(chan *HeartbeatTarget),
		shutdown: make(chan struct{}),
	}
	hb.wg.Add(1)
	go hb.run()
	return hb
}

func (hb *Heartbeater) AddHeartbeatTarget(target *HeartbeatTarget) {
	select {
	case hb.req <- target:
	case <-hb.shutdown:
	}
}

func (hb *Heartbeater) Shutdown() {
	close(hb.shutdown)
	hb.wg.Wait()
}

func (hb *Heartbeater) run() {
	defer hb.wg.Done()
	period := time.Duration(hb.periodMs) * time.Millisecond
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	var targets []*HeartbeatTarget
	for {
		select {
		case <-hb.shutdown:
			return
		case target := <-hb.req:
			targets = append(targets, target)
		case <-ticker.C:
			for _, target := range targets {
				select {
				case target.targetChan <- nil:
				default:
					hb.lg.Tracef("Heartbeater %s: target %s was not ready for a "+
						"heartbeat.\n", hb.name, target.name)
				}
			}
		}
	}
}
