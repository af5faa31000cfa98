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
	"sync/atomic"
	"time"

	"github.com/apache/htrace-htraced/internal/common"
	"github.com/apache/htrace-htraced/internal/conf"
)

// Background deletion of spans older than span.expiry.ms (supplemented
// feature; see SPEC_FULL.md).  Disabled entirely when span.expiry.ms is 0.
// Driven by the same heartbeat-channel pattern as the metrics sink, with
// its own Heartbeater rather than sharing the metrics one, since the
// reaper's period is independently configurable.
type reaper struct {
	store       *DataStore
	lg          *common.Logger
	expiryMs    int64
	hb          *Heartbeater
	hbTarget    *HeartbeatTarget
	shutdownCh  chan struct{}
	joined      chan struct{}
	reapedTotal atomic.Uint64
}

func newReaper(store *DataStore, cnf *conf.Config, lg *common.Logger) *reaper {
	r := &reaper{
		store:      store,
		lg:         lg,
		expiryMs:   cnf.GetInt64(conf.HTRACE_SPAN_EXPIRY_MS),
		shutdownCh: make(chan struct{}),
		joined:     make(chan struct{}),
	}
	r.hb = NewHeartbeater("reaper", cnf.GetInt64(conf.HTRACE_REAPER_HEARTBEAT_PERIOD_MS), lg)
	r.hbTarget = NewHeartbeatTarget("reaper")
	r.hb.AddHeartbeatTarget(r.hbTarget)
	go r.run()
	return r
}

func (r *reaper) run() {
	defer close(r.joined)
	for {
		select {
		case <-r.shutdownCh:
			r.hb.Shutdown()
			return
		case <-r.hbTarget.C():
			r.sweep()
		}
	}
}

// Deletes every span in every shard whose begin time is older than
// expiryMs relative to now.  Scans the B (begin-time) index, which is
// naturally ordered oldest-first.
func (r *reaper) sweep() {
	cutoff := time.Now().UnixNano()/int64(time.Millisecond) - r.expiryMs
	for _, shd := range r.store.shards {
		r.sweepShard(shd, cutoff)
	}
}

func (r *reaper) sweepShard(shd *shard, cutoff int64) {
	it := shd.newIterator()
	defer it.Close()
	it.Seek([]byte{BEGIN_PREFIX})
	var expired []common.SpanId
	for it.Valid() {
		key := it.Key()
		if len(key) == 0 || key[0] != BEGIN_PREFIX {
			break
		}
		begin := decodeInt64(key[1:9])
		if begin >= cutoff {
			break
		}
		expired = append(expired, idFromIndexKey(key))
		it.Next()
	}
	for _, id := range expired {
		val, err := shd.get(primaryKey(id))
		if err != nil || val == nil {
			continue
		}
		span, err := common.DecodeSpan(val)
		if err != nil {
			continue
		}
		if err := shd.deleteSpan(span); err != nil {
			r.lg.Warnf("reaper: failed to delete expired span %s: %s\n",
				id.String(), err.Error())
			continue
		}
		r.reapedTotal.Add(1)
	}
}

func (r *reaper) shutdown() {
	close(r.shutdownCh)
	<-r.joined
}
