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
	"container/list"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/apache/htrace-htraced/internal/common"
	"github.com/apache/htrace-htraced/internal/conf"
)

// The Metrics Sink for htraced (Component G).
//
// Tracks per-origin write/drop counters.  A single goroutine owns the map;
// every read and write goes through its channels, so no lock is needed.
// Unlike the original, eviction here is least-recently-updated rather than
// random, as spec.md §4.G requires.

type ServerSpanMetrics struct {
	Written       uint64
	ServerDropped uint64
}

func (spm *ServerSpanMetrics) Clone() *ServerSpanMetrics {
	return &ServerSpanMetrics{Written: spm.Written, ServerDropped: spm.ServerDropped}
}

func (spm *ServerSpanMetrics) String() string {
	jbytes, err := json.Marshal(*spm)
	if err != nil {
		panic(err)
	}
	return string(jbytes)
}

func (spm *ServerSpanMetrics) Add(other *ServerSpanMetrics) {
	spm.Written += other.Written
	spm.ServerDropped += other.ServerDropped
}

// A delta map of per-origin counters, as sent into the sink's update
// channel and as produced by a single shard-writer batch commit.
type ServerSpanMetricsMap map[string]*ServerSpanMetrics

// The sink's internal storage: an LRU of per-origin totals.  Most recently
// updated is at the front of order; Prune evicts from the back.
type metricsLRU struct {
	entries map[string]*list.Element
	order   *list.List
}

type lruEntry struct {
	addr    string
	metrics *ServerSpanMetrics
}

func newMetricsLRU() *metricsLRU {
	return &metricsLRU{entries: make(map[string]*list.Element), order: list.New()}
}

func (m *metricsLRU) touch(addr string) *ServerSpanMetrics {
	if elem, ok := m.entries[addr]; ok {
		m.order.MoveToFront(elem)
		return elem.Value.(*lruEntry).metrics
	}
	mtx := &ServerSpanMetrics{}
	elem := m.order.PushFront(&lruEntry{addr: addr, metrics: mtx})
	m.entries[addr] = elem
	return mtx
}

func (m *metricsLRU) len() int {
	return len(m.entries)
}

// Evicts least-recently-updated entries until the map has at most maxMtx
// entries.
func (m *metricsLRU) prune(maxMtx int, lg *common.Logger) {
	for len(m.entries) > maxMtx && maxMtx >= 0 {
		back := m.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*lruEntry)
		lg.Warnf("Evicting metrics entry for addr %s because there are more "+
			"than %d addrs.\n", entry.addr, maxMtx)
		m.order.Remove(back)
		delete(m.entries, entry.addr)
	}
}

func (m *metricsLRU) snapshot() common.SpanMetricsMap {
	out := make(common.SpanMetricsMap, len(m.entries))
	for addr, elem := range m.entries {
		mtx := elem.Value.(*lruEntry).metrics
		out[addr] = &common.SpanMetrics{Written: mtx.Written, ServerDropped: mtx.ServerDropped}
	}
	return out
}

type AccessReq struct {
	mtxMap common.SpanMetricsMap
	done   chan interface{}
}

type MetricsSink struct {
	lru *metricsLRU

	updateReqs chan ServerSpanMetricsMap
	accessReqs chan *AccessReq
	exited     chan interface{}

	lg     *common.Logger
	maxMtx int

	hb       *Heartbeater
	hbTarget *HeartbeatTarget

	wsm WriteSpanMetrics
}

func NewMetricsSink(cnf *conf.Config) *MetricsSink {
	lg := common.NewLogger("metrics", cnf)
	msink := &MetricsSink{
		lru:        newMetricsLRU(),
		updateReqs: make(chan ServerSpanMetricsMap, 128),
		accessReqs: make(chan *AccessReq),
		exited:     make(chan interface{}),
		lg:         lg,
		maxMtx:     cnf.GetInt(conf.HTRACE_METRICS_MAX_ADDR_ENTRIES),
		wsm: WriteSpanMetrics{
			clientDroppedMap: make(map[string]uint64),
			latencyCircBuf:   NewCircBufU32(LATENCY_CIRC_BUF_SIZE),
		},
	}
	msink.hb = NewHeartbeater("metrics", cnf.GetInt64(conf.HTRACE_METRICS_HEARTBEAT_PERIOD_MS), lg)
	msink.hbTarget = NewHeartbeatTarget("metrics-sink")
	msink.hb.AddHeartbeatTarget(msink.hbTarget)
	go msink.run()
	return msink
}

const LATENCY_CIRC_BUF_SIZE = 4096

func (msink *MetricsSink) run() {
	defer func() {
		msink.lg.Info("MetricsSink: stopping service goroutine.\n")
		close(msink.exited)
	}()
	for {
		select {
		case updateReq, open := <-msink.updateReqs:
			if !open {
				msink.hb.Shutdown()
				return
			}
			for addr, delta := range updateReq {
				msink.lru.touch(addr).Add(delta)
			}
			msink.lru.prune(msink.maxMtx, msink.lg)
		case accessReq := <-msink.accessReqs:
			accessReq.mtxMap = msink.lru.snapshot()
			close(accessReq.done)
		case <-msink.hbTarget.C():
			msink.lru.prune(msink.maxMtx, msink.lg)
		}
	}
}

func (msink *MetricsSink) AccessServerTotals() common.SpanMetricsMap {
	accessReq := &AccessReq{done: make(chan interface{})}
	msink.accessReqs <- accessReq
	<-accessReq.done
	return accessReq.mtxMap
}

func (msink *MetricsSink) UpdateMetrics(delta ServerSpanMetricsMap) {
	msink.updateReqs <- delta
}

func (msink *MetricsSink) Shutdown() {
	close(msink.updateReqs)
	<-msink.exited
}

// Metrics about WriteSpans requests, separate from the per-origin write/
// drop totals above: client-self-reported drops and write-latency history.
type WriteSpanMetrics struct {
	lock               sync.Mutex
	clientDroppedMap   map[string]uint64
	ingestedSpans      uint64
	clientDroppedSpans uint64
	latencyCircBuf     *CircBufU32
}

type WriteSpanMetricsData struct {
	IngestedSpans      uint64
	ClientDroppedSpans uint64
	LatencyMax         uint32
	LatencyAverage     uint32
}

// Records the result of one WriteSpans call: how many spans the client
// told us it had already dropped (e.g. due to local sampling), how many it
// actually sent us, and how long the call took.
func (msink *MetricsSink) Update(client string, clientDropped uint64, clientWritten int,
	wsLatency time.Duration) {
	wsLatencyMs := wsLatency.Nanoseconds() / 1000000
	var wsLatency32 uint32
	if wsLatencyMs > math.MaxUint32 {
		wsLatency32 = math.MaxUint32
	} else {
		wsLatency32 = uint32(wsLatencyMs)
	}
	msink.wsm.update(client, clientDropped, clientWritten, wsLatency32)
}

func (wsm *WriteSpanMetrics) update(client string, clientDropped uint64,
	clientWritten int, wsLatencyMs uint32) {
	wsm.lock.Lock()
	defer wsm.lock.Unlock()
	wsm.clientDroppedMap[client] = clientDropped
	wsm.ingestedSpans += uint64(clientWritten)
	wsm.clientDroppedSpans += clientDropped
	wsm.latencyCircBuf.Append(wsLatencyMs)
}

func (msink *MetricsSink) IngestedSpans() uint64 {
	msink.wsm.lock.Lock()
	defer msink.wsm.lock.Unlock()
	return msink.wsm.ingestedSpans
}

func (msink *MetricsSink) GetWriteSpanMetrics() *WriteSpanMetricsData {
	wsm := &msink.wsm
	wsm.lock.Lock()
	defer wsm.lock.Unlock()
	return &WriteSpanMetricsData{
		IngestedSpans:      wsm.ingestedSpans,
		ClientDroppedSpans: wsm.clientDroppedSpans,
		LatencyMax:         wsm.latencyCircBuf.Max(),
		LatencyAverage:     wsm.latencyCircBuf.Average(),
	}
}

// A circular buffer of uint32s supporting append and average/max.  An
// empty buffer averages and maxes to 0.
type CircBufU32 struct {
	slot      int
	slotsUsed int
	buf       []uint32
}

func NewCircBufU32(size int) *CircBufU32 {
	return &CircBufU32{slotsUsed: -1, buf: make([]uint32, size)}
}

func (cbuf *CircBufU32) effectiveUsed() int {
	if cbuf.slotsUsed < 0 {
		return 0
	}
	return cbuf.slotsUsed
}

func (cbuf *CircBufU32) Max() uint32 {
	var max uint32
	for i := 0; i < cbuf.effectiveUsed(); i++ {
		if cbuf.buf[i] > max {
			max = cbuf.buf[i]
		}
	}
	return max
}

func (cbuf *CircBufU32) Average() uint32 {
	used := cbuf.effectiveUsed()
	if used == 0 {
		return 0
	}
	var total uint64
	for i := 0; i < used; i++ {
		total += uint64(cbuf.buf[i])
	}
	return uint32(total / uint64(used))
}

func (cbuf *CircBufU32) Append(val uint32) {
	cbuf.buf[cbuf.slot] = val
	cbuf.slot++
	if cbuf.slotsUsed < cbuf.slot {
		cbuf.slotsUsed = cbuf.slot
	}
	if cbuf.slot >= len(cbuf.buf) {
		cbuf.slot = 0
	}
}
