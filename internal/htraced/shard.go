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
	"time"

	"github.com/apache/htrace-htraced/internal/common"
	"github.com/jmhodges/levigo"
)

// One span on its way into a shard's write queue, tagged with the remote
// address that sent it so the writer can roll up per-origin write counts.
type incomingSpan struct {
	origin string
	span   *common.Span
}

// One embedded KV store, plus the single writer goroutine that owns all
// mutation of it (Components B and C).  Readers (query executor, point
// lookup) go straight to ldb with their own read options; only writes and
// deletes are serialized through incoming.
type shard struct {
	index uint32
	path  string
	lg    *common.Logger
	ldb   *levigo.DB
	ro    *levigo.ReadOptions
	wo    *levigo.WriteOptions

	incoming chan *incomingSpan
	joined   chan struct{}

	queueCapacity int
	batchMaxSpans int
	flushInterval time.Duration

	msink   *MetricsSink
	written *common.Semaphore
	fatal   func(error)
}

func openShardDb(path string, createIfMissing bool) (*levigo.DB, error) {
	opts := levigo.NewOptions()
	opts.SetCreateIfMissing(createIfMissing)
	return levigo.Open(path, opts)
}

func newShard(index uint32, path string, ldb *levigo.DB, lg *common.Logger,
	queueCapacity, batchMaxSpans int, flushInterval time.Duration,
	msink *MetricsSink, written *common.Semaphore, fatal func(error)) *shard {
	shd := &shard{
		index:         index,
		path:          path,
		lg:            lg,
		ldb:           ldb,
		ro:            levigo.NewReadOptions(),
		wo:            levigo.NewWriteOptions(),
		incoming:      make(chan *incomingSpan, queueCapacity),
		joined:        make(chan struct{}),
		queueCapacity: queueCapacity,
		batchMaxSpans: batchMaxSpans,
		flushInterval: flushInterval,
		msink:         msink,
		written:       written,
		fatal:         fatal,
	}
	go shd.run()
	return shd
}

// Enqueues a span for writing.  If blocking is false and the queue is
// full, the span is dropped and false is returned; the caller (the
// ingestor) is responsible for counting the drop.
func (shd *shard) enqueue(is *incomingSpan, blocking bool) bool {
	if blocking {
		shd.incoming <- is
		return true
	}
	select {
	case shd.incoming <- is:
		return true
	default:
		return false
	}
}

func (shd *shard) run() {
	defer close(shd.joined)
	ticker := time.NewTicker(shd.flushInterval)
	defer ticker.Stop()
	batch := make([]*incomingSpan, 0, shd.batchMaxSpans)
	for {
		select {
		case is, open := <-shd.incoming:
			if !open {
				if len(batch) > 0 {
					shd.commitBatch(batch)
				}
				shd.ldb.Close()
				return
			}
			batch = append(batch, is)
			if len(batch) >= shd.batchMaxSpans {
				shd.commitBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				shd.commitBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (shd *shard) commitBatch(batch []*incomingSpan) {
	wb := levigo.NewWriteBatch()
	defer wb.Close()
	writtenByOrigin := make(ServerSpanMetricsMap)
	for _, is := range batch {
		is.span.NormalizeParents()
		encoded, err := common.EncodeSpan(is.span)
		if err != nil {
			shd.lg.Warnf("shard %d: failed to encode span %s: %s\n",
				shd.index, is.span.Id.String(), err.Error())
			continue
		}
		for k, v := range indexEntriesForSpan(is.span, encoded) {
			wb.Put([]byte(k), v)
		}
		mtx := writtenByOrigin[is.origin]
		if mtx == nil {
			mtx = &ServerSpanMetrics{}
			writtenByOrigin[is.origin] = mtx
		}
		mtx.Written++
	}
	if err := shd.ldb.Write(shd.wo, wb); err != nil {
		shd.lg.Errorf("shard %d: write batch failed: %s\n", shd.index, err.Error())
		if shd.fatal != nil {
			shd.fatal(err)
		}
		return
	}
	if shd.msink != nil {
		shd.msink.UpdateMetrics(writtenByOrigin)
	}
	if shd.written != nil {
		shd.written.Posts(int64(len(batch)))
	}
}

// Deletes every index entry for span.  Used by the reaper and by clear.
func (shd *shard) deleteSpan(span *common.Span) error {
	wb := levigo.NewWriteBatch()
	defer wb.Close()
	wb.Delete(primaryKey(span.Id))
	for _, parent := range span.Parents {
		wb.Delete(childKey(parent, span.Id))
	}
	wb.Delete(beginKey(span.Begin, span.Id))
	wb.Delete(endKey(span.End, span.Id))
	wb.Delete(durationKey(span.Duration(), span.Id))
	wb.Delete(descriptionKey(span.Description, span.Id))
	wb.Delete(tracerIdKey(span.TracerId, span.Id))
	return shd.ldb.Write(shd.wo, wb)
}

// Blocks until the writer goroutine has drained its queue and closed the
// underlying store.
func (shd *shard) shutdown() {
	close(shd.incoming)
	<-shd.joined
}

func (shd *shard) get(key []byte) ([]byte, error) {
	return shd.ldb.Get(shd.ro, key)
}

func (shd *shard) newIterator() *levigo.Iterator {
	return shd.ldb.NewIterator(shd.ro)
}

func (shd *shard) approximateSize() uint64 {
	full := []byte{0x00}
	end := []byte{0xff}
	sizes := shd.ldb.GetApproximateSizes([]levigo.Range{{Start: full, Limit: end}})
	if len(sizes) == 0 {
		return 0
	}
	return sizes[0]
}
