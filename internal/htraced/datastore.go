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
	"github.com/apache/htrace-htraced/internal/conf"
)

// The top-level handle for the whole ingestion-and-query engine: owns
// every shard, the metrics sink, and the reaper.  This is the thing REST
// and HRPC handlers call into.
type DataStore struct {
	lg      *common.Logger
	cnf     *conf.Config
	shards  []*shard
	msink   *MetricsSink
	reaper  *reaper
	started time.Time

	fatalLock sync.Mutex
	fatalErr  error
	fatalCh   chan struct{}

	// Posted once per span durably committed by a shard writer.  Tests use
	// this to wait for async writes to land instead of polling or sleeping.
	WrittenSpans *common.Semaphore
}

// Creates (or reopens) the data store described by cnf.  msink may be nil,
// in which case a fresh one is created from cnf; tests that want to share
// a sink across stores pass one in.
func CreateDataStore(cnf *conf.Config, msink *MetricsSink) (*DataStore, error) {
	lg := common.NewLogger("datastore", cnf)
	if msink == nil {
		msink = NewMetricsSink(cnf)
	}
	ldr := newDataStoreLoader(cnf, lg)
	results, err := ldr.load()
	if err != nil {
		lg.Errorf("Failed to load data store: %s\n", err.Error())
		return nil, err
	}
	store := &DataStore{
		lg:           lg,
		cnf:          cnf,
		msink:        msink,
		started:      time.Now(),
		fatalCh:      make(chan struct{}),
		WrittenSpans: common.NewSemaphore(0),
	}
	queueCapacity := cnf.GetInt(conf.HTRACE_DATA_STORE_SPAN_BUFFER_SIZE)
	batchMaxSpans := cnf.GetInt(conf.HTRACE_DATA_STORE_WRITE_BATCH_SIZE)
	flushInterval := time.Duration(cnf.GetInt64(conf.HTRACE_DATA_STORE_FLUSH_INTERVAL_MS)) * time.Millisecond
	store.shards = make([]*shard, len(results))
	for _, r := range results {
		store.shards[r.info.ShardIndex] = newShard(r.info.ShardIndex, r.dir, r.ldb, lg,
			queueCapacity, batchMaxSpans, flushInterval, msink, store.WrittenSpans,
			store.reportFatal)
	}
	spanExpiryMs := cnf.GetInt64(conf.HTRACE_SPAN_EXPIRY_MS)
	if spanExpiryMs > 0 {
		store.reaper = newReaper(store, cnf, lg)
	}
	return store, nil
}

func (store *DataStore) reportFatal(err error) {
	store.fatalLock.Lock()
	defer store.fatalLock.Unlock()
	if store.fatalErr == nil {
		store.fatalErr = err
		close(store.fatalCh)
	}
}

// Returns a non-nil error once a shard writer has hit a persistent I/O
// failure; the daemon treats this as fatal.
func (store *DataStore) FatalError() <-chan struct{} {
	return store.fatalCh
}

func (store *DataStore) NumShards() int {
	return len(store.shards)
}

// Total number of spans currently buffered in every shard's write queue.
// Read by the OTel bridge; never touched by the hot ingestion path.
func (store *DataStore) QueueDepth() int64 {
	var total int64
	for _, shd := range store.shards {
		total += int64(len(shd.incoming))
	}
	return total
}

func (store *DataStore) IngestedSpans() uint64 {
	return store.msink.IngestedSpans()
}

func (store *DataStore) ReapedSpans() uint64 {
	if store.reaper == nil {
		return 0
	}
	return store.reaper.reapedTotal.Load()
}

// Spans a WriteSpans caller reported dropping on its own side (e.g. a full
// local buffer) before ever reaching this daemon. Read by the OTel bridge.
func (store *DataStore) ClientDroppedSpans() uint64 {
	return store.msink.GetWriteSpanMetrics().ClientDroppedSpans
}

// Observed WriteSpans round-trip latency, in milliseconds, over the
// metrics sink's rolling window. Read by the OTel bridge.
func (store *DataStore) WriteLatencyMaxMs() uint32 {
	return store.msink.GetWriteSpanMetrics().LatencyMax
}

func (store *DataStore) WriteLatencyAverageMs() uint32 {
	return store.msink.GetWriteSpanMetrics().LatencyAverage
}

// Looks up a single span by id.  Returns (nil, nil) if it isn't found.
func (store *DataStore) FindSpan(id common.SpanId) (*common.Span, error) {
	shd := store.shards[id.ShardHash()%uint64(len(store.shards))]
	val, err := shd.get(primaryKey(id))
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	return common.DecodeSpan(val)
}

// Returns up to lim child ids of parent, fanned out across every shard.
func (store *DataStore) FindChildren(parent common.SpanId, lim int32) ([]common.SpanId, error) {
	var children []common.SpanId
	prefix := make([]byte, 1+common.SPAN_ID_SIZE)
	prefix[0] = CHILD_PREFIX
	copy(prefix[1:], parent)
	for _, shd := range store.shards {
		it := shd.newIterator()
		it.Seek(prefix)
		for it.Valid() && len(children) < int(lim) {
			key := it.Key()
			if len(key) < len(prefix) || string(key[:len(prefix)]) != string(prefix) {
				break
			}
			childId := common.SpanId(key[len(prefix) : len(prefix)+common.SPAN_ID_SIZE])
			children = append(children, append(common.SpanId{}, childId...))
			it.Next()
		}
		it.Close()
		if len(children) >= int(lim) {
			break
		}
	}
	return children, nil
}

// Writes every span in the batch, filling in defaultTrid for spans that
// omit a tracer id.  This is the entry point used by both the REST and
// HRPC adapters.
func (store *DataStore) WriteSpans(remoteAddr, defaultTrid string, spans []*common.Span) (int, int) {
	ing := store.NewSpanIngestor(remoteAddr, defaultTrid)
	var bad int
	for _, span := range spans {
		if err := ing.IngestSpan(span); err != nil {
			bad++
		}
	}
	ing.Close(time.Now())
	return len(spans) - bad, bad
}

func (store *DataStore) ServerStats() *common.ServerStats {
	return &common.ServerStats{
		IngestedSpans: store.msink.IngestedSpans(),
		ByOrigin:      store.msink.AccessServerTotals(),
		ShardBytes:    store.ShardBytes(),
	}
}

// Approximate total on-disk footprint across every shard. Read by
// ServerStats and the OTel bridge.
func (store *DataStore) ShardBytes() uint64 {
	var total uint64
	for _, shd := range store.shards {
		total += shd.approximateSize()
	}
	return total
}

// Shuts down every shard writer, the reaper, and the metrics sink.  Shard
// writers flush their final batch and close their underlying store before
// this returns.
func (store *DataStore) Close() {
	if store.reaper != nil {
		store.reaper.shutdown()
	}
	var wg sync.WaitGroup
	for _, shd := range store.shards {
		wg.Add(1)
		go func(s *shard) {
			defer wg.Done()
			s.shutdown()
		}(shd)
	}
	wg.Wait()
	store.msink.Shutdown()
}
