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
	"time"

	"github.com/apache/htrace-htraced/internal/common"
)

// A per-connection handle for writing spans into the store (Component E).
// Created on demand for each remote peer and released when the connection
// closes.
type SpanIngestor struct {
	store           *DataStore
	remoteAddr      string
	defaultTrid     string
	blocking        bool
	created         time.Time
	writtenByOrigin *ServerSpanMetrics
}

func (store *DataStore) NewSpanIngestor(remoteAddr, defaultTrid string) *SpanIngestor {
	return &SpanIngestor{
		store:           store,
		remoteAddr:      remoteAddr,
		defaultTrid:     defaultTrid,
		created:         time.Now(),
		writtenByOrigin: &ServerSpanMetrics{},
	}
}

// Ingests one span: assigns it to a shard by xxhash(id) mod numShards,
// fills in the default tracer id, and enqueues it.  Returns an error only
// for a malformed span (zero id); queue-full drops are silent but counted.
func (ing *SpanIngestor) IngestSpan(span *common.Span) error {
	if span.Id.IsInvalid() {
		ing.store.lg.Warnf("SpanIngestor(%s): rejecting span with invalid id.\n",
			ing.remoteAddr)
		ing.writtenByOrigin.ServerDropped++
		return fmt.Errorf("bad-span: span id must not be all-zero")
	}
	if span.TracerId == "" {
		span.TracerId = ing.defaultTrid
	}
	shardIdx := span.Id.ShardHash() % uint64(len(ing.store.shards))
	shd := ing.store.shards[shardIdx]
	is := &incomingSpan{origin: ing.remoteAddr, span: span}
	if shd.enqueue(is, ing.blocking) {
		ing.writtenByOrigin.Written++
	} else {
		ing.writtenByOrigin.ServerDropped++
		ing.store.lg.Debugf("SpanIngestor(%s): dropped span %s because shard %d's "+
			"queue was full.\n", ing.remoteAddr, span.Id.String(), shardIdx)
	}
	return nil
}

// Flushes the ingestor's accounting into the metrics sink and marks the
// write as complete for the given timestamp.
func (ing *SpanIngestor) Close(now time.Time) {
	if ing.writtenByOrigin.Written == 0 && ing.writtenByOrigin.ServerDropped == 0 {
		return
	}
	ing.store.msink.UpdateMetrics(ServerSpanMetricsMap{
		ing.remoteAddr: ing.writtenByOrigin,
	})
	ing.store.msink.Update(ing.remoteAddr, 0, int(ing.writtenByOrigin.Written), now.Sub(ing.created))
}
