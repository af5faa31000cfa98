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

// Package observability publishes process-level gauges (queue depth, shard
// count, reaper throughput) through OpenTelemetry. It never touches the
// domain metrics sink's channel-owned state directly; it only reads values
// through the small StatSource interface below, so the hot span-ingestion
// path never has to think about the OTel SDK.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// The minimal view of the data store that this package's gauges read from.
// Implemented by *htraced.DataStore without this package importing it, to
// keep the dependency edge one-directional (htraced -> observability).
type StatSource interface {
	NumShards() int
	QueueDepth() int64
	IngestedSpans() uint64
	ReapedSpans() uint64
	ClientDroppedSpans() uint64
	WriteLatencyMaxMs() uint32
	WriteLatencyAverageMs() uint32
	ShardBytes() uint64
}

type Bridge struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
}

// Registers one async gauge per stat, each read on demand by the SDK's
// collection callback rather than pushed by the hot path.
func NewBridge(source StatSource) (*Bridge, error) {
	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter("htraced")

	b := &Bridge{provider: provider, meter: meter}

	shards, err := meter.Int64ObservableGauge("htraced.shards")
	if err != nil {
		return nil, err
	}
	queueDepth, err := meter.Int64ObservableGauge("htraced.queue_depth")
	if err != nil {
		return nil, err
	}
	ingested, err := meter.Int64ObservableCounter("htraced.ingested_spans")
	if err != nil {
		return nil, err
	}
	reaped, err := meter.Int64ObservableCounter("htraced.reaped_spans")
	if err != nil {
		return nil, err
	}
	clientDropped, err := meter.Int64ObservableCounter("htraced.client_dropped_spans")
	if err != nil {
		return nil, err
	}
	latencyMax, err := meter.Int64ObservableGauge("htraced.write_latency_ms.max")
	if err != nil {
		return nil, err
	}
	latencyAvg, err := meter.Int64ObservableGauge("htraced.write_latency_ms.average")
	if err != nil {
		return nil, err
	}
	shardBytes, err := meter.Int64ObservableGauge("htraced.shard_bytes")
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(shards, int64(source.NumShards()))
		o.ObserveInt64(queueDepth, source.QueueDepth())
		o.ObserveInt64(ingested, int64(source.IngestedSpans()))
		o.ObserveInt64(reaped, int64(source.ReapedSpans()))
		o.ObserveInt64(clientDropped, int64(source.ClientDroppedSpans()))
		o.ObserveInt64(latencyMax, int64(source.WriteLatencyMaxMs()))
		o.ObserveInt64(latencyAvg, int64(source.WriteLatencyAverageMs()))
		o.ObserveInt64(shardBytes, int64(source.ShardBytes()))
		return nil
	}, shards, queueDepth, ingested, reaped, clientDropped, latencyMax, latencyAvg, shardBytes)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) Shutdown(ctx context.Context) error {
	return b.provider.Shutdown(ctx)
}
