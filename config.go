// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package docscroller

import (
	"time"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds configuration for Scroller.
type Config struct {
	// Logger holds an optional Logger to use for logging scroll requests.
	//
	// All Elasticsearch errors will be logged at error level, including
	// per-document mapping failures, so in cases where the scroller is used
	// to read very large result sets of unvalidated documents, it is
	// recommended that a rate-limited logger is used.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing page fetches
	// sent to Elasticsearch. Each fetch is traced as a transaction.
	//
	// If Tracer is nil, requests will not be traced.
	Tracer *apm.Tracer

	// KeepAlive holds the scroll context keep-alive: the duration
	// Elasticsearch retains the scroll context between consecutive page
	// fetches before discarding it.
	//
	// If KeepAlive is zero, the default of 5 minutes will be used.
	KeepAlive time.Duration

	// PageSize holds the number of documents requested per page.
	//
	// If PageSize is less than or equal to zero, the default of 1000 will
	// be used.
	PageSize int

	// FetchTimeout holds the timeout applied to each individual page fetch
	// as a duration.
	//
	// If FetchTimeout is zero, no timeout will be used.
	FetchTimeout time.Duration

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression), applied to the initial search request body.
	// Higher values provide greater compression, at a greater cost of CPU. The
	// special value -1 (gzip.DefaultCompression) selects the default compression
	// level.
	CompressionLevel int

	// TracerProvider holds the OTel TracerProvider to be used for tracing
	// page fetches.
	//
	// If unset, fetches will not be traced with OTel.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record scroller metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set
}
