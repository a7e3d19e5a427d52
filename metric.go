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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	fetchDuration   metric.Float64Histogram
	pagesFetched    metric.Int64Counter
	docsRead        metric.Int64Counter
	docsDropped     metric.Int64Counter
	contextsActive  metric.Int64Counter
	contextsCleared metric.Int64Counter
}

type histogramMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Float64Histogram
}

type counterMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Int64Counter
}

func newMetrics(cfg Config) (metrics, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter("github.com/elastic/go-docscroller")
	ms := metrics{}
	histograms := []histogramMetric{
		{
			name:        "elasticsearch.scroll.fetch.latency",
			description: "The amount of time a single page fetch took, in seconds.",
			unit:        "s",
			p:           &ms.fetchDuration,
		},
	}
	for _, m := range histograms {
		if err := newFloat64Histogram(meter, m); err != nil {
			return ms, err
		}
	}

	counters := []counterMetric{
		{
			name:        "elasticsearch.scroll.pages.count",
			description: "The number of result pages fetched.",
			p:           &ms.pagesFetched,
		},
		{
			name:        "elasticsearch.scroll.docs.count",
			description: "The number of documents read from the engine.",
			p:           &ms.docsRead,
		},
		{
			name:        "elasticsearch.scroll.docs.dropped",
			description: "The number of documents dropped due to mapping failures.",
			p:           &ms.docsDropped,
		},
		{
			name:        "elasticsearch.scroll.contexts.active",
			description: "The number of scroll contexts currently held open.",
			p:           &ms.contextsActive,
		},
		{
			name:        "elasticsearch.scroll.contexts.cleared",
			description: "The number of scroll contexts explicitly released.",
			p:           &ms.contextsCleared,
		},
	}
	for _, m := range counters {
		if err := newInt64Counter(meter, m); err != nil {
			return ms, err
		}
	}
	return ms, nil
}

func newInt64Counter(meter metric.Meter, c counterMetric) error {
	unit := c.unit
	if unit == "" {
		unit = "1"
	}
	m, err := meter.Int64Counter(
		c.name,
		metric.WithUnit(unit),
		metric.WithDescription(c.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", c.name, err,
		)
	}
	*c.p = m
	return nil
}

func newFloat64Histogram(meter metric.Meter, h histogramMetric) error {
	m, err := meter.Float64Histogram(
		h.name,
		metric.WithUnit(h.unit),
		metric.WithDescription(h.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", h.name, err,
		)
	}
	*h.p = m
	return nil
}
