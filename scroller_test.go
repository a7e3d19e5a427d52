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

package docscroller_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/elastic/go-docscroller"
	"github.com/elastic/go-docscroller/docscrollertest"
)

func TestNew(t *testing.T) {
	_, err := docscroller.New(nil, docscroller.Config{})
	assert.EqualError(t, err, "client is nil")

	srv := docscrollertest.NewScrollServer(nil, 10)
	client := docscrollertest.NewMockElasticsearchClient(t, srv)
	_, err = docscroller.New(client, docscroller.Config{CompressionLevel: 10})
	assert.EqualError(t, err, "expected CompressionLevel in range [-1,9], got 10")

	_, err = docscroller.New(client, docscroller.Config{})
	assert.NoError(t, err)
}

func TestCount(t *testing.T) {
	srv := docscrollertest.NewScrollServer(docscrollertest.GenerateDocs(42), 10)
	scroller := newTestScroller(t, srv, docscroller.Config{})

	n, err := scroller.Count(context.Background(), docscroller.Query{Index: []string{"test"}})
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestSearchPage(t *testing.T) {
	srv := docscrollertest.NewScrollServer(docscrollertest.GenerateDocs(25), 10)
	scroller := newTestScroller(t, srv, docscroller.Config{})

	page, err := scroller.SearchPage(context.Background(),
		docscroller.Query{Index: []string{"test"}}, 20, 10,
	)
	require.NoError(t, err)
	assert.Equal(t, int64(25), page.Total)
	require.Len(t, page.Hits, 5)
	for i, hit := range page.Hits {
		assert.Equal(t, fmt.Sprintf("doc-%d", 20+i), hit.ID)
		assert.Equal(t, "test", hit.Index)
	}

	// A single bounded page never touches the scroll endpoints.
	assert.Equal(t, 0, srv.Fetches())
	assert.Equal(t, 0, srv.Clears())
}

func TestCompressedQueryBody(t *testing.T) {
	srv := docscrollertest.NewScrollServer(docscrollertest.GenerateDocs(10), 10)
	scroller := newTestScroller(t, srv, docscroller.Config{CompressionLevel: 1})

	const query = `{"query":{"match_all":{}}}`
	it := scroller.StreamHits(docscroller.Query{
		Index: []string{"test"},
		Body:  strings.NewReader(query),
	})
	hits, err := docscroller.All(context.Background(), it)
	require.NoError(t, err)
	assert.Len(t, hits, 10)

	// The server decompresses using the request's Content-Encoding, so a
	// matching body proves the gzip round trip.
	bodies := srv.SearchBodies()
	require.Len(t, bodies, 1)
	assert.JSONEq(t, query, string(bodies[0]))
}

func TestStreamMetrics(t *testing.T) {
	rdr := sdkmetric.NewManualReader()
	srv := docscrollertest.NewScrollServer(docscrollertest.GenerateDocs(250), 100)
	scroller := newTestScroller(t, srv, docscroller.Config{
		PageSize:         100,
		MeterProvider:    sdkmetric.NewMeterProvider(sdkmetric.WithReader(rdr)),
		MetricAttributes: attribute.NewSet(attribute.String("a", "b")),
	})

	it := scroller.StreamHits(docscroller.Query{Index: []string{"test"}})
	_, err := docscroller.All(context.Background(), it)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, rdr.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	wantAttrs := attribute.NewSet(attribute.String("a", "b"))
	sums := make(map[string]int64)
	var fetchCount uint64
	for _, m := range rm.ScopeMetrics[0].Metrics {
		switch d := m.Data.(type) {
		case metricdata.Sum[int64]:
			require.Len(t, d.DataPoints, 1, m.Name)
			assert.Equal(t, wantAttrs, d.DataPoints[0].Attributes, m.Name)
			sums[m.Name] = d.DataPoints[0].Value
		case metricdata.Histogram[float64]:
			require.Len(t, d.DataPoints, 1, m.Name)
			fetchCount = d.DataPoints[0].Count
		}
	}
	assert.Equal(t, int64(4), sums["elasticsearch.scroll.pages.count"])
	assert.Equal(t, int64(250), sums["elasticsearch.scroll.docs.count"])
	assert.Equal(t, int64(0), sums["elasticsearch.scroll.contexts.active"])
	assert.Equal(t, int64(1), sums["elasticsearch.scroll.contexts.cleared"])
	assert.Zero(t, sums["elasticsearch.scroll.docs.dropped"])
	assert.Equal(t, uint64(4), fetchCount)
}
