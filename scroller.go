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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	scrollapi "github.com/elastic/go-docscroller/esapi"
)

var searchFilterPath = []string{
	"_scroll_id",
	"hits.total.value",
	"hits.hits._index",
	"hits.hits._id",
	"hits.hits._score",
	"hits.hits._source",
}

// Query holds a caller-constructed search request: the indices to search
// and the request body in Elasticsearch query DSL. The structure of the
// body is owned by the caller; the scroller passes it through untouched.
//
// Body is consumed when the query is first executed, so a Query value must
// not be reused across streams.
type Query struct {
	Index []string
	Body  io.Reader
}

// Hit represents a single document returned by a search.
type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

// Page holds one bounded batch of search results.
type Page struct {
	Hits  []Hit
	Total int64
}

// page is a Page plus the continuation token for an open scroll context.
// No hits, or no token, signals stream end.
type page struct {
	scrollID string
	hits     []Hit
	total    int64
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// Scroller reads query result sets out of Elasticsearch page by page.
//
// Scroller issues the initial search with scrolling enabled, advances the
// resulting scroll context one page at a time on demand, and releases the
// context when a stream ends. It holds no per-stream state itself; any
// number of streams may be driven through one Scroller concurrently, each
// owning its own scroll context.
type Scroller struct {
	config  Config
	client  elastictransport.Interface
	metrics metrics

	// tracer is an OTel tracer, and should not be confused with
	// `config.Tracer` which is an Elastic APM Tracer.
	tracer trace.Tracer
}

// New returns a new Scroller that streams documents out of Elasticsearch.
// It is only tested with v8 go-elasticsearch client. Use other clients at your own risk.
func New(client elastictransport.Interface, cfg Config) (*Scroller, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	s := &Scroller{
		config:  cfg,
		client:  client,
		metrics: ms,
	}
	if cfg.TracerProvider != nil {
		s.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-docscroller.scroller")
	}
	return s, nil
}

// StreamHits returns a lazy stream over the raw hits matching q.
// No request is issued until the first call to Next.
func (s *Scroller) StreamHits(q Query) *Iterator[Hit] {
	return Stream(s, q, func(h Hit) (Hit, error) { return h, nil })
}

// Count returns the number of documents matching q.
func (s *Scroller) Count(ctx context.Context, q Query) (int64, error) {
	ctx, _, finish := s.startFetch(ctx, "docscroller.count")
	if s.config.FetchTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FetchTimeout)
		defer cancel()
	}
	req := esapi.CountRequest{
		Index:      q.Index,
		Body:       q.Body,
		FilterPath: []string{"count"},
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		finish(err)
		return 0, fmt.Errorf("failed to execute the count request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		err := statusError(res.StatusCode, res.String(), false)
		finish(err)
		return 0, err
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := jsoniter.NewDecoder(res.Body).Decode(&out); err != nil {
		finish(err)
		return 0, fmt.Errorf("error decoding count response: %w", err)
	}
	finish(nil)
	return out.Count, nil
}

// SearchPage executes q once and returns a single bounded page of results,
// without creating a scroll context. Use a stream for reading past the
// engine's from+size window.
func (s *Scroller) SearchPage(ctx context.Context, q Query, from, size int) (*Page, error) {
	ctx, logger, finish := s.startFetch(ctx, "docscroller.search_page")
	if s.config.FetchTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FetchTimeout)
		defer cancel()
	}
	body, header, err := s.encodeQueryBody(q.Body)
	if err != nil {
		finish(err)
		return nil, err
	}
	req := esapi.SearchRequest{
		Index:      q.Index,
		Body:       body,
		From:       &from,
		Size:       &size,
		Header:     header,
		FilterPath: searchFilterPath,
	}
	t0 := time.Now()
	res, err := req.Do(ctx, s.client)
	if err != nil {
		finish(err)
		return nil, fmt.Errorf("failed to execute the search request: %w", err)
	}
	pg, err := s.decodePage(logger, res.StatusCode, res.Body, t0, false)
	if err != nil {
		finish(err)
		return nil, err
	}
	finish(nil)
	return &Page{Hits: pg.hits, Total: pg.total}, nil
}

// open issues the initial search with scrolling enabled. A scroll context
// is created even when the first page is empty; the caller owns its release.
func (s *Scroller) open(ctx context.Context, q Query) (*page, error) {
	ctx, logger, finish := s.startFetch(ctx, "docscroller.search")
	if s.config.FetchTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FetchTimeout)
		defer cancel()
	}
	body, header, err := s.encodeQueryBody(q.Body)
	if err != nil {
		finish(err)
		return nil, err
	}
	size := s.config.PageSize
	req := esapi.SearchRequest{
		Index:      q.Index,
		Body:       body,
		Size:       &size,
		Scroll:     s.config.KeepAlive,
		Header:     header,
		FilterPath: searchFilterPath,
	}
	t0 := time.Now()
	res, err := req.Do(ctx, s.client)
	if err != nil {
		finish(err)
		return nil, fmt.Errorf("failed to execute the search request: %w", err)
	}
	pg, err := s.decodePage(logger, res.StatusCode, res.Body, t0, false)
	if err != nil {
		finish(err)
		return nil, err
	}
	attrs := metric.WithAttributeSet(s.config.MetricAttributes)
	s.metrics.contextsActive.Add(context.Background(), 1, attrs)
	finish(nil)
	return pg, nil
}

// advance fetches the next page for an open scroll context, renewing its
// keep-alive. A page with no hits signals exhaustion; the context must not
// be advanced past that point.
func (s *Scroller) advance(ctx context.Context, scrollID string) (*page, error) {
	ctx, logger, finish := s.startFetch(ctx, "docscroller.scroll")
	if s.config.FetchTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FetchTimeout)
		defer cancel()
	}
	req := scrollapi.ScrollRequest{
		ScrollID:   scrollID,
		Scroll:     s.config.KeepAlive,
		FilterPath: searchFilterPath,
	}
	t0 := time.Now()
	res, err := req.Do(ctx, s.client)
	if err != nil {
		finish(err)
		return nil, fmt.Errorf("failed to execute the scroll request: %w", err)
	}
	pg, err := s.decodePage(logger, res.StatusCode, res.Body, t0, true)
	if err != nil {
		finish(err)
		return nil, err
	}
	finish(nil)
	return pg, nil
}

// clear is a best-effort release of the server-side scroll context.
// Failures are logged, not surfaced: the context will expire server-side
// once its keep-alive lapses regardless. A 404 means the context is already
// gone and counts as released.
func (s *Scroller) clear(ctx context.Context, scrollID string) {
	if s.config.FetchTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FetchTimeout)
		defer cancel()
	}
	req := scrollapi.ClearScrollRequest{ScrollID: []string{scrollID}}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		s.config.Logger.Warn("failed to clear scroll context", zap.Error(err))
		return
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		s.config.Logger.Warn("failed to clear scroll context",
			zap.Int("status_code", res.StatusCode),
			zap.String("response", res.String()),
		)
		return
	}
	attrs := metric.WithAttributeSet(s.config.MetricAttributes)
	s.metrics.contextsCleared.Add(context.Background(), 1, attrs)
}

// decodePage turns one engine response into a page, recording fetch metrics
// and mapping error statuses to the package error taxonomy. It consumes and
// closes body.
func (s *Scroller) decodePage(logger *zap.Logger, statusCode int, body io.ReadCloser, t0 time.Time, scrolling bool) (*page, error) {
	defer body.Close()
	attrs := metric.WithAttributeSet(s.config.MetricAttributes)
	s.metrics.fetchDuration.Record(context.Background(), time.Since(t0).Seconds(), attrs)

	if statusCode > 299 {
		err := statusError(statusCode, readBodyString(statusCode, body), scrolling)
		logger.Error("search request failed", zap.Error(err))
		return nil, err
	}

	var sr searchResponse
	if err := jsoniter.NewDecoder(body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("error decoding search response: %w", err)
	}
	s.metrics.pagesFetched.Add(context.Background(), 1, attrs)
	s.metrics.docsRead.Add(context.Background(), int64(len(sr.Hits.Hits)), attrs)
	logger.Debug("search page fetched",
		zap.Int("docs", len(sr.Hits.Hits)),
		zap.Int64("total", sr.Hits.Total.Value),
	)
	return &page{
		scrollID: sr.ScrollID,
		hits:     sr.Hits.Hits,
		total:    sr.Hits.Total.Value,
	}, nil
}

// statusError maps a non-2xx engine response to the error taxonomy. 404 on
// a scroll fetch means the context's keep-alive lapsed; other 4xx mean the
// request was rejected, and the rest are engine-side failures.
func statusError(statusCode int, msg string, scrolling bool) error {
	switch {
	case scrolling && statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrScrollExpired, msg)
	case statusCode >= 400 && statusCode < 500:
		return ErrorQueryRejected{StatusCode: statusCode, Message: msg}
	default:
		return ErrorSearchFailed{StatusCode: statusCode, Message: msg}
	}
}

func readBodyString(statusCode int, body io.Reader) string {
	var b bytes.Buffer
	b.ReadFrom(body) //nolint:errcheck
	if b.Len() == 0 {
		return fmt.Sprintf("[%d]", statusCode)
	}
	return fmt.Sprintf("[%d] %s", statusCode, b.String())
}

// encodeQueryBody drains the caller's query body, gzip-compressing it when
// CompressionLevel is set.
func (s *Scroller) encodeQueryBody(body io.Reader) (io.Reader, http.Header, error) {
	if body == nil || s.config.CompressionLevel == gzip.NoCompression {
		return body, nil, nil
	}
	var buf bytes.Buffer
	gzipw, _ := gzip.NewWriterLevel(&buf, s.config.CompressionLevel)
	if _, err := io.Copy(gzipw, body); err != nil {
		return nil, nil, fmt.Errorf("failed to compress query body: %w", err)
	}
	if err := gzipw.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed closing the gzip writer: %w", err)
	}
	header := make(http.Header)
	header.Set("Content-Encoding", "gzip")
	return &buf, header, nil
}

// startFetch begins APM and OTel instrumentation for one remote call. The
// returned logger carries the APM trace context, and the returned func ends
// the spans, recording err when non-nil.
func (s *Scroller) startFetch(ctx context.Context, name string) (context.Context, *zap.Logger, func(error)) {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, name)
	}
	var tx *apm.Transaction
	if s.config.Tracer != nil && apm.TransactionFromContext(ctx) == nil {
		tx = s.config.Tracer.StartTransaction(name, "request")
		ctx = apm.ContextWithTransaction(ctx, tx)
	}
	logger := s.config.Logger.With(apmzap.TraceContext(ctx)...)
	finish := func(err error) {
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}
		if tx != nil {
			tx.End()
		}
	}
	return ctx, logger, finish
}
