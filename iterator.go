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
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// MapFunc converts one raw hit into a domain object. It must be pure and
// stateless; a single MapFunc may be shared across streams.
type MapFunc[T any] func(Hit) (T, error)

// Stats holds metadata about a stream's progress.
type Stats struct {
	// Docs is the number of documents yielded by Next.
	Docs int64
	// Pages is the number of pages fetched from the engine.
	Pages int64
	// MappingFailures is the number of documents dropped because the
	// stream's MapFunc failed to convert them.
	MappingFailures int64
	// Total is the engine's total match count for the query. It is zero
	// until the first page has been fetched.
	Total int64
}

// Iterator is a lazy, finite, non-restartable stream of documents matching
// a query. It owns one server-side scroll context, opened on the first call
// to Next and released exactly once on exhaustion, on Close, or on a fetch
// error, whichever comes first.
//
// Iterator is not safe for concurrent use: Next blocks for the duration of
// a page fetch and no other method may be called while one is in flight.
// Independent Iterators are fully independent and may run concurrently.
//
// Restarting a stream means constructing a new Iterator, which re-executes
// the original query; there is no snapshot guarantee across restarts.
type Iterator[T any] struct {
	scroller *Scroller
	query    Query
	mapFn    MapFunc[T]

	buf      []T
	scrollID string

	opened    bool
	done      bool // engine signalled stream end; no further fetches
	exhausted bool
	closed    bool
	released  bool

	docs            int64
	pages           int64
	mappingFailures int64
	total           int64
}

// Stream returns a lazy stream of documents matching q, converted by mapFn.
// No request is issued until the first call to Next, so a stream that is
// never iterated never opens a scroll context.
func Stream[T any](s *Scroller, q Query, mapFn MapFunc[T]) *Iterator[T] {
	return &Iterator[T]{scroller: s, query: q, mapFn: mapFn}
}

// Next returns the next document in the stream. It returns false once the
// stream is exhausted, after which the scroll context has already been
// released and calling Close is a no-op.
//
// Next blocks for a single page fetch when the buffered page is drained.
// A fetch error closes the stream, releasing the scroll context; the error
// is returned once, and subsequent calls return ErrClosed.
func (it *Iterator[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if it.closed {
		return zero, false, ErrClosed
	}
	if it.exhausted {
		return zero, false, nil
	}
	for len(it.buf) == 0 {
		if it.done {
			it.exhausted = true
			it.release()
			return zero, false, nil
		}
		var pg *page
		var err error
		if !it.opened {
			pg, err = it.scroller.open(ctx, it.query)
			if err != nil {
				// No scroll context is created when open fails.
				it.closed = true
				return zero, false, err
			}
			it.opened = true
			it.total = pg.total
		} else {
			pg, err = it.scroller.advance(ctx, it.scrollID)
			if err != nil {
				it.closed = true
				it.release()
				return zero, false, err
			}
		}
		it.pages++
		it.scrollID = pg.scrollID
		if len(pg.hits) == 0 || pg.scrollID == "" {
			it.done = true
		}
		it.buf = it.mapHits(pg.hits)
	}
	v := it.buf[0]
	it.buf = it.buf[1:]
	it.docs++
	return v, true, nil
}

// Close releases the stream's scroll context. It is idempotent and callable
// from any state: before the first pull and after exhaustion it is a no-op.
// Clear failures are logged, never returned, since the context expires
// server-side once its keep-alive lapses.
func (it *Iterator[T]) Close() error {
	if it.closed || it.exhausted {
		return nil
	}
	it.closed = true
	it.release()
	return nil
}

// Stats returns the stream's progress metadata. It must not be called
// while a Next call is in flight.
func (it *Iterator[T]) Stats() Stats {
	return Stats{
		Docs:            it.docs,
		Pages:           it.pages,
		MappingFailures: it.mappingFailures,
		Total:           it.total,
	}
}

func (it *Iterator[T]) release() {
	if it.released || !it.opened {
		it.released = true
		return
	}
	it.released = true
	if it.scrollID != "" {
		it.scroller.clear(context.Background(), it.scrollID)
	}
	attrs := metric.WithAttributeSet(it.scroller.config.MetricAttributes)
	it.scroller.metrics.contextsActive.Add(context.Background(), -1, attrs)
}

// mapHits converts one page of hits, dropping documents the MapFunc
// rejects. Mapping failures do not abort the page or the stream; they are
// logged and counted.
func (it *Iterator[T]) mapHits(hits []Hit) []T {
	out := make([]T, 0, len(hits))
	attrs := metric.WithAttributeSet(it.scroller.config.MetricAttributes)
	for _, h := range hits {
		v, err := it.mapFn(h)
		if err != nil {
			it.mappingFailures++
			it.scroller.metrics.docsDropped.Add(context.Background(), 1, attrs)
			it.scroller.config.Logger.Error("failed to map document",
				zap.Error(MappingError{Index: h.Index, ID: h.ID, Err: err}))
			continue
		}
		out = append(out, v)
	}
	return out
}

// All drains it to completion, returning every remaining document in engine
// order. The stream is closed before All returns, on success and on error.
func All[T any](ctx context.Context, it *Iterator[T]) ([]T, error) {
	defer it.Close()
	var out []T
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}
