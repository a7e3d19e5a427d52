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
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
)

// EachSlice streams the documents matching q through fn using numSlices
// concurrent scroll contexts, one per Elasticsearch scroll slice. Slices
// partition the result set server-side, so every matching document is seen
// by exactly one slice; ordering is only guaranteed within a slice.
//
// fn may be called concurrently from numSlices goroutines and must be safe
// for concurrent use. The first error cancels the remaining slices, and
// every slice's scroll context is released before EachSlice returns.
//
// Elasticsearch requires at least two slices; for a sequential stream use
// Stream instead.
func EachSlice[T any](ctx context.Context, s *Scroller, q Query, numSlices int, mapFn MapFunc[T], fn func(T) error) error {
	if numSlices < 2 {
		return errors.New("expected at least 2 slices")
	}
	bodies, err := sliceQueryBodies(q.Body, numSlices)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < numSlices; i++ {
		body := bodies[i]
		g.Go(func() error {
			it := Stream(s, Query{Index: q.Index, Body: bytes.NewReader(body)}, mapFn)
			defer it.Close()
			for {
				v, ok, err := it.Next(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				if err := fn(v); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// sliceQueryBodies injects the slice parameter into numSlices copies of the
// caller's query body.
func sliceQueryBodies(body io.Reader, numSlices int) ([][]byte, error) {
	q := make(map[string]any)
	if body != nil {
		if err := jsoniter.NewDecoder(body).Decode(&q); err != nil {
			return nil, fmt.Errorf("error decoding query body: %w", err)
		}
	}
	bodies := make([][]byte, numSlices)
	for i := 0; i < numSlices; i++ {
		q["slice"] = map[string]int{"id": i, "max": numSlices}
		b, err := jsoniter.Marshal(q)
		if err != nil {
			return nil, fmt.Errorf("error encoding query body: %w", err)
		}
		bodies[i] = b
	}
	return bodies, nil
}
