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
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-docscroller"
	"github.com/elastic/go-docscroller/docscrollertest"
)

func TestEachSlice(t *testing.T) {
	srv := docscrollertest.NewScrollServer(docscrollertest.GenerateDocs(100), 10)
	scroller := newTestScroller(t, srv, docscroller.Config{PageSize: 10})

	var mu sync.Mutex
	seen := make(map[int]int)
	err := docscroller.EachSlice(context.Background(), scroller,
		docscroller.Query{
			Index: []string{"test"},
			Body:  strings.NewReader(`{"query":{"match_all":{}}}`),
		},
		2, mapSeq,
		func(seq int) error {
			mu.Lock()
			defer mu.Unlock()
			seen[seq]++
			return nil
		})
	require.NoError(t, err)

	// Every document is seen by exactly one slice.
	require.Len(t, seen, 100)
	for seq, n := range seen {
		assert.Equal(t, 1, n, "doc %d", seq)
	}

	// One scroll context per slice, each released.
	assert.Equal(t, 2, srv.Searches())
	assert.Equal(t, 2, srv.Clears())

	// Each search body carries the caller's query plus its slice parameter.
	bodies := srv.SearchBodies()
	require.Len(t, bodies, 2)
	ids := make(map[int]bool)
	for _, body := range bodies {
		var q struct {
			Query map[string]any `json:"query"`
			Slice struct {
				ID  int `json:"id"`
				Max int `json:"max"`
			} `json:"slice"`
		}
		require.NoError(t, json.Unmarshal(body, &q))
		assert.Contains(t, q.Query, "match_all")
		assert.Equal(t, 2, q.Slice.Max)
		ids[q.Slice.ID] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true}, ids)
}

func TestEachSliceValidation(t *testing.T) {
	srv := docscrollertest.NewScrollServer(nil, 10)
	scroller := newTestScroller(t, srv, docscroller.Config{})

	err := docscroller.EachSlice(context.Background(), scroller,
		docscroller.Query{Index: []string{"test"}},
		1, mapSeq,
		func(int) error { return nil })
	assert.EqualError(t, err, "expected at least 2 slices")
	assert.Equal(t, 0, srv.Searches())
}

func TestEachSliceCallbackError(t *testing.T) {
	srv := docscrollertest.NewScrollServer(docscrollertest.GenerateDocs(100), 10)
	scroller := newTestScroller(t, srv, docscroller.Config{PageSize: 10})

	boom := errors.New("downstream full")
	err := docscroller.EachSlice(context.Background(), scroller,
		docscroller.Query{Index: []string{"test"}},
		2, mapSeq,
		func(seq int) error {
			if seq >= 40 {
				return boom
			}
			return nil
		})
	assert.ErrorIs(t, err, boom)

	// Both slices release their scroll contexts before EachSlice returns,
	// even when one aborts early.
	assert.Equal(t, 2, srv.Searches())
	assert.Equal(t, 2, srv.Clears())
}
