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

// Package docscrollertest provides a fake Elasticsearch search/scroll
// backend for testing go-docscroller consumers.
package docscrollertest

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"

	"github.com/elastic/go-elasticsearch/v8"
)

// NewMockElasticsearchClient returns an elasticsearch.Client which sends search,
// scroll, clear-scroll and count requests to handler.
func NewMockElasticsearchClient(t testing.TB, handler http.Handler) *elasticsearch.Client {
	config := NewMockElasticsearchClientConfig(t, handler)
	client, err := elasticsearch.NewClient(config)
	require.NoError(t, err)
	return client
}

// NewMockElasticsearchClientConfig starts an httptest.Server, and returns an
// elasticsearch.Config which sends requests to handler. Responses carry the
// product header go-elasticsearch verifies. The httptest.Server will be
// closed via t.Cleanup.
func NewMockElasticsearchClientConfig(t testing.TB, handler http.Handler) elasticsearch.Config {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	config := elasticsearch.Config{}
	config.Addresses = []string{srv.URL}
	config.DisableRetry = true
	config.Transport = apmelasticsearch.WrapRoundTripper(http.DefaultTransport)
	return config
}

// GenerateDocs returns n distinct document sources, each carrying its
// position in a "seq" field.
func GenerateDocs(n int) [][]byte {
	docs := make([][]byte, n)
	for i := range docs {
		docs[i] = []byte(fmt.Sprintf(`{"seq":%d}`, i))
	}
	return docs
}

type scrollSession struct {
	docs     []int // indices into ScrollServer.Docs
	offset   int
	pageSize int // carried over from the initial search, as the engine does
}

// ScrollServer emulates the Elasticsearch search, scroll, clear-scroll and
// count endpoints over a fixed corpus of document sources. It hands out one
// scroll context per search, pages through the corpus respecting the
// requested page size and slice parameter, and answers fetches for cleared
// or unknown scroll ids with the engine's search_context_missing error.
//
// ScrollServer is safe for concurrent use.
type ScrollServer struct {
	// PageSize is the page size used when a search request does not carry
	// its own size parameter.
	PageSize int
	// Docs holds the corpus: one raw _source per document.
	Docs [][]byte

	mu           sync.Mutex
	nextID       int
	sessions     map[string]*scrollSession
	cleared      []string
	searches     int
	fetches      int
	clears       int
	searchBodies [][]byte
}

// NewScrollServer returns a ScrollServer serving docs in pages of pageSize.
func NewScrollServer(docs [][]byte, pageSize int) *ScrollServer {
	return &ScrollServer{
		PageSize: pageSize,
		Docs:     docs,
		sessions: make(map[string]*scrollSession),
	}
}

// Searches returns the number of initial search requests served.
func (s *ScrollServer) Searches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

// Fetches returns the number of scroll page fetches served, including
// fetches for unknown scroll ids.
func (s *ScrollServer) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// Clears returns the number of clear-scroll requests served.
func (s *ScrollServer) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// ClearedScrollIDs returns the scroll ids released so far, in release order.
func (s *ScrollServer) ClearedScrollIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.cleared...)
}

// SearchBodies returns the raw body of every initial search request served.
func (s *ScrollServer) SearchBodies() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte{}, s.searchBodies...)
}

func (s *ScrollServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	switch {
	case r.URL.Path == "/_search/scroll" && r.Method == http.MethodDelete:
		s.handleClear(w, body)
	case r.URL.Path == "/_search/scroll":
		s.handleScroll(w, body)
	case strings.HasSuffix(r.URL.Path, "/_count"):
		s.handleCount(w)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		s.handleSearch(w, r, body)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *ScrollServer) handleSearch(w http.ResponseWriter, r *http.Request, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
	s.searchBodies = append(s.searchBodies, body)

	pageSize := s.PageSize
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			pageSize = n
		}
	}
	from := 0
	if v := r.URL.Query().Get("from"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			from = n
		}
	}

	// Respect a slice parameter: partition the corpus by document position.
	docs := make([]int, 0, len(s.Docs))
	var q struct {
		Slice *struct {
			ID  int `json:"id"`
			Max int `json:"max"`
		} `json:"slice"`
	}
	json.Unmarshal(body, &q) //nolint:errcheck
	for i := range s.Docs {
		if q.Slice == nil || i%q.Slice.Max == q.Slice.ID {
			docs = append(docs, i)
		}
	}

	s.nextID++
	id := fmt.Sprintf("scroll-%d", s.nextID)
	sess := &scrollSession{docs: docs, offset: from, pageSize: pageSize}
	s.sessions[id] = sess
	s.writePage(w, id, sess)
}

func (s *ScrollServer) handleScroll(w http.ResponseWriter, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++

	var req struct {
		ScrollID string `json:"scroll_id"`
	}
	json.Unmarshal(body, &req) //nolint:errcheck
	sess, ok := s.sessions[req.ScrollID]
	if !ok {
		WriteScrollContextMissing(w)
		return
	}
	s.writePage(w, req.ScrollID, sess)
}

func (s *ScrollServer) handleClear(w http.ResponseWriter, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++

	var req struct {
		ScrollID []string `json:"scroll_id"`
	}
	json.Unmarshal(body, &req) //nolint:errcheck
	freed := 0
	for _, id := range req.ScrollID {
		if _, ok := s.sessions[id]; ok {
			delete(s.sessions, id)
			s.cleared = append(s.cleared, id)
			freed++
		}
	}
	if freed == 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"succeeded": false, "num_freed": 0,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"succeeded": true, "num_freed": freed,
	})
}

func (s *ScrollServer) handleCount(w http.ResponseWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(s.Docs)})
}

func (s *ScrollServer) writePage(w http.ResponseWriter, id string, sess *scrollSession) {
	end := sess.offset + sess.pageSize
	if end > len(sess.docs) {
		end = len(sess.docs)
	}
	hits := make([]map[string]any, 0, end-sess.offset)
	for _, idx := range sess.docs[sess.offset:end] {
		hits = append(hits, map[string]any{
			"_index":  "test",
			"_id":     fmt.Sprintf("doc-%d", idx),
			"_score":  1.0,
			"_source": json.RawMessage(s.Docs[idx]),
		})
	}
	sess.offset = end
	writeJSON(w, http.StatusOK, map[string]any{
		"_scroll_id": id,
		"hits": map[string]any{
			"total": map[string]any{"value": len(sess.docs), "relation": "eq"},
			"hits":  hits,
		},
	})
}

// WriteScrollContextMissing writes the error Elasticsearch returns when a
// scroll id refers to an expired or unknown search context.
func WriteScrollContextMissing(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": map[string]any{
			"type":   "search_phase_execution_exception",
			"reason": "all shards failed",
			"root_cause": []map[string]any{{
				"type":   "search_context_missing_exception",
				"reason": "No search context found for id",
			}},
		},
		"status": http.StatusNotFound,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func readBody(r *http.Request) []byte {
	body := r.Body
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		defer gz.Close()
		body = gz
	}
	b, err := io.ReadAll(body)
	if err != nil {
		panic(err)
	}
	return b
}
