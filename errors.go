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
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned from Next after an Iterator has been closed,
	// either explicitly or as a consequence of a fetch error.
	ErrClosed = errors.New("document iterator closed")

	// ErrScrollExpired is returned from Next when the scroll context's
	// keep-alive lapsed server-side before the next page was fetched.
	// The stream cannot be resumed; construct a new Iterator to re-execute
	// the query.
	ErrScrollExpired = errors.New("scroll context expired")
)

// ErrorQueryRejected is returned when Elasticsearch rejects the initial
// search request with a client error status. No scroll context is created
// in that case.
type ErrorQueryRejected struct {
	StatusCode int
	Message    string
}

func (e ErrorQueryRejected) Error() string {
	return fmt.Sprintf("query rejected: %s", e.Message)
}

// ErrorSearchFailed is returned when Elasticsearch responds to a search or
// scroll request with an unexpected error status.
type ErrorSearchFailed struct {
	StatusCode int
	Message    string
}

func (e ErrorSearchFailed) Error() string {
	return fmt.Sprintf("search failed: %s", e.Message)
}

// MappingError describes a single document that could not be converted by
// the stream's MapFunc. Mapping errors do not abort the stream; they are
// logged and counted in the iterator's Stats.
type MappingError struct {
	Index string
	ID    string
	Err   error
}

func (e MappingError) Error() string {
	return fmt.Sprintf("failed to map document %q in %q: %v", e.ID, e.Index, e.Err)
}

func (e MappingError) Unwrap() error { return e.Err }
