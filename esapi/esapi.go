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

// Package esapi contains a stripped down version of https://github.com/elastic/go-elasticsearch/tree/main/esapi
// which exists to maintain compatibility with v7 and v8 clients for go-docscroller usage.
package esapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Transport defines the interface for an API client.
type Transport interface {
	Perform(*http.Request) (*http.Response, error)
}

// Response represents an Elasticsearch API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       interface {
		Read(p []byte) (n int, err error)
		Close() error
	}
}

// IsError reports whether the response status code indicates an error.
func (r *Response) IsError() bool {
	return r.StatusCode > 299
}

// String returns the response status and body as a string.
// The body is consumed in the process.
func (r *Response) String() string {
	var b bytes.Buffer
	if r.Body != nil {
		b.ReadFrom(r.Body) //nolint:errcheck
	}
	if b.Len() == 0 {
		return fmt.Sprintf("[%d]", r.StatusCode)
	}
	return fmt.Sprintf("[%d] %s", r.StatusCode, b.String())
}

// formatDuration converts duration to a string in the format
// accepted by Elasticsearch.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return strconv.FormatInt(int64(d), 10) + "nanos"
	}
	return strconv.FormatInt(int64(d)/int64(time.Millisecond), 10) + "ms"
}
