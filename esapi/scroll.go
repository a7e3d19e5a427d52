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

package esapi

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.elastic.co/fastjson"
)

// ScrollRequest fetches the next page of results for an open scroll
// context, renewing its keep-alive.
type ScrollRequest struct {
	ScrollID   string
	Scroll     time.Duration
	FilterPath []string
	Header     http.Header
}

// Do executes the request using the provided transport.
func (r ScrollRequest) Do(ctx context.Context, transport Transport) (*Response, error) {
	var jsonw fastjson.Writer
	jsonw.RawString(`{"scroll":`)
	jsonw.String(formatDuration(r.Scroll))
	jsonw.RawString(`,"scroll_id":`)
	jsonw.String(r.ScrollID)
	jsonw.RawByte('}')
	return perform(ctx, transport, http.MethodPost, r.FilterPath, r.Header, jsonw.Bytes())
}

// ClearScrollRequest explicitly releases the server-side search contexts
// associated with the given scroll identifiers.
type ClearScrollRequest struct {
	ScrollID []string
	Header   http.Header
}

// Do executes the request using the provided transport.
func (r ClearScrollRequest) Do(ctx context.Context, transport Transport) (*Response, error) {
	var jsonw fastjson.Writer
	jsonw.RawString(`{"scroll_id":[`)
	for i, id := range r.ScrollID {
		if i > 0 {
			jsonw.RawByte(',')
		}
		jsonw.String(id)
	}
	jsonw.RawString(`]}`)
	return perform(ctx, transport, http.MethodDelete, nil, r.Header, jsonw.Bytes())
}

func perform(
	ctx context.Context,
	transport Transport,
	method string,
	filterPath []string,
	header http.Header,
	body []byte,
) (*Response, error) {
	path := "/_search/scroll"
	if len(filterPath) > 0 {
		q := url.Values{"filter_path": []string{strings.Join(filterPath, ",")}}
		path += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := transport.Perform(req)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: res.Body}, nil
}
