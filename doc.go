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

// Package docscroller provides an API for streaming large result sets out of
// Elasticsearch using the scroll API.
//
// This package provides an intentionally simpler and more restrictive API
// than issuing search and scroll requests by hand; it is not intended to
// cover all search use cases. It is intended for reading a query's full
// result set sequentially, one page at a time, while guaranteeing that the
// server-side scroll context is released on every exit path: normal
// exhaustion, early close, and fetch errors.
package docscroller
