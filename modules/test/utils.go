// Copyright 2017 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package test

import (
	"net/http"
	"net/http/httptest"
)

// MockVariableValue sets a variable to a new value and returns a function to restore it
func MockVariableValue[T any](p *T, v ...T) (reset func()) {
	old := *p
	if len(v) > 0 {
		*p = v[0]
	}
	return func() { *p = old }
}

// NewElasticsearchServer starts a test server which announces itself as an Elasticsearch node,
// the product header is required by the official client before any other request is sent.
func NewElasticsearchServer(version string, handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/" && r.Method != http.MethodHead {
			_, _ = w.Write([]byte(`{"name":"node-1","cluster_name":"test","version":{"number":"` + version + `","build_flavor":"default"},"tagline":"You Know, for Search"}`))
			return
		}
		if r.URL.Path == "/" {
			return
		}
		handler(w, r)
	}))
}
