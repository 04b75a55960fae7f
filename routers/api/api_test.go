// Copyright 2024 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"code.gitea.io/esbulk/modules/bulk"
	"code.gitea.io/esbulk/modules/json"
	"code.gitea.io/esbulk/modules/setting"
	"code.gitea.io/esbulk/modules/test"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() setting.BulkSettings {
	return setting.BulkSettings{
		Name:             "books",
		QueueLength:      100,
		MaxBatchCount:    10,
		MaxBatchBytes:    1 << 20,
		SubmissionPolicy: setting.SubmissionPolicyBlocking,
		MaxInFlight:      1,
		RequestTimeout:   5 * time.Second,
		MaxAttempts:      3,
		BackoffBase:      time.Millisecond,
		BackoffCeiling:   5 * time.Millisecond,
	}
}

// createdTransport answers every work with a 201
var createdTransport = bulk.TransportFunc(func(_ context.Context, req *bulk.Request) (*bulk.Response, error) {
	resp := &bulk.Response{Took: 1}
	for i := 0; i < req.Count; i++ {
		resp.Items = append(resp.Items, &bulk.ResponseItem{Action: "index", Status: http.StatusCreated, Result: "created"})
	}
	return resp, nil
})

func doRequest(t *testing.T, h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitWorks(t *testing.T) {
	reg := prometheus.NewRegistry()
	q := bulk.NewOrchestrator("books", testSettings(), createdTransport, bulk.WithMetrics(bulk.NewMetrics(reg)))
	go q.Run()
	defer q.Terminate()
	h := Routes(q, reg)

	body := `{"kind":"index","index":"books","id":"1","payload":{"title":"Dune"}}
{"kind":"update","index":"books","id":"2","payload":{"year":1965},"upsert":true}
{"kind":"index","index":"books"}
`
	rec := doRequest(t, h, http.MethodPost, "/api/v1/works?flush=true", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp WorksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Errors)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, &WorkResult{Line: 1, Index: "books", ID: "1", Status: 201, Result: "created"}, resp.Results[0])
	assert.Equal(t, 2, resp.Results[1].Line)
	assert.Equal(t, 201, resp.Results[1].Status)
	assert.Equal(t, 3, resp.Results[2].Line)
	assert.Contains(t, resp.Results[2].Error, "invalid work")

	rec = doRequest(t, h, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats bulk.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "books", stats.Name)
	assert.Zero(t, stats.Unresolved)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/flush", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `esbulk_works_submitted_total{queue="books"} 2`)
}

func TestSubmitWorksRejected(t *testing.T) {
	s := testSettings()
	s.QueueLength = 1
	s.SubmissionPolicy = setting.SubmissionPolicyRejecting
	// not running: the first work keeps the only slot
	q := bulk.NewOrchestrator("books", s, createdTransport)
	defer q.Terminate()
	h := Routes(q, nil)

	body := `{"kind":"delete","index":"books","id":"1"}
{"kind":"delete","index":"books","id":"2"}
`
	rec := doRequest(t, h, http.MethodPost, "/api/v1/works?wait=false", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp WorksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Empty(t, resp.Results[0].Error)
	assert.Equal(t, bulk.ErrQueueFull.Error(), resp.Results[1].Error)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/works", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitWorksClosed(t *testing.T) {
	q := bulk.NewOrchestrator("books", testSettings(), createdTransport)
	q.Terminate()
	h := Routes(q, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/works", `{"kind":"delete","index":"books","id":"1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), bulk.ErrClosed.Error())
}

func TestCORS(t *testing.T) {
	defer test.MockVariableValue(&setting.CORSConfig.Enabled, true)()
	q := bulk.NewOrchestrator("books", testSettings(), createdTransport)
	defer q.Terminate()
	h := Routes(q, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
