// Copyright 2024 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package elasticsearch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"code.gitea.io/esbulk/modules/bulk"
	"code.gitea.io/esbulk/modules/test"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestESAPIClientSend(t *testing.T) {
	rec := &recorder{}
	srv := test.NewElasticsearchServer("8.11.0", clusterHandler(t, rec, http.StatusOK))
	defer srv.Close()

	c, err := NewESAPIClient(srv.URL, "", "", gzip.NoCompression, 5*time.Second)
	require.NoError(t, err)

	resp, err := c.Send(context.Background(), &bulk.Request{Body: []byte(testBulkBody), Count: 1, Refresh: true})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "created", resp.Items[0].Result)
	assert.Equal(t, 201, resp.Items[0].Status)

	request, body, encoding := rec.Last()
	assert.Equal(t, "POST /_bulk?refresh=true", request)
	assert.Equal(t, testBulkBody, body)
	assert.Empty(t, encoding)
}

func TestESAPIClientGzip(t *testing.T) {
	rec := &recorder{}
	srv := test.NewElasticsearchServer("8.11.0", clusterHandler(t, rec, http.StatusOK))
	defer srv.Close()

	c, err := NewESAPIClient(srv.URL, "", "", gzip.BestSpeed, 5*time.Second)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), &bulk.Request{Body: []byte(testBulkBody), Count: 1})
	require.NoError(t, err)

	request, body, encoding := rec.Last()
	assert.Equal(t, "POST /_bulk", request)
	assert.Equal(t, "gzip", encoding)
	assert.Equal(t, testBulkBody, body)
}

func TestESAPIClientErrors(t *testing.T) {
	rec := &recorder{}
	srv := test.NewElasticsearchServer("8.11.0", clusterHandler(t, rec, http.StatusTooManyRequests))

	c, err := NewESAPIClient(srv.URL, "", "", gzip.NoCompression, 5*time.Second)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), &bulk.Request{Body: []byte(testBulkBody), Count: 1})
	var te *bulk.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Contains(t, te.Error(), "queue full")
	assert.True(t, bulk.IsRetryableTransportError(err))

	srv.Close()
	_, err = c.Send(context.Background(), &bulk.Request{Body: []byte(testBulkBody), Count: 1})
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
	assert.True(t, bulk.IsRetryableTransportError(err))
}

func TestESAPIClientTruncatedResponse(t *testing.T) {
	srv := test.NewElasticsearchServer("8.11.0", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"took":1,"errors":false,"items":[`))
		w.(http.Flusher).Flush()
		// stall until the client gives up
		<-r.Context().Done()
	})
	defer srv.Close()

	c, err := NewESAPIClient(srv.URL, "", "", gzip.NoCompression, 5*time.Second)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), &bulk.Request{Body: []byte(testBulkBody), Count: 1, Timeout: 200 * time.Millisecond})
	var te *bulk.TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
	assert.True(t, bulk.IsRetryableTransportError(err))
}

func TestESAPIClientIndexAdmin(t *testing.T) {
	rec := &recorder{}
	srv := test.NewElasticsearchServer("7.17.0", clusterHandler(t, rec, http.StatusOK))
	defer srv.Close()

	c, err := NewESAPIClient(srv.URL, "", "", gzip.NoCompression, 5*time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx, "books"))
	require.NoError(t, c.Flush(ctx, "books"))
	require.NoError(t, c.ForceMerge(ctx, "books"))
	assert.Equal(t, []string{"POST /books/_refresh", "POST /books/_flush", "POST /books/_forcemerge"}, rec.Requests())

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, info.Major)
	assert.Equal(t, "test", info.ClusterName)
}
