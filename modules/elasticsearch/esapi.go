// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package elasticsearch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"code.gitea.io/esbulk/modules/bulk"
	"code.gitea.io/esbulk/modules/log"

	elasticsearch8 "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/klauspost/compress/gzip"
)

// ESAPIClient talks to the cluster with the official client.
// The official client refuses clusters which do not send the product header,
// use OlivereClient for clusters older than 7.14 and for OpenSearch.
type ESAPIClient struct {
	client           *elasticsearch8.Client
	compressionLevel int
	timeout          time.Duration
}

// NewESAPIClient creates a client, no request is sent until the first use
func NewESAPIClient(url, user, passwd string, compressionLevel int, timeout time.Duration) (*ESAPIClient, error) {
	client, err := elasticsearch8.NewClient(elasticsearch8.Config{
		Addresses: []string{url},
		Username:  user,
		Password:  passwd,
		// failed requests are retried by the bulk queue
		DisableRetry: true,
	})
	if err != nil {
		return nil, err
	}
	return &ESAPIClient{
		client:           client,
		compressionLevel: compressionLevel,
		timeout:          timeout,
	}, nil
}

func (c *ESAPIClient) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *ESAPIClient) compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzipw, err := gzip.NewWriterLevel(&buf, c.compressionLevel)
	if err != nil {
		return nil, err
	}
	if _, err := gzipw.Write(body); err != nil {
		return nil, err
	}
	if err := gzipw.Close(); err != nil {
		return nil, fmt.Errorf("failed closing the gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Send posts the body to _bulk
func (c *ESAPIClient) Send(ctx context.Context, req *bulk.Request) (*bulk.Response, error) {
	ctx, cancel := c.withTimeout(ctx, req.Timeout)
	defer cancel()

	body := req.Body
	header := make(http.Header)
	if c.compressionLevel != gzip.NoCompression {
		compressed, err := c.compress(body)
		if err != nil {
			return nil, &bulk.TransportError{Err: err}
		}
		body = compressed
		header.Set("Content-Encoding", "gzip")
	}

	bulkReq := esapi.BulkRequest{
		Body:   bytes.NewReader(body),
		Header: header,
	}
	if req.Refresh {
		bulkReq.Refresh = "true"
	}

	res, err := bulkReq.Do(ctx, c.client)
	if err != nil {
		return nil, &bulk.TransportError{Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError(res)
	}

	resp, err := bulk.ParseResponse(res.Body)
	if err != nil {
		// a truncated body is as good as no answer, the status of the headers says nothing
		return nil, &bulk.TransportError{Err: err}
	}
	log.Trace("Bulk request of %d works (%d bytes) took %dms", req.Count, len(req.Body), resp.Took)
	return resp, nil
}

func responseError(res *esapi.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &bulk.TransportError{
		StatusCode: res.StatusCode,
		Err:        errors.New(string(bytes.TrimSpace(msg))),
	}
}

type esapiRequest interface {
	Do(ctx context.Context, transport esapi.Transport) (*esapi.Response, error)
}

func (c *ESAPIClient) do(ctx context.Context, req esapiRequest) error {
	ctx, cancel := c.withTimeout(ctx, 0)
	defer cancel()

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return &bulk.TransportError{Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

func (c *ESAPIClient) Flush(ctx context.Context, index string) error {
	return c.do(ctx, esapi.IndicesFlushRequest{Index: []string{index}})
}

func (c *ESAPIClient) Refresh(ctx context.Context, index string) error {
	return c.do(ctx, esapi.IndicesRefreshRequest{Index: []string{index}})
}

func (c *ESAPIClient) ForceMerge(ctx context.Context, index string) error {
	return c.do(ctx, esapi.IndicesForcemergeRequest{Index: []string{index}})
}

// Info asks the cluster for its name and version
func (c *ESAPIClient) Info(ctx context.Context) (*ClusterInfo, error) {
	ctx, cancel := c.withTimeout(ctx, 0)
	defer cancel()

	res, err := esapi.InfoRequest{}.Do(ctx, c.client)
	if err != nil {
		return nil, &bulk.TransportError{Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res)
	}
	return parseClusterInfo(res.Body)
}
