// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package elasticsearch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"code.gitea.io/esbulk/modules/bulk"
	"code.gitea.io/esbulk/modules/log"

	"github.com/klauspost/compress/gzip"
	"github.com/olivere/elastic/v7"
)

// OlivereClient talks to the cluster with the olivere client, which also works
// with clusters that do not announce themselves as Elasticsearch
type OlivereClient struct {
	client  *elastic.Client
	timeout time.Duration
}

// NewOlivereClient creates a client, no request is sent until the first use
func NewOlivereClient(rawURL, user, passwd string, compressionLevel int, timeout time.Duration) (*OlivereClient, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(rawURL),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
		elastic.SetGzip(compressionLevel != gzip.NoCompression),
		elastic.SetRetrier(elastic.NewStopRetrier()),
	}
	if user != "" {
		opts = append(opts, elastic.SetBasicAuth(user, passwd))
	}

	level := log.GetLevel()
	if level <= log.DEBUG {
		opts = append(opts, elastic.SetTraceLog(elasticLogger{log.TRACE}))
	} else if level <= log.WARN {
		opts = append(opts, elastic.SetInfoLog(elasticLogger{log.INFO}))
	}
	opts = append(opts, elastic.SetErrorLog(elasticLogger{log.ERROR}))

	client, err := elastic.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &OlivereClient{client: client, timeout: timeout}, nil
}

func (c *OlivereClient) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// olivereError turns the errors of the olivere client into transport errors
func olivereError(err error) error {
	var elasticErr *elastic.Error
	if errors.As(err, &elasticErr) {
		return &bulk.TransportError{StatusCode: elasticErr.Status, Err: err}
	}
	return &bulk.TransportError{Err: err}
}

// Send posts the body to _bulk
func (c *OlivereClient) Send(ctx context.Context, req *bulk.Request) (*bulk.Response, error) {
	ctx, cancel := c.withTimeout(ctx, req.Timeout)
	defer cancel()

	params := url.Values{}
	if req.Refresh {
		params.Set("refresh", "true")
	}
	res, err := c.client.PerformRequest(ctx, elastic.PerformRequestOptions{
		Method:      http.MethodPost,
		Path:        "/_bulk",
		Params:      params,
		Body:        string(req.Body),
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return nil, olivereError(err)
	}

	resp, err := bulk.ParseResponse(bytes.NewReader(res.Body))
	if err != nil {
		return nil, &bulk.TransportError{StatusCode: res.StatusCode, Err: err}
	}
	log.Trace("Bulk request of %d works (%d bytes) took %dms", req.Count, len(req.Body), resp.Took)
	return resp, nil
}

func (c *OlivereClient) Flush(ctx context.Context, index string) error {
	ctx, cancel := c.withTimeout(ctx, 0)
	defer cancel()
	if _, err := c.client.Flush(index).Do(ctx); err != nil {
		return olivereError(err)
	}
	return nil
}

func (c *OlivereClient) Refresh(ctx context.Context, index string) error {
	ctx, cancel := c.withTimeout(ctx, 0)
	defer cancel()
	if _, err := c.client.Refresh(index).Do(ctx); err != nil {
		return olivereError(err)
	}
	return nil
}

func (c *OlivereClient) ForceMerge(ctx context.Context, index string) error {
	ctx, cancel := c.withTimeout(ctx, 0)
	defer cancel()
	if _, err := c.client.Forcemerge(index).Do(ctx); err != nil {
		return olivereError(err)
	}
	return nil
}

// Info asks the cluster for its name and version
func (c *OlivereClient) Info(ctx context.Context) (*ClusterInfo, error) {
	ctx, cancel := c.withTimeout(ctx, 0)
	defer cancel()

	res, err := c.client.PerformRequest(ctx, elastic.PerformRequestOptions{
		Method: http.MethodGet,
		Path:   "/",
	})
	if err != nil {
		return nil, olivereError(err)
	}
	return parseClusterInfo(bytes.NewReader(res.Body))
}
