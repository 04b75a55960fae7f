// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"context"
	"fmt"
	"time"
)

// Request is what a Transport sends to the _bulk endpoint
type Request struct {
	Body    []byte
	Count   int
	Refresh bool
	Timeout time.Duration
}

// Transport sends a bulk body to the cluster.
// A failure of the whole request should be returned as *TransportError.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// IndexAdmin executes the index-wide works which have no _bulk action
type IndexAdmin interface {
	Flush(ctx context.Context, index string) error
	Refresh(ctx context.Context, index string) error
	ForceMerge(ctx context.Context, index string) error
}

// TransportFunc is an adapter to use an ordinary function as Transport
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

func runIndexAdmin(ctx context.Context, admin IndexAdmin, w *Work) error {
	switch w.Kind {
	case KindFlush:
		return admin.Flush(ctx, w.IndexName)
	case KindRefresh:
		return admin.Refresh(ctx, w.IndexName)
	case KindOptimizeMerge:
		return admin.ForceMerge(ctx, w.IndexName)
	}
	return fmt.Errorf("%w: %s is not an index-wide work", ErrInvalidWork, w.Kind)
}
