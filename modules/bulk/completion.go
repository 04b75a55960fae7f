// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"context"
	"sync"
	"sync/atomic"
)

// Result is the outcome of a successful work
type Result struct {
	Index   string
	ID      string
	Status  int
	Version int64
	Result  string // eg: "created", "updated", "deleted", "not_found"
}

// Completion is the handle of a submitted work, it is resolved at most once
type Completion struct {
	once    sync.Once
	done    chan struct{}
	result  *Result
	err     error
	retries atomic.Int32
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) resolve(res *Result, err error) bool {
	resolved := false
	c.once.Do(func() {
		c.result, c.err = res, err
		close(c.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the work is resolved
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the work is resolved or the context is done
func (c *Completion) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome, it must only be called after Done is closed
func (c *Completion) Result() (*Result, error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, nil
	}
}

// Err returns the failure of a resolved work
func (c *Completion) Err() error {
	_, err := c.Result()
	return err
}

// Retries is how many times the work was sent again after a retryable failure
func (c *Completion) Retries() int {
	return int(c.retries.Load())
}

// Cancel resolves the handle with ErrCanceled. A work already queued is still sent,
// only its outcome is dropped. It returns false if the work was already resolved.
func (c *Completion) Cancel() bool {
	return c.resolve(nil, ErrCanceled)
}
