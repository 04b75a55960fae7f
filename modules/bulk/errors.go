// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrQueueFull   = errors.New("bulk queue is full")
	ErrClosed      = errors.New("bulk queue is closed")
	ErrCanceled    = errors.New("work canceled")
	ErrInvalidWork = errors.New("invalid work")
	ErrNotBulkable = errors.New("work can not be sent in a bulk request")
)

// CorrelationError means the response does not have one item per request item,
// nothing in the response can be trusted to belong to a given work
type CorrelationError struct {
	Expected int
	Got      int
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("bulk response has %d items for %d requested works", e.Got, e.Expected)
}

// TransportError is a failure of the whole request, StatusCode is 0 when no response was received
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("bulk transport: %v", e.Err)
	}
	return fmt.Sprintf("bulk transport: %s: %v", http.StatusText(e.StatusCode), e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ItemError is the error the cluster reported for one item
type ItemError struct {
	Type     string     `json:"type"`
	Reason   string     `json:"reason"`
	Index    string     `json:"index,omitempty"`
	CausedBy *ItemError `json:"caused_by,omitempty"`
}

func (e *ItemError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Type)
	if e.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	}
	if e.CausedBy != nil {
		sb.WriteString(" (caused by ")
		sb.WriteString(e.CausedBy.Error())
		sb.WriteString(")")
	}
	return sb.String()
}

// RetryableItemError is a transient per-item failure, eg: the cluster rejected the execution
type RetryableItemError struct {
	Status int
	Err    *ItemError
}

func (e *RetryableItemError) Error() string {
	return fmt.Sprintf("retryable item failure, status %d: %v", e.Status, e.Err)
}

func (e *RetryableItemError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// FatalItemError is a per-item failure that a retry can not fix, eg: a mapping error
type FatalItemError struct {
	Status int
	Err    *ItemError
}

func (e *FatalItemError) Error() string {
	return fmt.Sprintf("item failure, status %d: %v", e.Status, e.Err)
}

func (e *FatalItemError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// RetriesExhaustedError carries every error seen by a work which was retried until the limit
type RetriesExhaustedError struct {
	Attempts int
	History  []error
}

func (e *RetriesExhaustedError) Error() string {
	var last error
	if len(e.History) > 0 {
		last = e.History[len(e.History)-1]
	}
	return fmt.Sprintf("giving up after %d attempts, last error: %v", e.Attempts, last)
}

func (e *RetriesExhaustedError) Unwrap() []error {
	return e.History
}
