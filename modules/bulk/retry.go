// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"context"
	"errors"
	"net/http"
	"time"

	"code.gitea.io/esbulk/modules/setting"
	"code.gitea.io/esbulk/modules/util"
)

// Outcome is the classification of one item of a bulk response
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	}
	return "fatal"
}

// error types reported by the cluster which go away by themselves
var retryableErrorTypes = map[string]bool{
	"es_rejected_execution_exception":         true,
	"circuit_breaking_exception":              true,
	"unavailable_shards_exception":            true,
	"no_shard_available_action_exception":     true,
	"cluster_block_exception":                 true,
	"node_not_connected_exception":            true,
	"node_closed_exception":                   true,
	"connect_transport_exception":             true,
	"receive_timeout_transport_exception":     true,
	"process_cluster_event_timeout_exception": true,
	"timeout_exception":                       true,
}

// error types caused by the work itself, sending it again gives the same answer
var fatalErrorTypes = map[string]bool{
	"version_conflict_engine_exception":   true,
	"mapper_parsing_exception":            true,
	"mapper_exception":                    true,
	"strict_dynamic_mapping_exception":    true,
	"document_parsing_exception":          true,
	"document_missing_exception":          true,
	"illegal_argument_exception":          true,
	"index_not_found_exception":           true,
	"invalid_index_name_exception":        true,
	"action_request_validation_exception": true,
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ClassifyItem decides what to do with one response item, err is nil on success
func ClassifyItem(w *Work, item *ResponseItem) (Outcome, error) {
	if item.Error == nil {
		if item.Status >= 200 && item.Status < 300 {
			return OutcomeSuccess, nil
		}
		// deleting a missing document is not a failure
		if item.Status == http.StatusNotFound && w.Kind == KindDelete {
			return OutcomeSuccess, nil
		}
	}

	itemErr := item.Error
	if itemErr == nil {
		itemErr = &ItemError{Type: "unknown", Reason: http.StatusText(item.Status)}
	}

	switch {
	case fatalErrorTypes[itemErr.Type]:
		return OutcomeFatal, &FatalItemError{Status: item.Status, Err: itemErr}
	case retryableErrorTypes[itemErr.Type], isRetryableStatus(item.Status):
		return OutcomeRetryable, &RetryableItemError{Status: item.Status, Err: itemErr}
	case item.Status >= 500:
		return OutcomeRetryable, &RetryableItemError{Status: item.Status, Err: itemErr}
	}
	return OutcomeFatal, &FatalItemError{Status: item.Status, Err: itemErr}
}

// IsRetryableTransportError reports whether a failure of a whole request may succeed later.
// Errors without a status (connection refused, timeouts) are always retryable.
func IsRetryableTransportError(err error) bool {
	if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		return isRetryableStatus(te.StatusCode) || te.StatusCode >= 500 && te.StatusCode != http.StatusNotImplemented
	}
	return true
}

// Decision is what the RetryPolicy wants done with a failed work
type Decision int

const (
	DecisionRetry Decision = iota
	DecisionFail
)

// RetryState is kept per work across its attempts
type RetryState struct {
	Attempts  int
	LastError error
	History   []error
}

// RetryPolicy bounds the number of attempts of a work and spaces them with a backoff
type RetryPolicy struct {
	MaxAttempts int
	Backoff     util.Backoff
}

// NewRetryPolicy creates the policy of a queue
func NewRetryPolicy(settings setting.BulkSettings) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: settings.MaxAttempts,
		Backoff: util.Backoff{
			Base:    settings.BackoffBase,
			Ceiling: settings.BackoffCeiling,
			Jitter:  true,
		},
	}
}

// OnFailure records a retryable failure. Once MaxAttempts failures were seen the work fails
// with a RetriesExhaustedError, otherwise it should be retried after the returned delay.
func (p *RetryPolicy) OnFailure(state *RetryState, err error) (Decision, time.Duration, error) {
	state.Attempts++
	state.LastError = err
	state.History = append(state.History, err)
	if state.Attempts >= p.MaxAttempts {
		return DecisionFail, 0, &RetriesExhaustedError{
			Attempts: state.Attempts,
			History:  append([]error(nil), state.History...),
		}
	}
	return DecisionRetry, p.Backoff.Delay(state.Attempts), nil
}
