// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.gitea.io/esbulk/modules/setting"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runOrchestrator(t *testing.T, o *Orchestrator) {
	go o.Run()
	t.Cleanup(o.Terminate)
}

func flush(t *testing.T, o *Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Flush(ctx))
}

func submit(t *testing.T, o *Orchestrator, w Work) *Completion {
	c, err := o.Submit(context.Background(), w)
	require.NoError(t, err)
	return c
}

func TestOrchestratorSingleBatch(t *testing.T) {
	transport := newStubTransport(t)
	metrics := NewMetrics(prometheus.NewRegistry())
	o := NewOrchestrator("books", testSettings(), transport, WithMetrics(metrics))
	runOrchestrator(t, o)

	var completions []*Completion
	for _, id := range []string{"A", "B", "C"} {
		completions = append(completions, submit(t, o, indexWork("books", id, `{"title":"`+id+`"}`)))
	}
	flush(t, o)

	batches := transport.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 3)
	for i, id := range []string{"A", "B", "C"} {
		assert.Equal(t, id, batches[0][i].ID)
		assert.Equal(t, "index", batches[0][i].Action)

		res, err := completions[i].Result()
		require.NoError(t, err)
		assert.Equal(t, id, res.ID)
		assert.Equal(t, "created", res.Result)
		assert.Equal(t, 0, completions[i].Retries())
	}

	assert.InDelta(t, 3, testutil.ToFloat64(metrics.submitted.WithLabelValues("books")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.completed.WithLabelValues("books", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.batches.WithLabelValues("books", "ok")), 0)
	assert.Equal(t, Stats{Name: "books"}, o.Stats())
}

func TestOrchestratorRetryThenSuccess(t *testing.T) {
	transport := newStubTransport(t)
	transport.handler = func(call int, lines []bulkLine) (*Response, error) {
		if call <= 2 {
			return &Response{Errors: true, Items: []*ResponseItem{{
				Action: "index", Index: "books", ID: "A", Status: http.StatusTooManyRequests,
				Error: &ItemError{Type: "es_rejected_execution_exception", Reason: "rejected execution"},
			}}}, nil
		}
		return &Response{Items: okItems(lines)}, nil
	}
	o := NewOrchestrator("books", testSettings(), transport)
	runOrchestrator(t, o)

	c := submit(t, o, indexWork("books", "A", `{}`))
	flush(t, o)

	_, err := c.Result()
	assert.NoError(t, err)
	assert.Equal(t, 2, c.Retries())
	assert.Len(t, transport.Batches(), 3)
}

func TestOrchestratorSequentialBatches(t *testing.T) {
	transport := newStubTransport(t)
	transport.delay = 5 * time.Millisecond
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.MaxBatchCount = 2
	}), transport)
	runOrchestrator(t, o)

	for i := 0; i < 5; i++ {
		submit(t, o, indexWork("books", fmt.Sprint(i), `{}`))
	}
	flush(t, o)

	assert.Equal(t, []int{2, 2, 1}, transport.BatchSizes())
	assert.EqualValues(t, 1, transport.maxInFlight.Load())
}

func TestOrchestratorByteThreshold(t *testing.T) {
	w := indexWork("books", "0", `{"title":"a book"}`)
	size := NewBuilder(nil).EstimateSize(&w)

	transport := newStubTransport(t)
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.MaxBatchCount = 100
		s.MaxBatchBytes = 3 * size
	}), transport)
	runOrchestrator(t, o)

	for i := 0; i < 7; i++ {
		submit(t, o, indexWork("books", fmt.Sprint(i), `{"title":"a book"}`))
	}
	flush(t, o)
	assert.Equal(t, []int{3, 3, 1}, transport.BatchSizes())
}

func TestOrchestratorOversizedWork(t *testing.T) {
	transport := newStubTransport(t)
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.MaxBatchBytes = 10
	}), transport)
	runOrchestrator(t, o)

	c1 := submit(t, o, indexWork("books", "1", `{"title":"far too long for the limit"}`))
	c2 := submit(t, o, indexWork("books", "2", `{"title":"also too long"}`))
	flush(t, o)

	assert.Equal(t, []int{1, 1}, transport.BatchSizes())
	assert.NoError(t, c1.Err())
	assert.NoError(t, c2.Err())
}

func TestOrchestratorRejectingPolicy(t *testing.T) {
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.QueueLength = 2
		s.SubmissionPolicy = setting.SubmissionPolicyRejecting
	}), newStubTransport(t))
	// the queue is not running so nothing is dispatched

	c1 := submit(t, o, indexWork("books", "1", `{}`))
	c2 := submit(t, o, indexWork("books", "2", `{}`))

	start := time.Now()
	_, err := o.Submit(context.Background(), indexWork("books", "3", `{}`))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 2, o.Len())

	o.Terminate()
	assert.ErrorIs(t, c1.Err(), ErrClosed)
	assert.ErrorIs(t, c2.Err(), ErrClosed)

	_, err = o.Submit(context.Background(), indexWork("books", "4", `{}`))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOrchestratorBlockingPolicy(t *testing.T) {
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.QueueLength = 1
		s.FlushInterval = 10 * time.Millisecond
	}), newStubTransport(t))

	submit(t, o, indexWork("books", "1", `{}`))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.Submit(ctx, indexWork("books", "2", `{}`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// a blocked submitter gets space once the queue dispatches
	done := make(chan error, 1)
	go func() {
		c, err := o.Submit(context.Background(), indexWork("books", "3", `{}`))
		if err == nil {
			_, err = c.Wait(context.Background())
		}
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("submit should block, got %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	go o.Run()
	defer o.Terminate()
	flush(t, o)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked submitter was never released")
	}
}

func TestOrchestratorBlockedSubmitterClosed(t *testing.T) {
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.QueueLength = 1
	}), newStubTransport(t))
	submit(t, o, indexWork("books", "1", `{}`))

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), indexWork("books", "2", `{}`))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	o.Terminate()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked submitter was never released")
	}
}

func TestOrchestratorPerDocumentOrdering(t *testing.T) {
	transport := newStubTransport(t)
	transport.delay = 2 * time.Millisecond

	var mu sync.Mutex
	inFlight := map[string]bool{}
	var orderOfA []string
	transport.handler = func(call int, lines []bulkLine) (*Response, error) {
		mu.Lock()
		for _, l := range lines {
			if inFlight[l.ID] {
				t.Errorf("document %s is in two in-flight batches", l.ID)
			}
			inFlight[l.ID] = true
			if l.ID == "A" {
				orderOfA = append(orderOfA, l.Payload)
			}
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		for _, l := range lines {
			inFlight[l.ID] = false
		}
		mu.Unlock()
		return &Response{Items: okItems(lines)}, nil
	}

	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.MaxBatchCount = 1
		s.MaxInFlight = 4
	}), transport)
	runOrchestrator(t, o)

	var expected []string
	for i := 0; i < 10; i++ {
		payload := fmt.Sprintf(`{"v":%d}`, i)
		expected = append(expected, payload)
		submit(t, o, indexWork("books", "A", payload))
		submit(t, o, indexWork("books", fmt.Sprintf("B%d", i), payload))
	}
	flush(t, o)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, expected, orderOfA)
}

func TestOrchestratorRetriesExhausted(t *testing.T) {
	transport := newStubTransport(t)
	transport.handler = func(call int, lines []bulkLine) (*Response, error) {
		return &Response{Errors: true, Items: []*ResponseItem{{
			Action: "index", Index: "books", ID: "A", Status: http.StatusServiceUnavailable,
			Error: &ItemError{Type: "unavailable_shards_exception", Reason: "primary shard is not active"},
		}}}, nil
	}
	reporter := &recordingReporter{}
	o := NewOrchestrator("books", testSettings(), transport, WithIncidentReporter(reporter))
	runOrchestrator(t, o)

	c := submit(t, o, indexWork("books", "A", `{}`))
	flush(t, o)

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, c.Err(), &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Len(t, exhausted.History, 3)
	var retryable *RetryableItemError
	assert.ErrorAs(t, c.Err(), &retryable)
	assert.Len(t, transport.Batches(), 3)
	assert.Equal(t, 2, c.Retries())

	incidents := reporter.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, IncidentRetriesExhausted, incidents[0].Kind)
	assert.NotEmpty(t, incidents[0].ID)
	assert.Equal(t, "A", incidents[0].Works[0].DocumentID)
}

func TestOrchestratorCorrelationFailure(t *testing.T) {
	transport := newStubTransport(t)
	transport.handler = func(call int, lines []bulkLine) (*Response, error) {
		return &Response{Items: okItems(lines[:1])}, nil
	}
	reporter := &recordingReporter{}
	o := NewOrchestrator("books", testSettings(), transport, WithIncidentReporter(reporter))
	runOrchestrator(t, o)

	c1 := submit(t, o, indexWork("books", "A", `{}`))
	c2 := submit(t, o, indexWork("books", "B", `{}`))
	flush(t, o)

	for _, c := range []*Completion{c1, c2} {
		var corrErr *CorrelationError
		require.ErrorAs(t, c.Err(), &corrErr)
		assert.Equal(t, 2, corrErr.Expected)
		assert.Equal(t, 1, corrErr.Got)
	}
	assert.Len(t, transport.Batches(), 1)

	incidents := reporter.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, IncidentCorrelation, incidents[0].Kind)
	assert.Len(t, incidents[0].Works, 2)
}

func TestOrchestratorFatalItem(t *testing.T) {
	transport := newStubTransport(t)
	transport.handler = func(call int, lines []bulkLine) (*Response, error) {
		items := okItems(lines)
		items[1].Status = http.StatusBadRequest
		items[1].Error = &ItemError{Type: "mapper_parsing_exception", Reason: "failed to parse field [year]"}
		return &Response{Errors: true, Items: items}, nil
	}
	reporter := &recordingReporter{}
	o := NewOrchestrator("books", testSettings(), transport, WithIncidentReporter(reporter))
	runOrchestrator(t, o)

	c1 := submit(t, o, indexWork("books", "A", `{}`))
	c2 := submit(t, o, indexWork("books", "B", `{"year":"unknown"}`))
	flush(t, o)

	assert.NoError(t, c1.Err())
	var fatal *FatalItemError
	require.ErrorAs(t, c2.Err(), &fatal)
	assert.Equal(t, "mapper_parsing_exception", fatal.Err.Type)
	assert.Len(t, transport.Batches(), 1)
	require.Len(t, reporter.Incidents(), 1)
	assert.Equal(t, IncidentFatal, reporter.Incidents()[0].Kind)
}

func TestOrchestratorTransportErrors(t *testing.T) {
	transport := newStubTransport(t)
	transport.handler = func(call int, lines []bulkLine) (*Response, error) {
		switch call {
		case 1:
			return nil, &TransportError{Err: errors.New("connection refused")}
		case 2:
			return nil, &TransportError{StatusCode: http.StatusServiceUnavailable, Err: errors.New("no master")}
		}
		return &Response{Items: okItems(lines)}, nil
	}
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.MaxAttempts = 5
	}), transport)
	runOrchestrator(t, o)

	c := submit(t, o, indexWork("books", "A", `{}`))
	flush(t, o)
	assert.NoError(t, c.Err())
	assert.Equal(t, 2, c.Retries())

	transport.handler = func(call int, lines []bulkLine) (*Response, error) {
		return nil, &TransportError{StatusCode: http.StatusBadRequest, Err: errors.New("malformed action")}
	}
	c = submit(t, o, indexWork("books", "B", `{}`))
	flush(t, o)
	var te *TransportError
	require.ErrorAs(t, c.Err(), &te)
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	assert.Equal(t, 0, c.Retries())
}

func TestOrchestratorIndexWideBarrier(t *testing.T) {
	transport := newStubTransport(t)
	transport.delay = 5 * time.Millisecond
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.MaxInFlight = 4
	}), transport)
	runOrchestrator(t, o)

	submit(t, o, indexWork("books", "A", `{}`))
	submit(t, o, indexWork("books", "B", `{}`))
	refresh := submit(t, o, Work{Kind: KindRefresh, IndexName: "books"})
	submit(t, o, indexWork("books", "C", `{}`))
	flush(t, o)

	assert.Equal(t, []string{"bulk[A B]", "refresh:books", "bulk[C]"}, transport.Events())
	res, err := refresh.Result()
	require.NoError(t, err)
	assert.Equal(t, "refresh", res.Result)
}

func TestOrchestratorIndexWideWithoutAdmin(t *testing.T) {
	transport := newStubTransport(t)
	o := NewOrchestrator("books", testSettings(), TransportFunc(transport.Send))
	runOrchestrator(t, o)

	c := submit(t, o, Work{Kind: KindFlush, IndexName: "books"})
	flush(t, o)
	assert.ErrorIs(t, c.Err(), ErrNotBulkable)
}

func TestOrchestratorCancel(t *testing.T) {
	transport := newStubTransport(t)
	o := NewOrchestrator("books", testSettings(), transport)
	runOrchestrator(t, o)

	c := submit(t, o, indexWork("books", "A", `{}`))
	assert.True(t, c.Cancel())
	assert.ErrorIs(t, c.Err(), ErrCanceled)

	flush(t, o)
	// the work is still sent, only its outcome is dropped
	assert.Len(t, transport.Batches(), 1)
	assert.ErrorIs(t, c.Err(), ErrCanceled)
	assert.False(t, c.Cancel())
}

func TestOrchestratorFlushInterval(t *testing.T) {
	transport := newStubTransport(t)
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.FlushInterval = 10 * time.Millisecond
	}), transport)
	runOrchestrator(t, o)

	c := submit(t, o, indexWork("books", "A", `{}`))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Wait(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []int{1}, transport.BatchSizes())
}

func TestOrchestratorNoPartialBatchWithoutFlush(t *testing.T) {
	transport := newStubTransport(t)
	o := NewOrchestrator("books", testSettings(), transport)
	runOrchestrator(t, o)

	c := submit(t, o, indexWork("books", "A", `{}`))
	select {
	case <-c.Done():
		t.Fatal("a partial batch must wait for a flush")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Empty(t, transport.Batches())
	flush(t, o)
	assert.NoError(t, c.Err())
}

func TestOrchestratorShutdown(t *testing.T) {
	transport := newStubTransport(t)
	o := NewOrchestrator("books", testSettings(), transport)
	go o.Run()

	var completions []*Completion
	for _, id := range []string{"A", "B", "C"} {
		completions = append(completions, submit(t, o, indexWork("books", id, `{}`)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	for _, c := range completions {
		assert.NoError(t, c.Err())
	}
	_, err := o.Submit(context.Background(), indexWork("books", "D", `{}`))
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, o.Stats().Closed)
}

func TestOrchestratorSubmitInvalidWork(t *testing.T) {
	o := NewOrchestrator("books", testSettings(), newStubTransport(t))
	defer o.Terminate()

	_, err := o.Submit(context.Background(), Work{Kind: KindIndex, IndexName: "books", DocumentID: "A"})
	assert.ErrorIs(t, err, ErrInvalidWork)
	_, err = o.Submit(context.Background(), indexWork("books", "A", `{"broken"`))
	assert.ErrorIs(t, err, ErrInvalidWork)
	assert.Equal(t, 0, o.Len())
}

func TestOrchestratorSameKeyRetryKeepsOrder(t *testing.T) {
	transport := newStubTransport(t)
	transport.handler = func(call int, lines []bulkLine) (*Response, error) {
		if call == 1 {
			items := okItems(lines)
			for _, item := range items {
				item.Status = http.StatusTooManyRequests
				item.Result = ""
				item.Error = &ItemError{Type: "es_rejected_execution_exception", Reason: "rejected execution"}
			}
			return &Response{Errors: true, Items: items}, nil
		}
		return &Response{Items: okItems(lines)}, nil
	}
	o := NewOrchestrator("books", testSettings(), transport)
	runOrchestrator(t, o)

	c1 := submit(t, o, indexWork("books", "A", `{"v":1}`))
	c2 := submit(t, o, indexWork("books", "A", `{"v":2}`))
	flush(t, o)

	require.NoError(t, c1.Err())
	require.NoError(t, c2.Err())
	assert.Equal(t, 1, c1.Retries())
	assert.Equal(t, 0, c2.Retries())

	var payloads []string
	for _, batch := range transport.Batches() {
		require.Len(t, batch, 1)
		payloads = append(payloads, batch[0].Payload)
	}
	assert.Equal(t, []string{`{"v":1}`, `{"v":1}`, `{"v":2}`}, payloads)
}

func TestOrchestratorSaturatedQueueDispatches(t *testing.T) {
	transport := newStubTransport(t)
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.QueueLength = 2
		s.MaxBatchCount = 10
	}), transport)
	runOrchestrator(t, o)

	var wg sync.WaitGroup
	completions := make([]*Completion, 5)
	errs := make([]error, 5)
	for i := range completions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			completions[i], errs[i] = o.Submit(ctx, indexWork("books", fmt.Sprint(i), `{}`))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	flush(t, o)
	for _, c := range completions {
		assert.NoError(t, c.Err())
	}
	sent := 0
	for _, size := range transport.BatchSizes() {
		assert.LessOrEqual(t, size, 2)
		sent += size
	}
	assert.Equal(t, 5, sent)
}

func TestOrchestratorRetryKeepsFlushIntervalClock(t *testing.T) {
	transport := newStubTransport(t)
	var mu sync.Mutex
	var sentAt []time.Time
	transport.handler = func(call int, lines []bulkLine) (*Response, error) {
		mu.Lock()
		sentAt = append(sentAt, time.Now())
		mu.Unlock()
		items := okItems(lines)
		if call == 1 {
			items[0].Status = http.StatusTooManyRequests
			items[0].Error = &ItemError{Type: "es_rejected_execution_exception", Reason: "rejected execution"}
		}
		return &Response{Errors: call == 1, Items: items}, nil
	}
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.MaxBatchCount = 2
		s.FlushInterval = 200 * time.Millisecond
	}), transport)
	runOrchestrator(t, o)

	c := submit(t, o, indexWork("books", "A", `{}`))
	time.Sleep(150 * time.Millisecond)
	// B fills the batch, A comes back alone and waits for its own interval
	submit(t, o, indexWork("books", "B", `{}`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Retries())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sentAt, 2)
	assert.Less(t, sentAt[1].Sub(sentAt[0]), 150*time.Millisecond)
}

func TestOrchestratorShutdownDeadline(t *testing.T) {
	t.Run("InFlight", func(t *testing.T) {
		transport := newStubTransport(t)
		transport.delay = 10 * time.Second
		o := NewOrchestrator("books", testSettings(), transport)
		go o.Run()

		c := submit(t, o, indexWork("books", "A", `{}`))
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		assert.ErrorIs(t, o.Shutdown(ctx), context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 5*time.Second)

		select {
		case <-c.Done():
		default:
			t.Fatal("work is unresolved after shutdown")
		}
		assert.ErrorIs(t, c.Err(), ErrClosed)
		assert.Len(t, transport.Batches(), 1)
	})

	t.Run("Backoff", func(t *testing.T) {
		transport := newStubTransport(t)
		transport.handler = func(call int, lines []bulkLine) (*Response, error) {
			return nil, &TransportError{StatusCode: http.StatusServiceUnavailable, Err: errors.New("no master")}
		}
		o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
			s.BackoffBase = 10 * time.Second
			s.BackoffCeiling = 10 * time.Second
		}), transport)
		go o.Run()

		c := submit(t, o, indexWork("books", "A", `{}`))
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		assert.ErrorIs(t, o.Shutdown(ctx), context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 5*time.Second)

		assert.ErrorIs(t, c.Err(), ErrClosed)
		assert.Contains(t, c.Err().Error(), "no master")
		assert.Equal(t, 1, c.Retries())
		assert.Len(t, transport.Batches(), 1)
	})
}

// refreshCheckTransport runs a check right before the refresh reaches the cluster
type refreshCheckTransport struct {
	*stubTransport
	check func()
}

func (r *refreshCheckTransport) Refresh(ctx context.Context, index string) error {
	r.check()
	return r.stubTransport.Refresh(ctx, index)
}

func TestOrchestratorBarrierWaitsForConcurrentBatches(t *testing.T) {
	stub := newStubTransport(t)
	stub.delay = 20 * time.Millisecond

	var a, b *Completion
	var checked, resolved atomic.Bool
	transport := &refreshCheckTransport{stubTransport: stub, check: func() {
		checked.Store(true)
		resolved.Store(stub.inFlight.Load() == 0 && a.Err() == nil && b.Err() == nil && isDone(a) && isDone(b))
	}}
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.MaxBatchCount = 1
		s.MaxInFlight = 2
	}), transport)
	runOrchestrator(t, o)

	a = submit(t, o, indexWork("books", "A", `{}`))
	b = submit(t, o, indexWork("books", "B", `{}`))
	refresh := submit(t, o, Work{Kind: KindRefresh, IndexName: "books"})
	submit(t, o, indexWork("books", "C", `{}`))
	flush(t, o)

	require.NoError(t, refresh.Err())
	assert.True(t, checked.Load())
	assert.True(t, resolved.Load(), "refresh ran before the earlier works were resolved")

	events := stub.Events()
	require.Len(t, events, 4)
	assert.ElementsMatch(t, []string{"bulk[A]", "bulk[B]"}, events[:2])
	assert.Equal(t, []string{"refresh:books", "bulk[C]"}, events[2:])
}

func isDone(c *Completion) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

func TestOrchestratorCancelInFlight(t *testing.T) {
	transport := newStubTransport(t)
	transport.delay = 50 * time.Millisecond
	metrics := NewMetrics(prometheus.NewRegistry())
	o := NewOrchestrator("books", testSettings(func(s *setting.BulkSettings) {
		s.MaxBatchCount = 1
	}), transport, WithMetrics(metrics))
	runOrchestrator(t, o)

	c := submit(t, o, indexWork("books", "A", `{}`))
	require.Eventually(t, func() bool {
		return transport.inFlight.Load() == 1
	}, 5*time.Second, time.Millisecond)

	assert.True(t, c.Cancel())
	assert.ErrorIs(t, c.Err(), ErrCanceled)
	flush(t, o)

	batches := transport.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "A", batches[0][0].ID)
	assert.ErrorIs(t, c.Err(), ErrCanceled)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.completed.WithLabelValues("books", "canceled")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.completed.WithLabelValues("books", "success")), 0)
}
