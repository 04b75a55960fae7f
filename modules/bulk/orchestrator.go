// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"code.gitea.io/esbulk/modules/log"
	"code.gitea.io/esbulk/modules/setting"
	"code.gitea.io/esbulk/modules/util"

	"github.com/emirpasic/gods/lists/doublylinkedlist"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// item is a work owned by the queue until it is resolved
type item struct {
	work       Work
	completion *Completion
	seq        uint64
	size       int64
	enqueuedAt time.Time
	retry      RetryState

	holdsSlot bool // counts against QueueLength
	holdsKey  bool // its document key is reserved in inflightKeys
}

type flushWaiter struct {
	target    uint64
	remaining int
	done      chan struct{}
}

// Option configures an Orchestrator
type Option func(o *Orchestrator)

// WithDialect sets the dialect of the bulk metadata, DefaultDialect is used otherwise
func WithDialect(d *Dialect) Option {
	return func(o *Orchestrator) { o.dialect = d }
}

// WithIndexAdmin sets what executes the index-wide works, by default the transport if it can
func WithIndexAdmin(admin IndexAdmin) Option {
	return func(o *Orchestrator) { o.admin = admin }
}

// WithIncidentReporter sets the diagnostic channel, by default incidents are only logged
func WithIncidentReporter(r IncidentReporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator queues works and dispatches them as bulk requests.
//
// All batch composition happens in the doRun loop. Works with the same document key are
// never in two in-flight batches, a work is deferred while its key is reserved. Works which
// failed with a retryable error keep their key reserved during the backoff and go back to
// the front of the queue.
type Orchestrator struct {
	name      string
	settings  setting.BulkSettings
	transport Transport
	admin     IndexAdmin
	dialect   *Dialect
	sizer     *Builder
	policy    *RetryPolicy
	reporter  IncidentReporter
	metrics   *Metrics

	ctxRun       context.Context
	ctxRunCancel context.CancelFunc
	closedChan   chan struct{}
	runDone      chan struct{}
	running      atomic.Bool

	slots    chan struct{}
	wakeChan chan struct{}
	sem      *semaphore.Weighted
	wg       sync.WaitGroup

	mu              sync.Mutex
	queue           *doublylinkedlist.List // of *item
	inflightKeys    map[DocumentKey]int
	inflightBatches int
	barrierInFlight bool
	backoffPending  int
	seq             uint64
	forceSeq        uint64 // queued works up to this seq are sent even in a partial batch
	unresolved      int
	flushWaiters    []*flushWaiter
	closed          bool
}

// NewOrchestrator creates a queue sending its bulk requests with the transport
func NewOrchestrator(name string, settings setting.BulkSettings, transport Transport, opts ...Option) *Orchestrator {
	if settings.MaxInFlight <= 0 {
		settings.MaxInFlight = 1
	}
	o := &Orchestrator{
		name:         name,
		settings:     settings,
		transport:    transport,
		policy:       NewRetryPolicy(settings),
		reporter:     LogReporter{},
		closedChan:   make(chan struct{}),
		runDone:      make(chan struct{}),
		slots:        make(chan struct{}, settings.QueueLength),
		wakeChan:     make(chan struct{}, 1),
		sem:          semaphore.NewWeighted(int64(settings.MaxInFlight)),
		queue:        doublylinkedlist.New(),
		inflightKeys: map[DocumentKey]int{},
	}
	o.ctxRun, o.ctxRunCancel = context.WithCancel(context.Background())
	if admin, ok := transport.(IndexAdmin); ok {
		o.admin = admin
	}
	for _, opt := range opts {
		opt(o)
	}
	o.sizer = NewBuilder(o.dialect)
	o.dialect = o.sizer.Dialect()
	return o
}

func (o *Orchestrator) Name() string {
	return o.name
}

// Submit validates the work and queues it. When the queue is full it returns ErrQueueFull
// under the rejecting policy, under the blocking policy it waits for room, the context or
// the shutdown of the queue.
func (o *Orchestrator) Submit(ctx context.Context, w Work) (*Completion, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	select {
	case <-o.closedChan:
		return nil, ErrClosed
	default:
	}
	if err := o.acquireSlot(ctx); err != nil {
		return nil, err
	}

	it := &item{
		work:       w,
		completion: newCompletion(),
		size:       o.sizer.EstimateSize(&w),
		holdsSlot:  true,
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.slots
		return nil, ErrClosed
	}
	o.seq++
	it.seq = o.seq
	o.unresolved++
	o.enqueueLocked(false, it)
	o.mu.Unlock()

	o.metrics.workSubmitted(o.name)
	o.wake()
	return it.completion, nil
}

func (o *Orchestrator) acquireSlot(ctx context.Context) error {
	select {
	case o.slots <- struct{}{}:
		return nil
	default:
	}
	if o.settings.SubmissionPolicy == setting.SubmissionPolicyRejecting {
		return ErrQueueFull
	}
	select {
	case o.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.closedChan:
		return ErrClosed
	}
}

// enqueueLocked is the single entry point of the queue, for submissions and retries
func (o *Orchestrator) enqueueLocked(front bool, items ...*item) {
	now := time.Now()
	values := make([]any, len(items))
	for i, it := range items {
		// a retry keeps its place on the flush interval clock
		if it.enqueuedAt.IsZero() {
			it.enqueuedAt = now
		}
		values[i] = it
	}
	if front {
		o.queue.Prepend(values...)
	} else {
		o.queue.Add(values...)
	}
	o.metrics.setGauges(o.name, o.queue.Size(), o.inflightBatches)
}

func (o *Orchestrator) wake() {
	select {
	case o.wakeChan <- struct{}{}:
	default:
	}
}

// Flush sends everything queued regardless of the batch thresholds and waits until
// every work submitted before the call is resolved, retries included
func (o *Orchestrator) Flush(ctx context.Context) error {
	o.mu.Lock()
	if o.unresolved == 0 {
		o.mu.Unlock()
		return nil
	}
	w := &flushWaiter{target: o.seq, remaining: o.unresolved, done: make(chan struct{})}
	o.flushWaiters = append(o.flushWaiters, w)
	o.forceSeq = max(o.forceSeq, o.seq)
	o.mu.Unlock()

	log.Debug("Queue %q starts flushing %d works", o.name, w.remaining)
	o.wake()

	select {
	case <-w.done:
		log.Debug("Queue %q finishes flushing", o.name)
		return nil
	case <-ctx.Done():
		o.mu.Lock()
		for i, fw := range o.flushWaiters {
			if fw == w {
				o.flushWaiters = append(o.flushWaiters[:i], o.flushWaiters[i+1:]...)
				break
			}
		}
		o.mu.Unlock()
		return ctx.Err()
	}
}

// Run is the main loop of the queue, it returns once the queue is terminated
func (o *Orchestrator) Run() {
	if !o.running.CompareAndSwap(false, true) {
		return
	}
	defer close(o.runDone)
	o.doRun()
}

func (o *Orchestrator) doRun() {
	log.Debug("Queue %q starts running", o.name)
	defer log.Debug("Queue %q stops running", o.name)

	timer := time.NewTimer(time.Hour)
	util.StopTimer(timer)
	defer util.StopTimer(timer)

	for {
		o.doDispatch()

		var timerC <-chan time.Time
		o.mu.Lock()
		d, ok := o.nextTimedDispatchLocked()
		o.mu.Unlock()
		if ok {
			util.ResetTimer(timer, d)
			timerC = timer.C
		}

		select {
		case <-o.wakeChan:
		case <-timerC:
			o.mu.Lock()
			o.forceSeq = max(o.forceSeq, o.seq)
			o.mu.Unlock()
		case <-o.ctxRun.Done():
			return
		}
	}
}

// nextTimedDispatchLocked returns when the oldest work which is not yet forced out reaches FlushInterval
func (o *Orchestrator) nextTimedDispatchLocked() (time.Duration, bool) {
	if o.settings.FlushInterval <= 0 {
		return 0, false
	}
	var oldest time.Time
	for it := o.queue.Iterator(); it.Next(); {
		qi := it.Value().(*item)
		if qi.seq > o.forceSeq && (oldest.IsZero() || qi.enqueuedAt.Before(oldest)) {
			oldest = qi.enqueuedAt
		}
	}
	if oldest.IsZero() {
		return 0, false
	}
	return max(0, o.settings.FlushInterval-time.Since(oldest)), true
}

// doDispatch forms and starts batches until nothing is ready
func (o *Orchestrator) doDispatch() {
	for {
		o.mu.Lock()
		batch, barrier := o.selectLocked()
		o.mu.Unlock()
		if len(batch) == 0 && barrier == nil {
			return
		}

		if err := o.sem.Acquire(o.ctxRun, 1); err != nil {
			return
		}

		// the queue may have changed while waiting for the semaphore
		o.mu.Lock()
		batch, barrier = o.selectLocked()
		if len(batch) == 0 && barrier == nil {
			o.mu.Unlock()
			o.sem.Release(1)
			return
		}
		if o.ctxRun.Err() != nil {
			o.mu.Unlock()
			o.sem.Release(1)
			return
		}
		o.takeLocked(batch, barrier)
		o.wg.Add(1)
		o.mu.Unlock()

		if barrier != nil {
			go o.doRunBarrier(barrier)
		} else {
			go o.doSendBatch(batch)
		}
	}
}

// selectLocked picks the next batch in FIFO order without changing the queue.
// A batch never holds two works for the same document key.
// It returns nothing if the batch is neither full nor forced by a flush, the timer or a saturated queue.
func (o *Orchestrator) selectLocked() (batch []*item, barrier *item) {
	if o.barrierInFlight || o.queue.Empty() {
		return nil, nil
	}

	var size int64
	full, forced, deferred := false, false, false
	blocked := map[DocumentKey]struct{}{}

	for iter := o.queue.Iterator(); iter.Next(); {
		it := iter.Value().(*item)

		if !it.work.Kind.Bulkable() {
			if len(batch) > 0 {
				// index-wide works close the batch in front of them
				full = true
				break
			}
			if !deferred && o.inflightBatches == 0 && o.backoffPending == 0 {
				return nil, it
			}
			break
		}

		key := it.work.Key()
		if _, ok := blocked[key]; ok || (!it.holdsKey && o.inflightKeys[key] > 0) {
			blocked[key] = struct{}{}
			deferred = true
			continue
		}

		if len(batch) > 0 && size+it.size > o.settings.MaxBatchBytes {
			full = true
			break
		}
		batch = append(batch, it)
		// later works for the same key go to a following batch
		blocked[key] = struct{}{}
		size += it.size
		forced = forced || it.seq <= o.forceSeq
		if len(batch) >= o.settings.MaxBatchCount || size >= o.settings.MaxBatchBytes {
			full = true
			break
		}
	}

	// a saturated queue cannot grow into a full batch, blocked submitters would wait forever
	if full || forced || len(o.slots) == cap(o.slots) {
		return batch, nil
	}
	return nil, nil
}

// takeLocked removes the selected works from the queue and reserves their keys
func (o *Orchestrator) takeLocked(batch []*item, barrier *item) {
	taken := make(map[*item]struct{}, len(batch)+1)
	for _, it := range batch {
		taken[it] = struct{}{}
		if !it.holdsKey {
			o.inflightKeys[it.work.Key()]++
			it.holdsKey = true
		}
	}
	if barrier != nil {
		taken[barrier] = struct{}{}
		o.barrierInFlight = true
	}

	remaining := make([]any, 0, o.queue.Size())
	for iter := o.queue.Iterator(); iter.Next(); {
		it := iter.Value().(*item)
		if _, ok := taken[it]; ok {
			if it.holdsSlot {
				<-o.slots
				it.holdsSlot = false
			}
			continue
		}
		remaining = append(remaining, it)
	}
	o.queue.Clear()
	o.queue.Add(remaining...)

	o.inflightBatches++
	o.metrics.setGauges(o.name, o.queue.Size(), o.inflightBatches)
}

// batchOutcome collects the outcome of each work of a batch, it implements ItemHandler
type batchOutcome struct {
	items     []*item
	responses []*ResponseItem
	errs      []error
	retryable []bool
	incidents []*Incident
}

func newBatchOutcome(items []*item) *batchOutcome {
	return &batchOutcome{
		items:     items,
		responses: make([]*ResponseItem, len(items)),
		errs:      make([]error, len(items)),
		retryable: make([]bool, len(items)),
	}
}

func (b *batchOutcome) Succeeded(pos int, item *ResponseItem) {
	b.responses[pos] = item
}

func (b *batchOutcome) Retryable(pos int, err error) {
	b.errs[pos] = err
	b.retryable[pos] = true
}

func (b *batchOutcome) Failed(pos int, err error) {
	b.errs[pos] = err
}

func (o *Orchestrator) doSendBatch(batch []*item) {
	defer o.wg.Done()
	defer o.sem.Release(1)

	var rejected []*item
	var rejectedErrs []error
	sent := make([]*item, 0, len(batch))
	builder := NewBuilder(o.dialect)
	for _, it := range batch {
		if err := builder.Add(&it.work); err != nil {
			rejected = append(rejected, it)
			rejectedErrs = append(rejectedErrs, err)
			continue
		}
		sent = append(sent, it)
	}

	outcome := newBatchOutcome(sent)
	if len(sent) > 0 {
		req := builder.Request()
		ctx, cancel := context.WithTimeout(o.ctxRun, o.settings.RequestTimeout)
		start := time.Now()
		resp, err := o.transport.Send(ctx, &Request{
			Body:    req.Body,
			Count:   len(req.Works),
			Refresh: req.Refresh,
			Timeout: o.settings.RequestTimeout,
		})
		cancel()

		switch {
		case err != nil:
			o.metrics.batchSent(o.name, "transport_error", len(req.Body), time.Since(start))
			retryable := IsRetryableTransportError(err)
			log.Warn("Queue %q failed to send bulk request of %d works (retryable: %t): %v", o.name, len(sent), retryable, err)
			for pos := range sent {
				if retryable {
					outcome.Retryable(pos, err)
				} else {
					outcome.Failed(pos, err)
				}
			}
		default:
			o.metrics.batchSent(o.name, "ok", len(req.Body), time.Since(start))
			if resp != nil {
				log.Trace("Queue %q sent %d works (%d bytes), took %dms, errors: %t", o.name, len(sent), len(req.Body), resp.Took, resp.Errors)
			}
			var corrErr *CorrelationError
			if err := Demultiplex(req, resp, outcome); errors.As(err, &corrErr) {
				log.Error("Queue %q bulk response can not be correlated: %v", o.name, err)
				outcome.incidents = append(outcome.incidents, o.newIncident(IncidentCorrelation, err, sent...))
			}
		}
	}

	o.mu.Lock()
	for i, it := range rejected {
		o.finalizeLocked(it, nil, rejectedErrs[i])
	}
	o.finishLocked(outcome, false)
	o.mu.Unlock()

	o.report(outcome.incidents)
	o.wake()
}

func (o *Orchestrator) doRunBarrier(it *item) {
	defer o.wg.Done()
	defer o.sem.Release(1)

	var err error
	if o.admin == nil {
		err = fmt.Errorf("%w: no index admin to run %s on %q", ErrNotBulkable, it.work.Kind, it.work.IndexName)
	} else {
		ctx, cancel := context.WithTimeout(o.ctxRun, o.settings.RequestTimeout)
		err = runIndexAdmin(ctx, o.admin, &it.work)
		cancel()
	}

	outcome := newBatchOutcome([]*item{it})
	switch {
	case err == nil:
		outcome.Succeeded(0, &ResponseItem{Action: it.work.Kind.String(), Index: it.work.IndexName, Status: 200, Result: it.work.Kind.String()})
	case o.admin != nil && IsRetryableTransportError(err):
		outcome.Retryable(0, err)
	default:
		outcome.Failed(0, err)
	}

	o.mu.Lock()
	o.finishLocked(outcome, true)
	o.mu.Unlock()

	o.report(outcome.incidents)
	o.wake()
}

// finishLocked resolves the works of a finished batch or schedules their retry
func (o *Orchestrator) finishLocked(outcome *batchOutcome, barrier bool) {
	o.inflightBatches--
	if barrier {
		o.barrierInFlight = false
	}
	terminated := o.ctxRun.Err() != nil

	var retries []*item
	var delay time.Duration
	for pos, it := range outcome.items {
		err := outcome.errs[pos]
		switch {
		case err == nil:
			o.finalizeLocked(it, resultFromItem(outcome.responses[pos]), nil)
		case terminated:
			o.finalizeLocked(it, nil, fmt.Errorf("%w: %v", ErrClosed, err))
		case outcome.retryable[pos]:
			decision, d, finalErr := o.policy.OnFailure(&it.retry, err)
			if decision == DecisionRetry {
				retries = append(retries, it)
				delay = max(delay, d)
				continue
			}
			log.Warn("Queue %q gives up %s of %q: %v", o.name, it.work.Kind, it.work.Key(), finalErr)
			o.finalizeLocked(it, nil, finalErr)
			outcome.incidents = append(outcome.incidents, o.newIncident(IncidentRetriesExhausted, finalErr, it))
		default:
			o.finalizeLocked(it, nil, err)
			var corrErr *CorrelationError
			if !errors.As(err, &corrErr) {
				outcome.incidents = append(outcome.incidents, o.newIncident(IncidentFatal, err, it))
			}
		}
	}

	if len(retries) > 0 {
		for _, it := range retries {
			it.completion.retries.Add(1)
		}
		o.metrics.workRetried(o.name, len(retries))
		log.Debug("Queue %q retries %d works in %v", o.name, len(retries), delay)
		o.backoffPending++
		o.wg.Add(1)
		go o.doBackoff(retries, delay)
	}
	o.metrics.setGauges(o.name, o.queue.Size(), o.inflightBatches)
}

// doBackoff puts retried works back to the front of the queue once the delay is over,
// they keep their relative order and their reserved keys
func (o *Orchestrator) doBackoff(items []*item, delay time.Duration) {
	defer o.wg.Done()
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-o.ctxRun.Done():
			util.StopTimer(t)
		}
	}

	o.mu.Lock()
	o.backoffPending--
	if o.ctxRun.Err() != nil {
		for _, it := range items {
			o.finalizeLocked(it, nil, fmt.Errorf("%w: %v", ErrClosed, it.retry.LastError))
		}
	} else {
		o.enqueueLocked(true, items...)
	}
	o.mu.Unlock()
	o.wake()
}

// finalizeLocked resolves a work and releases what it holds
func (o *Orchestrator) finalizeLocked(it *item, res *Result, err error) {
	if it.holdsKey {
		key := it.work.Key()
		if o.inflightKeys[key]--; o.inflightKeys[key] <= 0 {
			delete(o.inflightKeys, key)
		}
		it.holdsKey = false
	}
	if it.holdsSlot {
		<-o.slots
		it.holdsSlot = false
	}
	o.unresolved--

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if !it.completion.resolve(res, err) {
		outcome = "canceled"
	}
	o.metrics.workCompleted(o.name, outcome)

	waiters := o.flushWaiters[:0]
	for _, w := range o.flushWaiters {
		if it.seq <= w.target {
			w.remaining--
		}
		if w.remaining <= 0 {
			close(w.done)
			continue
		}
		waiters = append(waiters, w)
	}
	o.flushWaiters = waiters
}

func resultFromItem(item *ResponseItem) *Result {
	if item == nil {
		return &Result{}
	}
	return &Result{
		Index:   item.Index,
		ID:      item.ID,
		Status:  item.Status,
		Version: item.Version,
		Result:  item.Result,
	}
}

func (o *Orchestrator) newIncident(kind IncidentKind, err error, items ...*item) *Incident {
	works := make([]Work, 0, len(items))
	for _, it := range items {
		works = append(works, it.work)
	}
	return &Incident{
		ID:    uuid.NewString(),
		Time:  time.Now(),
		Queue: o.name,
		Kind:  kind,
		Error: err.Error(),
		Works: works,
	}
}

func (o *Orchestrator) report(incidents []*Incident) {
	if len(incidents) == 0 || o.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctxRun), 10*time.Second)
	defer cancel()
	for _, incident := range incidents {
		if err := o.reporter.Report(ctx, incident); err != nil {
			log.Error("Queue %q failed to report %s incident: %v", o.name, incident.Kind, err)
		}
	}
}

// Stats is a snapshot of the queue
type Stats struct {
	Name            string `json:"name"`
	Queued          int    `json:"queued"`
	InFlightBatches int    `json:"inflight_batches"`
	BackoffBatches  int    `json:"backoff_batches"`
	Unresolved      int    `json:"unresolved"`
	Closed          bool   `json:"closed"`
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		Name:            o.name,
		Queued:          o.queue.Size(),
		InFlightBatches: o.inflightBatches,
		BackoffBatches:  o.backoffPending,
		Unresolved:      o.unresolved,
		Closed:          o.closed,
	}
}

// Len returns the number of queued works
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.Size()
}

func (o *Orchestrator) closeLocked() {
	if !o.closed {
		o.closed = true
		close(o.closedChan)
	}
}

// Shutdown stops accepting works, flushes everything queued and terminates the queue.
// If the context ends first the remaining works fail with ErrClosed.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closeLocked()
	o.forceSeq = math.MaxUint64
	o.mu.Unlock()
	o.wake()

	err := o.Flush(ctx)
	if err != nil {
		log.Warn("Queue %q could not flush before shutdown: %v", o.name, err)
	}
	o.Terminate()
	return err
}

// Terminate fails every queued work with ErrClosed and stops the queue without flushing
func (o *Orchestrator) Terminate() {
	o.mu.Lock()
	o.closeLocked()
	leftover := o.queue.Values()
	o.queue.Clear()
	for _, v := range leftover {
		o.finalizeLocked(v.(*item), nil, ErrClosed)
	}
	o.metrics.setGauges(o.name, 0, o.inflightBatches)
	o.mu.Unlock()

	if len(leftover) > 0 {
		log.Warn("Queue %q terminated with %d works left", o.name, len(leftover))
	}

	o.ctxRunCancel()
	if o.running.Load() {
		<-o.runDone
	}
	o.wg.Wait()
}
