// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "esbulk"

// Metrics are the prometheus collectors of the queues, a nil *Metrics records nothing
type Metrics struct {
	submitted  *prometheus.CounterVec
	completed  *prometheus.CounterVec
	retries    *prometheus.CounterVec
	batches    *prometheus.CounterVec
	batchBytes *prometheus.HistogramVec
	duration   *prometheus.HistogramVec
	queued     *prometheus.GaugeVec
	inFlight   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "works_submitted_total",
			Help:      "Number of works accepted by the queue",
		}, []string{"queue"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "works_completed_total",
			Help:      "Number of resolved works by outcome",
		}, []string{"queue", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "works_retried_total",
			Help:      "Number of works sent again after a retryable failure",
		}, []string{"queue"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Number of bulk requests by result",
		}, []string{"queue", "result"}),
		batchBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_bytes",
			Help:      "Size of the bulk request bodies",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"queue"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of the bulk requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_works",
			Help:      "Number of works waiting to be dispatched",
		}, []string{"queue"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_batches",
			Help:      "Number of bulk requests being sent",
		}, []string{"queue"}),
	}
	if reg != nil {
		reg.MustRegister(m.submitted, m.completed, m.retries, m.batches, m.batchBytes, m.duration, m.queued, m.inFlight)
	}
	return m
}

func (m *Metrics) workSubmitted(queue string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(queue).Inc()
}

func (m *Metrics) workCompleted(queue, outcome string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(queue, outcome).Inc()
}

func (m *Metrics) workRetried(queue string, n int) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(queue).Add(float64(n))
}

func (m *Metrics) batchSent(queue, result string, bytes int, took time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(queue, result).Inc()
	m.batchBytes.WithLabelValues(queue).Observe(float64(bytes))
	m.duration.WithLabelValues(queue).Observe(took.Seconds())
}

func (m *Metrics) setGauges(queue string, queued, inFlight int) {
	if m == nil {
		return
	}
	m.queued.WithLabelValues(queue).Set(float64(queued))
	m.inFlight.WithLabelValues(queue).Set(float64(inFlight))
}
