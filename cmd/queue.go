// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package cmd

import (
	"context"
	"errors"

	"code.gitea.io/esbulk/modules/bulk"
	"code.gitea.io/esbulk/modules/deadletter"
	"code.gitea.io/esbulk/modules/elasticsearch"
	"code.gitea.io/esbulk/modules/log"
	"code.gitea.io/esbulk/modules/setting"

	"github.com/prometheus/client_golang/prometheus"
)

// pipeline is a running queue connected to the configured cluster
type pipeline struct {
	queue  *bulk.Orchestrator
	client elasticsearch.Client
	store  deadletter.Store // nil unless incidents are kept in a store
	close  func() error
}

// newPipeline creates and starts the queue named name, reg may be nil
func newPipeline(ctx context.Context, name string, reg prometheus.Registerer) (*pipeline, error) {
	settings, err := setting.GetBulkSettings(setting.CfgProvider, name)
	if err != nil {
		return nil, err
	}

	client, err := elasticsearch.NewClient()
	if err != nil {
		return nil, err
	}
	dialect, err := elasticsearch.ResolveDialect(ctx, client, setting.Elasticsearch.Version)
	if err != nil {
		return nil, err
	}

	reporter, closeReporter, err := deadletter.NewReporter()
	if err != nil {
		return nil, err
	}

	opts := []bulk.Option{
		bulk.WithDialect(dialect),
		bulk.WithIncidentReporter(reporter),
	}
	if reg != nil {
		opts = append(opts, bulk.WithMetrics(bulk.NewMetrics(reg)))
	}
	q := bulk.NewOrchestrator(name, settings, client, opts...)
	go q.Run()
	log.Info("Queue %q started with dialect %s, batches of %d works or %d bytes", name, dialect, settings.MaxBatchCount, settings.MaxBatchBytes)

	p := &pipeline{queue: q, client: client, close: closeReporter}
	if r, ok := reporter.(*deadletter.Reporter); ok {
		p.store = r.Store()
	}
	return p, nil
}

// shutdown flushes the queue, the context bounds the time spent flushing
func (p *pipeline) shutdown(ctx context.Context) error {
	err := p.queue.Shutdown(ctx)
	if err != nil && errors.Is(err, context.Canceled) {
		log.Warn("Queue %q was stopped before it could flush", p.queue.Name())
	}
	return errors.Join(err, p.close())
}
