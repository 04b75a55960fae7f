// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"code.gitea.io/esbulk/modules/deadletter"
	"code.gitea.io/esbulk/modules/log"
	"code.gitea.io/esbulk/modules/setting"
	"code.gitea.io/esbulk/routers/api"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

func cmdServe() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "Start the ingestion API",
		Description: "Works posted to /api/v1/works are queued and sent to the cluster in bulk requests.",
		Action:      runServe,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address to listen on, overrides [server] HTTP_ADDR",
			},
			&cli.StringFlag{
				Name:  "queue",
				Value: "default",
				Usage: "Name of the queue, its settings are read from [bulk.<name>]",
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Value: time.Minute,
				Usage: "How long to wait for the queue to flush on shutdown",
			},
		},
	}
}

func runServe(ctx *cli.Context) error {
	if err := setup(); err != nil {
		return err
	}
	addr := setting.Server.HTTPAddr
	if ctx.IsSet("listen") {
		addr = ctx.String("listen")
	}

	var reg *prometheus.Registry
	var gatherer prometheus.Gatherer
	if setting.Server.EnableMetrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		gatherer = reg
	}

	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	p, err := newPipeline(ctx.Context, ctx.String("queue"), registerer)
	if err != nil {
		return err
	}

	stopReplay := func() {}
	if setting.DeadLetter.ReplaySchedule != "" && p.store != nil {
		stopReplay, err = deadletter.ScheduleReplay(ctx.Context, p.store, p.queue, setting.DeadLetter.ReplaySchedule, setting.DeadLetter.ReplayLimit)
		if err != nil {
			_ = p.shutdown(ctx.Context)
			return err
		}
		log.Info("Dead letter incidents are replayed on schedule %q", setting.DeadLetter.ReplaySchedule)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		stopReplay()
		_ = p.shutdown(ctx.Context)
		return err
	}
	srv := &http.Server{
		Handler:      api.Routes(p.queue, gatherer),
		ReadTimeout:  setting.Server.ReadTimeout,
		WriteTimeout: setting.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx.Context },
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Listening on http://%s", listener.Addr())
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Context.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx.Context), ctx.Duration("shutdown-timeout"))
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn("HTTP server did not shut down cleanly: %v", shutdownErr)
	}
	stopReplay()
	if shutdownErr := p.shutdown(shutdownCtx); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	log.Info("Server stopped")
	return err
}
