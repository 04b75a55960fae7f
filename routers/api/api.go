// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

// Package api is the HTTP surface of the bulk queue
package api

import (
	"context"
	"net/http"

	"code.gitea.io/esbulk/modules/bulk"
	"code.gitea.io/esbulk/modules/json"
	"code.gitea.io/esbulk/modules/log"
	"code.gitea.io/esbulk/modules/setting"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Queue is the part of *bulk.Orchestrator used by the routes
type Queue interface {
	Submit(ctx context.Context, w bulk.Work) (*bulk.Completion, error)
	Flush(ctx context.Context) error
	Stats() bulk.Stats
}

var _ Queue = &bulk.Orchestrator{}

// Routes returns the router of the API, /metrics is only served with a non-nil gatherer
func Routes(q Queue, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(accessLogger)
	r.Use(recovery)
	if setting.CORSConfig.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   setting.CORSConfig.AllowDomain,
			AllowedMethods:   setting.CORSConfig.Methods,
			AllowedHeaders:   setting.CORSConfig.Headers,
			AllowCredentials: setting.CORSConfig.AllowCredentials,
			MaxAge:           int(setting.CORSConfig.MaxAge.Seconds()),
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/works", submitWorks(q))
		r.Post("/flush", flush(q))
		r.Get("/stats", stats(q))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Unable to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Message: err.Error()})
}

func flush(q Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := q.Flush(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func stats(q Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, q.Stats())
	}
}
