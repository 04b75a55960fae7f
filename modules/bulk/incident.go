// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"context"
	"time"

	"code.gitea.io/esbulk/modules/log"
)

// IncidentKind tells why works ended up in front of an operator
type IncidentKind string

const (
	IncidentCorrelation      IncidentKind = "correlation"
	IncidentRetriesExhausted IncidentKind = "retries_exhausted"
	IncidentFatal            IncidentKind = "fatal"
)

// Incident is a terminal failure kept for operators, the works can be replayed
type Incident struct {
	ID    string       `json:"id"`
	Time  time.Time    `json:"time"`
	Queue string       `json:"queue"`
	Kind  IncidentKind `json:"kind"`
	Error string       `json:"error"`
	Works []Work       `json:"works"`
}

// IncidentReporter is the diagnostic channel of a queue
type IncidentReporter interface {
	Report(ctx context.Context, incident *Incident) error
}

// LogReporter only writes incidents to the log
type LogReporter struct{}

func (LogReporter) Report(_ context.Context, incident *Incident) error {
	log.Error("Queue %q incident %s (%s) with %d works: %s", incident.Queue, incident.ID, incident.Kind, len(incident.Works), incident.Error)
	return nil
}
