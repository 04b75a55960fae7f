// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package deadletter

import (
	"context"
	"errors"
	"fmt"

	"code.gitea.io/esbulk/modules/bulk"
	"code.gitea.io/esbulk/modules/json"
	"code.gitea.io/esbulk/modules/log"
	"code.gitea.io/esbulk/modules/setting"
)

// ErrNoStore is returned when the configured TYPE keeps no incidents
var ErrNoStore = errors.New("the dead letter type does not store incidents")

// Store keeps incidents in arrival order
type Store interface {
	Push(ctx context.Context, incident *bulk.Incident) error
	// Pop removes the oldest incident, it returns nil if the store is empty
	Pop(ctx context.Context) (*bulk.Incident, error)
	// List returns up to limit of the oldest incidents without removing them, limit <= 0 means all
	List(ctx context.Context, limit int) ([]*bulk.Incident, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// OpenStore opens the store configured in [dead_letter]
func OpenStore() (Store, error) {
	switch setting.DeadLetter.Type {
	case setting.DeadLetterTypeLevel:
		return NewLevelStore(setting.DeadLetter.DataDir, setting.DeadLetter.QueueName)
	case setting.DeadLetterTypeRedis:
		return NewRedisStore(setting.DeadLetter.ConnStr, setting.DeadLetter.QueueName)
	}
	return nil, fmt.Errorf("%w: %q", ErrNoStore, setting.DeadLetter.Type)
}

func encodeIncident(incident *bulk.Incident) ([]byte, error) {
	return json.Marshal(incident)
}

func decodeIncident(data []byte) (*bulk.Incident, error) {
	incident := &bulk.Incident{}
	if err := json.Unmarshal(data, incident); err != nil {
		return nil, fmt.Errorf("unable to decode incident: %w", err)
	}
	return incident, nil
}

// Reporter logs incidents and keeps them in a store
type Reporter struct {
	store Store
}

var _ bulk.IncidentReporter = &Reporter{}

func NewReporterWithStore(store Store) *Reporter {
	return &Reporter{store: store}
}

func (r *Reporter) Report(ctx context.Context, incident *bulk.Incident) error {
	_ = bulk.LogReporter{}.Report(ctx, incident)
	return r.store.Push(ctx, incident)
}

// Store returns the store the incidents are pushed to
func (r *Reporter) Store() Store {
	return r.store
}

// Close closes the underlying store
func (r *Reporter) Close() error {
	return r.store.Close()
}

type discardReporter struct{}

func (discardReporter) Report(context.Context, *bulk.Incident) error { return nil }

// NewReporter creates the incident reporter configured in [dead_letter].
// The returned close function must be called once the queues are stopped.
func NewReporter() (bulk.IncidentReporter, func() error, error) {
	noop := func() error { return nil }
	switch setting.DeadLetter.Type {
	case setting.DeadLetterTypeNone:
		return discardReporter{}, noop, nil
	case setting.DeadLetterTypeLog:
		return bulk.LogReporter{}, noop, nil
	}

	store, err := OpenStore()
	if err != nil {
		return nil, nil, err
	}
	log.Info("Dead letter incidents are kept in %s store %q", setting.DeadLetter.Type, setting.DeadLetter.QueueName)
	r := NewReporterWithStore(store)
	return r, r.Close, nil
}

// Submitter accepts works again, it is implemented by *bulk.Orchestrator
type Submitter interface {
	Submit(ctx context.Context, w bulk.Work) (*bulk.Completion, error)
}

// Replay pops up to limit incidents and submits their works again, a limit <= 0 replays the
// incidents stored when it starts. An incident whose works can not all be submitted is pushed
// back to the store. It returns the completions of the submitted works.
func Replay(ctx context.Context, store Store, q Submitter, limit int) ([]*bulk.Completion, error) {
	if limit <= 0 {
		n, err := store.Len(ctx)
		if err != nil {
			return nil, err
		}
		limit = n
	}

	var completions []*bulk.Completion
	for n := 0; n < limit; n++ {
		incident, err := store.Pop(ctx)
		if err != nil {
			return completions, err
		}
		if incident == nil {
			break
		}

		for i := range incident.Works {
			c, err := q.Submit(ctx, incident.Works[i])
			if err != nil {
				incident.Works = incident.Works[i:]
				if pushErr := store.Push(ctx, incident); pushErr != nil {
					log.Error("Unable to push back %s incident of queue %q: %v", incident.Kind, incident.Queue, pushErr)
				}
				return completions, err
			}
			completions = append(completions, c)
		}
		log.Debug("Replayed %d works of %s incident of queue %q", len(incident.Works), incident.Kind, incident.Queue)
	}
	return completions, nil
}
