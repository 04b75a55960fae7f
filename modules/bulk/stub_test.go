// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.gitea.io/esbulk/modules/json"
	"code.gitea.io/esbulk/modules/setting"
)

func testSettings(mods ...func(s *setting.BulkSettings)) setting.BulkSettings {
	s := setting.BulkSettings{
		Name:             "books",
		QueueLength:      100,
		MaxBatchCount:    10,
		MaxBatchBytes:    1 << 20,
		SubmissionPolicy: setting.SubmissionPolicyBlocking,
		MaxInFlight:      1,
		RequestTimeout:   5 * time.Second,
		MaxAttempts:      3,
		BackoffBase:      time.Millisecond,
		BackoffCeiling:   5 * time.Millisecond,
	}
	for _, mod := range mods {
		mod(&s)
	}
	return s
}

func indexWork(index, id string, payload string) Work {
	return Work{Kind: KindIndex, IndexName: index, DocumentID: id, Payload: []byte(payload)}
}

// bulkLine is one parsed action of a bulk body
type bulkLine struct {
	Action  string
	Index   string
	ID      string
	Payload string
}

func parseBulkBody(t *testing.T, body []byte) []bulkLine {
	var lines []bulkLine
	rows := bytes.Split(bytes.TrimSuffix(body, []byte("\n")), []byte("\n"))
	for i := 0; i < len(rows); i++ {
		var meta map[string]map[string]any
		if err := json.Unmarshal(rows[i], &meta); err != nil {
			t.Errorf("invalid meta line %q: %v", rows[i], err)
			return nil
		}
		for action, fields := range meta {
			line := bulkLine{Action: action}
			line.Index, _ = fields["_index"].(string)
			line.ID, _ = fields["_id"].(string)
			if action == "index" || action == "update" {
				i++
				line.Payload = string(rows[i])
			}
			lines = append(lines, line)
		}
	}
	return lines
}

func okItems(lines []bulkLine) []*ResponseItem {
	items := make([]*ResponseItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, &ResponseItem{Action: l.Action, Index: l.Index, ID: l.ID, Status: 201, Result: "created", Version: 1})
	}
	return items
}

// stubTransport records the batches it receives, by default every item succeeds
type stubTransport struct {
	t       *testing.T
	delay   time.Duration
	handler func(call int, lines []bulkLine) (*Response, error)

	mu      sync.Mutex
	batches [][]bulkLine
	events  []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newStubTransport(t *testing.T) *stubTransport {
	return &stubTransport{t: t}
}

func (s *stubTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	lines := parseBulkBody(s.t, req.Body)
	if len(lines) != req.Count {
		s.t.Errorf("request count %d does not match body with %d actions", req.Count, len(lines))
	}

	s.mu.Lock()
	s.batches = append(s.batches, lines)
	call := len(s.batches)
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ID)
	}
	s.events = append(s.events, fmt.Sprintf("bulk%v", ids))
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, &TransportError{Err: ctx.Err()}
		}
	}

	if s.handler != nil {
		return s.handler(call, lines)
	}
	return &Response{Took: 1, Items: okItems(lines)}, nil
}

func (s *stubTransport) admin(kind, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, kind+":"+index)
	return nil
}

func (s *stubTransport) Flush(_ context.Context, index string) error {
	return s.admin("flush", index)
}

func (s *stubTransport) Refresh(_ context.Context, index string) error {
	return s.admin("refresh", index)
}

func (s *stubTransport) ForceMerge(_ context.Context, index string) error {
	return s.admin("forcemerge", index)
}

func (s *stubTransport) Batches() [][]bulkLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]bulkLine(nil), s.batches...)
}

func (s *stubTransport) BatchSizes() []int {
	var sizes []int
	for _, b := range s.Batches() {
		sizes = append(sizes, len(b))
	}
	return sizes
}

func (s *stubTransport) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// recordingReporter keeps the reported incidents
type recordingReporter struct {
	mu        sync.Mutex
	incidents []*Incident
}

func (r *recordingReporter) Report(_ context.Context, incident *Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, incident)
	return nil
}

func (r *recordingReporter) Incidents() []*Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Incident(nil), r.incidents...)
}
