// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"fmt"
	"strings"

	"code.gitea.io/esbulk/modules/json"
)

// Kind is the kind of operation a Work describes
type Kind int

const (
	KindIndex Kind = iota + 1
	KindUpdate
	KindDelete
	KindFlush
	KindRefresh
	KindOptimizeMerge
)

var kindNames = map[Kind]string{
	KindIndex:         "index",
	KindUpdate:        "update",
	KindDelete:        "delete",
	KindFlush:         "flush",
	KindRefresh:       "refresh",
	KindOptimizeMerge: "forcemerge",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Bulkable reports whether the kind can be sent in a _bulk request,
// the index-wide kinds are executed by the index admin API instead
func (k Kind) Bulkable() bool {
	return k == KindIndex || k == KindUpdate || k == KindDelete
}

// ParseKind returns the kind named s
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "optimize", "optimize_merge", "merge":
		return KindOptimizeMerge, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidWork, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Work is one logical indexing operation, it must not be changed once submitted
type Work struct {
	Kind       Kind            `json:"kind"`
	IndexName  string          `json:"index"`
	DocumentID string          `json:"id,omitempty"`
	TenantID   string          `json:"tenant,omitempty"`
	RoutingKey string          `json:"routing,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	// RetryOnConflict lets the cluster retry an update which hit a version conflict
	RetryOnConflict int `json:"retry_on_conflict,omitempty"`
	// Upsert creates the document from the payload if an update finds none
	Upsert bool `json:"upsert,omitempty"`
	// Refresh makes the batch carrying this work wait for a refresh
	Refresh bool `json:"refresh,omitempty"`
}

// DocumentKey identifies a document, works with the same key are never in flight in two batches
type DocumentKey struct {
	Index  string
	Tenant string
	ID     string
}

func (k DocumentKey) String() string {
	if k.Tenant == "" {
		return k.Index + "/" + k.ID
	}
	return k.Index + "/" + k.Tenant + "/" + k.ID
}

// Key returns the document key of the work, index-wide works only carry the index name
func (w *Work) Key() DocumentKey {
	return DocumentKey{Index: w.IndexName, Tenant: w.TenantID, ID: w.DocumentID}
}

// WireID is the _id sent to the cluster, tenants share an index so their ids are prefixed
func (w *Work) WireID() string {
	if w.TenantID == "" || w.DocumentID == "" {
		return w.DocumentID
	}
	return w.TenantID + "_" + w.DocumentID
}

// Validate checks the invariants of a work
func (w *Work) Validate() error {
	if w.Kind < KindIndex || w.Kind > KindOptimizeMerge {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidWork, int(w.Kind))
	}
	if w.IndexName == "" {
		return fmt.Errorf("%w: %s without index name", ErrInvalidWork, w.Kind)
	}
	if strings.ContainsAny(w.IndexName, "\n\",*") {
		return fmt.Errorf("%w: invalid index name %q", ErrInvalidWork, w.IndexName)
	}

	needsID := w.Kind.Bulkable()
	if needsID && w.DocumentID == "" {
		return fmt.Errorf("%w: %s on %q without document id", ErrInvalidWork, w.Kind, w.IndexName)
	}
	if !needsID && w.DocumentID != "" {
		return fmt.Errorf("%w: %s on %q must not have a document id", ErrInvalidWork, w.Kind, w.IndexName)
	}

	needsPayload := w.Kind == KindIndex || w.Kind == KindUpdate
	if needsPayload && len(w.Payload) == 0 {
		return fmt.Errorf("%w: %s of %q without payload", ErrInvalidWork, w.Kind, w.DocumentID)
	}
	if !needsPayload && len(w.Payload) != 0 {
		return fmt.Errorf("%w: %s must not have a payload", ErrInvalidWork, w.Kind)
	}
	if needsPayload && !json.Valid(w.Payload) {
		return fmt.Errorf("%w: payload of %q is not valid JSON", ErrInvalidWork, w.DocumentID)
	}
	if w.RetryOnConflict < 0 || (w.RetryOnConflict > 0 && w.Kind != KindUpdate) {
		return fmt.Errorf("%w: retry_on_conflict only applies to updates", ErrInvalidWork)
	}
	if w.Upsert && w.Kind != KindUpdate {
		return fmt.Errorf("%w: upsert only applies to updates", ErrInvalidWork)
	}
	return nil
}
