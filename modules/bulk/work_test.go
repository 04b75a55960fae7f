// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"testing"

	"code.gitea.io/esbulk/modules/json"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkValidate(t *testing.T) {
	tests := []struct {
		name    string
		work    Work
		wantErr bool
	}{
		{"index", Work{Kind: KindIndex, IndexName: "books", DocumentID: "1", Payload: []byte(`{}`)}, false},
		{"update", Work{Kind: KindUpdate, IndexName: "books", DocumentID: "1", Payload: []byte(`{"a":1}`), Upsert: true, RetryOnConflict: 3}, false},
		{"delete", Work{Kind: KindDelete, IndexName: "books", DocumentID: "1"}, false},
		{"flush", Work{Kind: KindFlush, IndexName: "books"}, false},
		{"refresh", Work{Kind: KindRefresh, IndexName: "books"}, false},
		{"optimize", Work{Kind: KindOptimizeMerge, IndexName: "books"}, false},

		{"no kind", Work{IndexName: "books"}, true},
		{"no index", Work{Kind: KindDelete, DocumentID: "1"}, true},
		{"bad index", Work{Kind: KindDelete, IndexName: "bo\"oks", DocumentID: "1"}, true},
		{"index without id", Work{Kind: KindIndex, IndexName: "books", Payload: []byte(`{}`)}, true},
		{"index without payload", Work{Kind: KindIndex, IndexName: "books", DocumentID: "1"}, true},
		{"delete with payload", Work{Kind: KindDelete, IndexName: "books", DocumentID: "1", Payload: []byte(`{}`)}, true},
		{"refresh with id", Work{Kind: KindRefresh, IndexName: "books", DocumentID: "1"}, true},
		{"invalid json", Work{Kind: KindIndex, IndexName: "books", DocumentID: "1", Payload: []byte(`{`)}, true},
		{"upsert on index", Work{Kind: KindIndex, IndexName: "books", DocumentID: "1", Payload: []byte(`{}`), Upsert: true}, true},
		{"retry on delete", Work{Kind: KindDelete, IndexName: "books", DocumentID: "1", RetryOnConflict: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.work.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidWork)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkKeys(t *testing.T) {
	w := Work{Kind: KindIndex, IndexName: "books", DocumentID: "42", TenantID: "acme"}
	assert.Equal(t, "acme_42", w.WireID())
	assert.Equal(t, DocumentKey{Index: "books", Tenant: "acme", ID: "42"}, w.Key())
	assert.Equal(t, "books/acme/42", w.Key().String())

	w.TenantID = ""
	assert.Equal(t, "42", w.WireID())
	assert.Equal(t, "books/42", w.Key().String())
}

func TestParseKind(t *testing.T) {
	for k, name := range kindNames {
		got, err := ParseKind(name)
		assert.NoError(t, err)
		assert.Equal(t, k, got)
	}
	k, err := ParseKind(" Optimize ")
	assert.NoError(t, err)
	assert.Equal(t, KindOptimizeMerge, k)

	_, err = ParseKind("upsert")
	assert.ErrorIs(t, err, ErrInvalidWork)
	assert.False(t, KindRefresh.Bulkable())
	assert.True(t, KindDelete.Bulkable())
}

func TestWorkJSON(t *testing.T) {
	var w Work
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"update","index":"books","id":"1","payload":{"title":"Dune"},"upsert":true}`), &w))
	assert.Equal(t, KindUpdate, w.Kind)
	assert.Equal(t, `{"title":"Dune"}`, string(w.Payload))
	assert.True(t, w.Upsert)
	assert.NoError(t, w.Validate())

	b, err := json.Marshal(Work{Kind: KindDelete, IndexName: "books", DocumentID: "1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"delete","index":"books","id":"1"}`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"explode"}`), &w))
}
