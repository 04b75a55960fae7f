// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package deadletter

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"code.gitea.io/esbulk/modules/bulk"

	"gitea.com/lunny/levelqueue"
	"github.com/syndtr/goleveldb/leveldb"
)

// LevelStore keeps incidents in a leveldb queue on the local disk
type LevelStore struct {
	mu       sync.Mutex
	db       *leveldb.DB
	internal *levelqueue.Queue
}

var _ Store = &LevelStore{}

// NewLevelStore opens or creates the store in dataDir
func NewLevelStore(dataDir, name string) (*LevelStore, error) {
	if !filepath.IsAbs(dataDir) {
		return nil, fmt.Errorf("invalid leveldb data dir (not absolute): %q", dataDir)
	}
	db, err := leveldb.OpenFile(dataDir, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to open leveldb at %q: %w", dataDir, err)
	}
	internal, err := levelqueue.NewQueue(db, []byte(name), false)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &LevelStore{db: db, internal: internal}, nil
}

func (s *LevelStore) Push(_ context.Context, incident *bulk.Incident) error {
	data, err := encodeIncident(incident)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.internal.RPush(data)
}

func (s *LevelStore) Pop(_ context.Context) (*bulk.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.internal.LPop()
	if err == levelqueue.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeIncident(data)
}

// List rotates the whole queue once, so the order is unchanged afterwards
func (s *LevelStore) List(_ context.Context, limit int) ([]*bulk.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int(s.internal.Len())
	var incidents []*bulk.Incident
	for i := 0; i < n; i++ {
		data, err := s.internal.LPop()
		if err == levelqueue.ErrNotFound {
			break
		}
		if err != nil {
			return incidents, err
		}
		if err := s.internal.RPush(data); err != nil {
			return incidents, err
		}
		if limit > 0 && len(incidents) >= limit {
			continue
		}
		incident, err := decodeIncident(data)
		if err != nil {
			return incidents, err
		}
		incidents = append(incidents, incident)
	}
	return incidents, nil
}

func (s *LevelStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.internal.Len()), nil
}

func (s *LevelStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.internal.Close(); err != nil {
		return err
	}
	return s.db.Close()
}
