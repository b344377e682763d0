/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/suparena/plmconnector/errors"
)

// Store persists session records.
type Store interface {
	// Get returns the record for key, or nil when no session exists.
	Get(ctx context.Context, key Key) (*Record, error)

	// Put writes rec if the stored version equals expectedVersion (0 for a new record)
	// and sets rec.Version to expectedVersion+1. A version mismatch is a ConditionFailedError.
	Put(ctx context.Context, rec *Record, expectedVersion int64) error

	Delete(ctx context.Context, key Key) error

	// ListByWorkspace returns the workspace's sessions, optionally filtered by state.
	ListByWorkspace(ctx context.Context, workspaceID int64, state State) ([]Record, error)

	// ListUpdatedBefore returns the workspace's sessions last written before cutoff.
	ListUpdatedBefore(ctx context.Context, workspaceID int64, cutoff time.Time) ([]Record, error)
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]Record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]Record)}
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	current, exists := s.records[key]
	switch {
	case expectedVersion == 0 && exists:
		return errors.NewConditionFailedError("put", "session "+key.String()+" already exists")
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return errors.NewConditionFailedError("put", "session "+key.String()+" version changed")
	}

	rec.Version = expectedVersion + 1
	s.records[key] = *rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) ListByWorkspace(ctx context.Context, workspaceID int64, state State) ([]Record, error) {
	return s.filter(func(r Record) bool {
		return r.WorkspaceID == workspaceID && (state == "" || r.State == state)
	}), nil
}

func (s *MemoryStore) ListUpdatedBefore(ctx context.Context, workspaceID int64, cutoff time.Time) ([]Record, error) {
	return s.filter(func(r Record) bool {
		return r.WorkspaceID == workspaceID && r.UpdatedAt.Before(cutoff)
	}), nil
}

func (s *MemoryStore) filter(keep func(Record) bool) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	// oldest first, matching the GSI sort order of the DynamoDB store
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}
