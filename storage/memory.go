// Package storage provides in-memory checkpoint storage.
//
// Information Hiding:
// - Slice storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/richinex/handoff/model"
)

// InMemoryStore implements CheckpointStore using a slice.
// Data is lost when process terminates.
type InMemoryStore struct {
	mu          sync.RWMutex
	checkpoints []model.Checkpoint
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Append inserts cp at the front and truncates to Capacity.
func (s *InMemoryStore) Append(_ context.Context, cp model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := min(len(s.checkpoints), Capacity-1)
	next := make([]model.Checkpoint, 0, keep+1)
	next = append(next, cloneCheckpoint(cp))
	next = append(next, s.checkpoints[:keep]...)
	s.checkpoints = next
	return nil
}

// List returns a copy of all checkpoints, newest first.
func (s *InMemoryStore) List(_ context.Context) ([]model.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Checkpoint, len(s.checkpoints))
	for i, cp := range s.checkpoints {
		out[i] = cloneCheckpoint(cp)
	}
	return out, nil
}

// Get returns one checkpoint by id.
func (s *InMemoryStore) Get(_ context.Context, id string) (model.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cp := range s.checkpoints {
		if cp.ID == id {
			return cloneCheckpoint(cp), nil
		}
	}
	return model.Checkpoint{}, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
}

// Select returns the raw result of a checkpoint.
func (s *InMemoryStore) Select(ctx context.Context, id string) (string, error) {
	return selectRaw(ctx, s, id)
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}

// cloneCheckpoint copies the file list so callers cannot mutate stored snapshots.
func cloneCheckpoint(cp model.Checkpoint) model.Checkpoint {
	files := make([]model.ParsedFile, len(cp.Files))
	copy(files, cp.Files)
	cp.Files = files
	return cp
}

// Verify InMemoryStore implements CheckpointStore
var _ CheckpointStore = (*InMemoryStore)(nil)
