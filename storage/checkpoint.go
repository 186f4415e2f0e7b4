// Package storage provides the bounded checkpoint history.
//
// Information Hiding:
// - Capacity enforcement (newest first, oldest evicted)
// - Content hashing for checkpoint digests
// - Backend choice (memory or SQLite) behind CheckpointStore

package storage

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/richinex/handoff/model"
)

// Capacity is the maximum number of checkpoints retained.
const Capacity = 10

// ErrCheckpointNotFound is returned when selecting an unknown checkpoint id.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointStore holds completed synthesis runs, newest first.
// There is no delete operation; eviction happens only past Capacity.
type CheckpointStore interface {
	// Append inserts cp at the front and evicts beyond Capacity.
	Append(ctx context.Context, cp model.Checkpoint) error

	// List returns all checkpoints, newest first.
	List(ctx context.Context) ([]model.Checkpoint, error)

	// Get returns one checkpoint by id.
	Get(ctx context.Context, id string) (model.Checkpoint, error)

	// Select returns the raw result of a checkpoint for restoring it.
	Select(ctx context.Context, id string) (string, error)

	// Close releases backend resources.
	Close() error
}

// NewCheckpoint builds an immutable snapshot of one synthesis run.
func NewCheckpoint(raw string, files []model.ParsedFile, assetCount int, projectName string) model.Checkpoint {
	copied := make([]model.ParsedFile, len(files))
	copy(copied, files)

	return model.Checkpoint{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		RawResult:  raw,
		Files:      copied,
		AssetCount: assetCount,
		Summary:    model.SummaryFor(projectName),
		Digest:     computeContentHash(raw),
	}
}

// computeContentHash returns the hex xxhash64 of content.
func computeContentHash(content string) string {
	h := xxhash.Sum64String(content)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h)
	return hex.EncodeToString(buf[:])
}

// selectRaw is shared by backends implementing Select via Get.
func selectRaw(ctx context.Context, s CheckpointStore, id string) (string, error) {
	cp, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return cp.RawResult, nil
}
