// Package asset holds the screenshots ingested for a pipeline run.
//
// Information Hiding:
// - Base64 payload encoding is done once at ingestion
// - Identifier generation hidden behind Set
// - Set is safe for concurrent use; the controller decides when mutation is allowed

package asset

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when removing an asset id that is not in the set.
var ErrNotFound = errors.New("asset not found")

// Asset is one user-supplied image plus its encoded payload.
// Immutable once created.
type Asset struct {
	ID             string
	Name           string
	Raw            []byte
	RawSize        int64
	EncodedPayload string
	EncodedSize    int64
}

// New creates an asset from raw image bytes.
func New(name string, raw []byte) Asset {
	encoded := base64.StdEncoding.EncodeToString(raw)
	return Asset{
		ID:             uuid.NewString(),
		Name:           name,
		Raw:            raw,
		RawSize:        int64(len(raw)),
		EncodedPayload: encoded,
		EncodedSize:    int64(len(encoded)),
	}
}

// Load reads an image file from disk into an asset named after its path.
func Load(path string) (Asset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Asset{}, fmt.Errorf("failed to read asset %s: %w", path, err)
	}
	return New(filepath.ToSlash(path), raw), nil
}

// Set is the ordered collection of assets for the current session.
type Set struct {
	mu     sync.RWMutex
	assets []Asset
}

// NewSet creates an empty asset set.
func NewSet() *Set {
	return &Set{}
}

// Add appends assets in order.
func (s *Set) Add(assets ...Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = append(s.assets, assets...)
}

// Remove deletes the asset with the given id.
func (s *Set) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, a := range s.assets {
		if a.ID == id {
			s.assets = append(s.assets[:i:i], s.assets[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Clear removes every asset.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = nil
}

// List returns a copy of the assets in insertion order.
func (s *Set) List() []Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Asset, len(s.assets))
	copy(out, s.assets)
	return out
}

// Len returns the number of assets.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets)
}
