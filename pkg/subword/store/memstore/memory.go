package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/cognicore/subword/pkg/subword/bpe"
	"github.com/cognicore/subword/pkg/subword/internalerr"
	"github.com/cognicore/subword/pkg/subword/store"
	"github.com/cognicore/subword/pkg/subword/vocab"
)

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu   sync.RWMutex
	runs map[string]store.Run
}

var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{runs: make(map[string]store.Run)}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// RecordRun stores a deep copy of r.
func (s *Store) RecordRun(ctx context.Context, r store.Run) error {
	if r.ID == "" {
		return fmt.Errorf("record run: empty id: %w", internalerr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[r.ID]; ok {
		return fmt.Errorf("record run %s: %w", r.ID, internalerr.ErrDuplicate)
	}
	s.runs[r.ID] = copyRun(r, true)
	return nil
}

// GetRun returns run metadata without codebook or entries.
func (s *Store) GetRun(ctx context.Context, id string) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return store.Run{}, fmt.Errorf("run %s: %w", id, internalerr.ErrNotFound)
	}
	return copyRun(r, false), nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	out := make([]store.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, copyRun(r, false))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Merges returns the codebook of a run.
func (s *Store) Merges(ctx context.Context, runID string) (bpe.Codebook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, internalerr.ErrNotFound)
	}
	return slices.Clone(r.Codebook), nil
}

// Vocabulary returns the entries recorded for one corpus of a run.
func (s *Store) Vocabulary(ctx context.Context, runID, corpus string) ([]vocab.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, internalerr.ErrNotFound)
	}
	for _, c := range r.Corpora {
		if c.Name == corpus {
			return slices.Clone(c.Entries), nil
		}
	}
	return nil, fmt.Errorf("corpus %s in run %s: %w", corpus, runID, internalerr.ErrNotFound)
}

func copyRun(r store.Run, withData bool) store.Run {
	out := r
	out.Special = slices.Clone(r.Special)
	out.Codebook = nil
	if withData {
		out.Codebook = slices.Clone(r.Codebook)
	}
	out.Corpora = make([]store.Corpus, len(r.Corpora))
	for i, c := range r.Corpora {
		out.Corpora[i] = c
		out.Corpora[i].Entries = nil
		if withData {
			out.Corpora[i].Entries = slices.Clone(c.Entries)
		}
	}
	return out
}
