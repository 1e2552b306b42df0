package store

import (
	"context"
	"time"

	"github.com/cognicore/subword/pkg/subword/bpe"
	"github.com/cognicore/subword/pkg/subword/vocab"
)

// Store is a ledger of completed pipeline runs: what was learned and which
// vocabularies were written.
type Store interface {
	Close() error

	// RecordRun persists a run with its codebook and corpus vocabularies.
	// Recording an ID twice fails with internalerr.ErrDuplicate.
	RecordRun(ctx context.Context, r Run) error

	// GetRun returns run metadata and corpus records without entries.
	// Unknown IDs fail with internalerr.ErrNotFound.
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Merges returns the codebook of a run in priority order.
	Merges(ctx context.Context, runID string) (bpe.Codebook, error)
	// Vocabulary returns a corpus vocabulary in emission order.
	Vocabulary(ctx context.Context, runID, corpus string) ([]vocab.Entry, error)
}

// Run describes one completed pipeline run
type Run struct {
	ID             string
	CreatedAt      time.Time
	Symbols        int
	MinFrequency   int
	Separator      string
	Postpend       bool
	TotalSymbols   bool
	CharacterVocab bool
	DictInput      bool
	CodesPath      string
	CodesDigest    string
	Special        []string
	Codebook       bpe.Codebook
	Corpora        []Corpus
}

// Corpus is one input corpus and the vocabulary derived from it.
type Corpus struct {
	Name    string
	Path    string
	Digest  string
	Entries []vocab.Entry
}
