package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/subword/pkg/subword/bpe"
	"github.com/cognicore/subword/pkg/subword/internalerr"
	"github.com/cognicore/subword/pkg/subword/store"
	"github.com/cognicore/subword/pkg/subword/vocab"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite run ledger with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerr.ErrStoreUnavailable, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", internalerr.ErrStoreUnavailable, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	symbols INTEGER NOT NULL,
	min_frequency INTEGER NOT NULL,
	separator TEXT NOT NULL,
	postpend INTEGER NOT NULL DEFAULT 0,
	total_symbols INTEGER NOT NULL DEFAULT 0,
	character_vocab INTEGER NOT NULL DEFAULT 0,
	dict_input INTEGER NOT NULL DEFAULT 0,
	codes_path TEXT,
	codes_digest TEXT,
	special TEXT
);

CREATE TABLE IF NOT EXISTS merges (
	run_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	left_symbol TEXT NOT NULL,
	right_symbol TEXT NOT NULL,
	PRIMARY KEY(run_id, ordinal),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS corpora (
	run_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	path TEXT,
	digest TEXT,
	PRIMARY KEY(run_id, position),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS vocab_entries (
	run_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	ordinal INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	count INTEGER NOT NULL,
	PRIMARY KEY(run_id, position, ordinal),
	FOREIGN KEY(run_id, position) REFERENCES corpora(run_id, position) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// RecordRun inserts a run, its merges and its corpus vocabularies in one
// transaction.
func (s *sqliteStore) RecordRun(ctx context.Context, r store.Run) error {
	if r.ID == "" {
		return fmt.Errorf("record run: empty id: %w", internalerr.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, r.ID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("record run %s: %w", r.ID, internalerr.ErrDuplicate)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	special, err := json.Marshal(r.Special)
	if err != nil {
		return err
	}

	const stmt = `
INSERT INTO runs (id, created_at, symbols, min_frequency, separator, postpend,
	total_symbols, character_vocab, dict_input, codes_path, codes_digest, special)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	if _, err := tx.ExecContext(ctx, stmt,
		r.ID,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.Symbols,
		r.MinFrequency,
		r.Separator,
		r.Postpend,
		r.TotalSymbols,
		r.CharacterVocab,
		r.DictInput,
		r.CodesPath,
		r.CodesDigest,
		string(special),
	); err != nil {
		return err
	}

	if err := insertMerges(ctx, tx, r.ID, r.Codebook); err != nil {
		return err
	}
	for i, c := range r.Corpora {
		if err := insertCorpus(ctx, tx, r.ID, i, c); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertMerges(ctx context.Context, tx *sql.Tx, runID string, codes bpe.Codebook) error {
	if len(codes) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO merges (run_id, ordinal, left_symbol, right_symbol) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for rank, m := range codes {
		if _, err := stmt.ExecContext(ctx, runID, rank, m.Left, m.Right); err != nil {
			return err
		}
	}
	return nil
}

func insertCorpus(ctx context.Context, tx *sql.Tx, runID string, position int, c store.Corpus) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO corpora (run_id, position, name, path, digest) VALUES (?, ?, ?, ?, ?)`,
		runID, position, c.Name, c.Path, c.Digest,
	); err != nil {
		return err
	}
	if len(c.Entries) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vocab_entries (run_id, position, ordinal, symbol, count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for rank, e := range c.Entries {
		if _, err := stmt.ExecContext(ctx, runID, position, rank, e.Symbol, e.Count); err != nil {
			return err
		}
	}
	return nil
}

const runColumns = `id, created_at, symbols, min_frequency, separator, postpend,
	total_symbols, character_vocab, dict_input, codes_path, codes_digest, special`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (store.Run, error) {
	var (
		r                 store.Run
		createdAt         string
		codesPath, digest sql.NullString
		special           sql.NullString
	)
	if err := row.Scan(
		&r.ID, &createdAt, &r.Symbols, &r.MinFrequency, &r.Separator, &r.Postpend,
		&r.TotalSymbols, &r.CharacterVocab, &r.DictInput, &codesPath, &digest, &special,
	); err != nil {
		return store.Run{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		r.CreatedAt = ts
	}
	r.CodesPath = codesPath.String
	r.CodesDigest = digest.String
	if special.Valid && special.String != "" {
		if err := json.Unmarshal([]byte(special.String), &r.Special); err != nil {
			return store.Run{}, fmt.Errorf("decode special vocabulary: %w", err)
		}
	}
	return r, nil
}

// GetRun retrieves run metadata and its corpus list
func (s *sqliteStore) GetRun(ctx context.Context, id string) (store.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Run{}, fmt.Errorf("run %s: %w", id, internalerr.ErrNotFound)
	}
	if err != nil {
		return store.Run{}, err
	}

	corpora, err := s.loadCorpora(ctx, id)
	if err != nil {
		return store.Run{}, err
	}
	r.Corpora = corpora
	return r, nil
}

func (s *sqliteStore) loadCorpora(ctx context.Context, runID string) ([]store.Corpus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, path, digest FROM corpora WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	corpora := []store.Corpus{}
	for rows.Next() {
		var (
			c            store.Corpus
			path, digest sql.NullString
		)
		if err := rows.Scan(&c.Name, &path, &digest); err != nil {
			return nil, err
		}
		c.Path = path.String
		c.Digest = digest.String
		corpora = append(corpora, c)
	}
	return corpora, rows.Err()
}

// ListRuns returns the most recent runs first
func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	var runs []store.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		corpora, err := s.loadCorpora(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Corpora = corpora
	}
	return runs, nil
}

// Merges returns the codebook of a run in priority order
func (s *sqliteStore) Merges(ctx context.Context, runID string) (bpe.Codebook, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT left_symbol, right_symbol FROM merges WHERE run_id = ? ORDER BY ordinal`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := bpe.Codebook{}
	for rows.Next() {
		var m bpe.Merge
		if err := rows.Scan(&m.Left, &m.Right); err != nil {
			return nil, err
		}
		codes = append(codes, m)
	}
	return codes, rows.Err()
}

// Vocabulary returns the entries of the first corpus named corpus
func (s *sqliteStore) Vocabulary(ctx context.Context, runID, corpus string) ([]vocab.Entry, error) {
	var position int
	err := s.db.QueryRowContext(ctx,
		`SELECT position FROM corpora WHERE run_id = ? AND name = ? ORDER BY position LIMIT 1`,
		runID, corpus,
	).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("corpus %s in run %s: %w", corpus, runID, internalerr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, count FROM vocab_entries WHERE run_id = ? AND position = ? ORDER BY ordinal`,
		runID, position)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []vocab.Entry{}
	for rows.Next() {
		var e vocab.Entry
		if err := rows.Scan(&e.Symbol, &e.Count); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *sqliteStore) requireRun(ctx context.Context, runID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", runID, internalerr.ErrNotFound)
	}
	return err
}
