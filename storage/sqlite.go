// Package storage provides SQLite checkpoint storage.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema and file-list encoding (msgpack) encapsulated
// - Capacity eviction runs in the same transaction as the insert

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/richinex/handoff/model"
)

// SqliteStore implements CheckpointStore using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return newSqliteStore(db)
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every pooled connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)
	return newSqliteStore(db)
}

func newSqliteStore(db *sql.DB) (*SqliteStore, error) {
	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			raw_result TEXT NOT NULL,
			files BLOB NOT NULL,
			asset_count INTEGER NOT NULL,
			summary TEXT NOT NULL,
			digest TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Append inserts cp and evicts everything beyond Capacity.
func (s *SqliteStore) Append(ctx context.Context, cp model.Checkpoint) error {
	files, err := msgpack.Marshal(cp.Files)
	if err != nil {
		return fmt.Errorf("failed to encode files: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (id, created_at, raw_result, files, asset_count, summary, digest)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.Timestamp.UnixNano(), cp.RawResult, files, cp.AssetCount, cp.Summary, cp.Digest)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE seq NOT IN (
			SELECT seq FROM checkpoints ORDER BY seq DESC LIMIT ?
		)`, Capacity)
	if err != nil {
		return fmt.Errorf("failed to evict checkpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List returns all checkpoints, newest first.
func (s *SqliteStore) List(ctx context.Context) ([]model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, raw_result, files, asset_count, summary, digest
		 FROM checkpoints ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	result := []model.Checkpoint{}
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return result, nil
}

// Get returns one checkpoint by id.
func (s *SqliteStore) Get(ctx context.Context, id string) (model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, raw_result, files, asset_count, summary, digest
		 FROM checkpoints WHERE id = ?`, id)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Checkpoint{}, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	return cp, err
}

// Select returns the raw result of a checkpoint.
func (s *SqliteStore) Select(ctx context.Context, id string) (string, error) {
	return selectRaw(ctx, s, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (model.Checkpoint, error) {
	var (
		cp        model.Checkpoint
		createdAt int64
		files     []byte
	)
	if err := row.Scan(&cp.ID, &createdAt, &cp.RawResult, &files, &cp.AssetCount, &cp.Summary, &cp.Digest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cp, err
		}
		return cp, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	cp.Timestamp = time.Unix(0, createdAt).UTC()

	if err := msgpack.Unmarshal(files, &cp.Files); err != nil {
		return cp, fmt.Errorf("failed to decode files of %s: %w", cp.ID, err)
	}
	if cp.Files == nil {
		cp.Files = []model.ParsedFile{}
	}
	return cp, nil
}

// Verify SqliteStore implements CheckpointStore
var _ CheckpointStore = (*SqliteStore)(nil)
