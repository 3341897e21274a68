// Package store is the persistent knowledge store: documents, embedded
// passages and insights in SQLite, plus an in-memory vector index used for
// brute-force nearest-neighbour search.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"autolearn/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Options configures Open.
type Options struct {
	// Path to the database file, or MemoryPath.
	Path string

	// Dimensions is the vector dimension D. Zero means "take it from the
	// database, or from the first passage stored".
	Dimensions int

	BusyTimeout time.Duration
}

// Store is the SQLite-backed knowledge store. All mutations serialize on
// mu; the vector index is updated under the same lock so readers never see
// a passage row without its vector or the other way round.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	dims   int
	index  *vectorIndex
	now    func() time.Time
	closed bool
}

// Open creates or opens the store at opts.Path, applies the schema and
// loads every stored vector into memory.
func Open(ctx context.Context, opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	path := opts.Path
	if path == "" {
		return nil, fmt.Errorf("store path required")
	}
	logging.Store("Opening knowledge store at %s (driver=%s)", path, driverName)

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer, and :memory: databases are
	// per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	if err := applyPragmas(ctx, db, busy); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, dbPath: path, now: time.Now}
	if err := s.initDimensions(ctx, opts.Dimensions); err != nil {
		db.Close()
		return nil, err
	}

	idx, err := loadIndex(ctx, db, s.dims)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.index = idx

	logging.Store("Knowledge store ready: dimensions=%d, indexed_passages=%d", s.dims, idx.len())
	return s, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, busy time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// initDimensions reconciles the requested dimension with the one recorded in
// the meta table. A database created for one embedder cannot be reused with
// another of a different size.
func (s *Store) initDimensions(ctx context.Context, want int) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'dimensions'`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		s.dims = want
		if want > 0 {
			return setMeta(ctx, s.db, "dimensions", strconv.Itoa(want))
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to read dimensions: %w", err)
	}

	stored, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("corrupt dimensions value %q: %w", raw, err)
	}
	if want > 0 && want != stored {
		return constraint("open", "database holds %d-dimensional vectors, embedder produces %d", stored, want)
	}
	s.dims = stored
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func setMeta(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

// Dimensions returns D, or 0 when no dimension has been fixed yet.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Path returns the database path.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database connection. Later calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	logging.Store("Knowledge store closed")
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
