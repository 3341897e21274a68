package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"autolearn/internal/logging"
)

// DocumentInput is the data needed to record a fetched page.
type DocumentInput struct {
	URL         string
	Title       string
	RawText     string
	PublishedAt *time.Time
	FetchedAt   time.Time
}

// Document is a stored page. Documents are never mutated or deleted.
type Document struct {
	ID          int64
	URL         string
	URLHash     string
	Title       string
	RawText     string
	PublishedAt *time.Time
	FetchedAt   time.Time
}

// HashURL returns the hex SHA-256 of a URL, the secondary document key.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// UpsertDocument records a document and returns its id. If the URL is
// already stored the existing id is returned and nothing changes.
func (s *Store) UpsertDocument(ctx context.Context, in DocumentInput) (int64, error) {
	url := strings.TrimSpace(in.URL)
	if url == "" {
		return 0, constraint("upsert_document", "empty url")
	}
	fetched := in.FetchedAt
	if fetched.IsZero() {
		fetched = s.now()
	}
	var published sql.NullString
	if in.PublishedAt != nil {
		published = sql.NullString{String: formatTime(*in.PublishedAt), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (url, url_hash, title, raw_text, published_at, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		url, HashURL(url), in.Title, in.RawText, published, formatTime(fetched))
	if err != nil {
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM documents WHERE url = ?`, url).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read document id: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		logging.StoreDebug("Stored document %d: %s", id, url)
	} else {
		logging.StoreDebug("Document already stored as %d: %s", id, url)
	}
	return id, nil
}

// HasDocument reports whether url has already been ingested.
func (s *Store) HasDocument(ctx context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE url = ?`, strings.TrimSpace(url)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up document: %w", err)
	}
	return true, nil
}

// GetDocument loads a document by id.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var d Document
	var published sql.NullString
	var fetched string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, url_hash, title, raw_text, published_at, fetched_at FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.URL, &d.URLHash, &d.Title, &d.RawText, &published, &fetched)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %d: %w", id, err)
	}
	if d.PublishedAt, err = parseNullTime(published); err != nil {
		return nil, fmt.Errorf("document %d: bad published_at: %w", id, err)
	}
	if d.FetchedAt, err = parseTime(fetched); err != nil {
		return nil, fmt.Errorf("document %d: bad fetched_at: %w", id, err)
	}
	return &d, nil
}
