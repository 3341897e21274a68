package store

import (
	"context"
	"fmt"
	"time"
)

// defaultSlowSearch is the NearestPassages duration logged as slow.
const defaultSlowSearch = 250 * time.Millisecond

// Stats summarizes store contents.
type Stats struct {
	DocumentCount    int64 `json:"document_count"`
	PassageCount     int64 `json:"passage_count"`
	InsightCount     int64 `json:"insight_count"`
	StorageSizeBytes int64 `json:"storage_size_bytes"`
	Dimensions       int   `json:"dimensions"`
}

// SizeMB returns StorageSizeBytes in mebibytes.
func (st Stats) SizeMB() float64 {
	return float64(st.StorageSizeBytes) / (1 << 20)
}

// Stats returns counts read from one consistent snapshot.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	st := Stats{Dimensions: s.dims}
	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM documents`, &st.DocumentCount},
		{`SELECT COUNT(*) FROM passages`, &st.PassageCount},
		{`SELECT COUNT(*) FROM insights`, &st.InsightCount},
	}
	for _, c := range counts {
		if err := tx.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("failed to count (%s): %w", c.query, err)
		}
	}

	var pageCount, pageSize int64
	if err := tx.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return Stats{}, fmt.Errorf("failed to read page_count: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return Stats{}, fmt.Errorf("failed to read page_size: %w", err)
	}
	st.StorageSizeBytes = pageCount * pageSize
	return st, nil
}
