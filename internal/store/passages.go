package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"autolearn/internal/logging"
)

// NormTolerance is how far from 1 a vector's L2 norm may be.
const NormTolerance = 1e-3

// Neighbor is one nearest-passage result.
type Neighbor struct {
	PassageID  int64
	DocumentID int64
	Similarity float64
	Text       string
	URL        string
	Title      string
}

// AddPassage stores an embedded passage of an existing document. The vector
// must be unit length and, once D is fixed, exactly D long. The first passage
// stored in an empty database fixes D when it was not configured.
func (s *Store) AddPassage(ctx context.Context, documentID int64, seq int, text string, vector []float32) (int64, error) {
	const op = "add_passage"

	if len(vector) == 0 {
		return 0, constraint(op, "empty vector")
	}
	if n := norm(vector); math.IsNaN(n) || math.Abs(n-1) > NormTolerance {
		return 0, constraint(op, "vector is not unit length (norm=%.6f)", n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	if s.dims > 0 && len(vector) != s.dims {
		return 0, constraint(op, "vector has dimension %d, store requires %d", len(vector), s.dims)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, documentID).Scan(&one)
	if err == sql.ErrNoRows {
		return 0, constraint(op, "document %d does not exist", documentID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check document: %w", err)
	}

	err = tx.QueryRowContext(ctx, `SELECT 1 FROM passages WHERE document_id = ? AND seq = ?`, documentID, seq).Scan(&one)
	if err == nil {
		return 0, constraint(op, "document %d already has passage %d", documentID, seq)
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to check passage: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO passages (document_id, seq, text, dim, vector) VALUES (?, ?, ?, ?, ?)`,
		documentID, seq, text, len(vector), encodeVector(vector))
	if err != nil {
		return 0, fmt.Errorf("failed to insert passage: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read passage id: %w", err)
	}

	fixDims := s.dims == 0
	if fixDims {
		if err := setMeta(ctx, tx, "dimensions", strconv.Itoa(len(vector))); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit passage: %w", err)
	}

	if fixDims {
		s.dims = len(vector)
		s.index.dims = s.dims
		logging.Store("Vector dimension fixed at %d by first passage", s.dims)
	}
	v := make([]float32, len(vector))
	copy(v, vector)
	s.index.add(id, documentID, v)

	logging.StoreDebug("Stored passage %d (document=%d, seq=%d, chars=%d)", id, documentID, seq, len(text))
	return id, nil
}

// NearestPassages returns up to k stored passages most similar to query,
// ordered by similarity descending with ties broken by lower passage id.
// An empty store yields an empty result.
func (s *Store) NearestPassages(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NearestPassages")
	defer timer.StopWithThreshold(defaultSlowSearch)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	if k <= 0 || s.index.len() == 0 {
		return []Neighbor{}, nil
	}
	if len(query) != s.dims {
		return nil, constraint("nearest_passages", "query has dimension %d, store requires %d", len(query), s.dims)
	}

	top := s.index.topK(query, k)
	out := make([]Neighbor, len(top))
	byID := make(map[int64]int, len(top))
	args := make([]interface{}, len(top))
	for i, sc := range top {
		id := s.index.ids[sc.pos]
		out[i] = Neighbor{
			PassageID:  id,
			DocumentID: s.index.docIDs[sc.pos],
			Similarity: sc.similarity,
		}
		byID[id] = i
		args[i] = id
	}

	q := `SELECT p.id, p.text, d.url, d.title FROM passages p JOIN documents d ON d.id = p.document_id
	      WHERE p.id IN (?` + strings.Repeat(",?", len(args)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load passage texts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var text, url, title string
		if err := rows.Scan(&id, &text, &url, &title); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		if i, ok := byID[id]; ok {
			out[i].Text, out[i].URL, out[i].Title = text, url, title
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate passages: %w", err)
	}
	return out, nil
}

// PassageCount returns the number of indexed passages.
func (s *Store) PassageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.len()
}
