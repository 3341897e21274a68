package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"autolearn/internal/logging"
)

// InsightInput is a synthesized summary to persist.
type InsightInput struct {
	Topic      string
	Summary    string
	Confidence float64
	Sources    []string
	CreatedAt  time.Time
}

// Insight is a stored summary of one cycle's novel material.
type Insight struct {
	ID         int64     `json:"id"`
	Topic      string    `json:"topic"`
	Summary    string    `json:"summary"`
	Confidence float64   `json:"confidence"`
	Sources    []string  `json:"sources"`
	CreatedAt  time.Time `json:"created_at"`
}

// StoreInsight persists an insight and returns its id.
func (s *Store) StoreInsight(ctx context.Context, in InsightInput) (int64, error) {
	const op = "store_insight"
	if strings.TrimSpace(in.Summary) == "" {
		return 0, constraint(op, "empty summary")
	}
	if math.IsNaN(in.Confidence) || in.Confidence < 0 || in.Confidence > 1 {
		return 0, constraint(op, "confidence %v outside [0,1]", in.Confidence)
	}
	sources := in.Sources
	if sources == nil {
		sources = []string{}
	}
	srcJSON, err := json.Marshal(sources)
	if err != nil {
		return 0, fmt.Errorf("failed to encode sources: %w", err)
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO insights (topic, summary, confidence, sources, created_at) VALUES (?, ?, ?, ?, ?)`,
		in.Topic, in.Summary, in.Confidence, string(srcJSON), formatTime(created))
	if err != nil {
		return 0, fmt.Errorf("failed to insert insight: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read insight id: %w", err)
	}
	logging.Store("Stored insight %d on %q (confidence=%.2f, sources=%d)", id, in.Topic, in.Confidence, len(sources))
	return id, nil
}

// RecentInsights returns up to limit insights, newest first.
func (s *Store) RecentInsights(ctx context.Context, limit int) ([]Insight, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, summary, confidence, sources, created_at FROM insights
		 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		var in Insight
		var sources, created string
		if err := rows.Scan(&in.ID, &in.Topic, &in.Summary, &in.Confidence, &sources, &created); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &in.Sources); err != nil {
			return nil, fmt.Errorf("insight %d: bad sources: %w", in.ID, err)
		}
		if in.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("insight %d: bad created_at: %w", in.ID, err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
