// Package source provides the search and fetch collaborators of the cycle
// planner: DuckDuckGo HTML search, syndication feeds and a readable-text
// page fetcher.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Hit is one search result.
type Hit struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Snippet     string     `json:"snippet,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Source      string     `json:"source,omitempty"` // searcher name
}

// Page is the readable text of a fetched URL.
type Page struct {
	URL         string
	Title       string
	Text        string
	PublishedAt *time.Time
	FetchedAt   time.Time
	ContentType string
}

// Searcher finds candidate documents for a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Hit, error)
	Name() string
}

// Fetcher retrieves and extracts the readable text of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, maxBytes int64) (Page, error)
}

// FetchError reports that a URL could not be turned into text. The planner
// skips the hit and continues.
type FetchError struct {
	URL string
	Op  string // request, status, read, extract
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is or wraps a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
