package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/mmcdole/gofeed"

	"autolearn/internal/logging"
)

// FeedSearcher matches queries against the entries of a fixed list of
// RSS/Atom feeds. Parsed feeds are cached for ttl.
type FeedSearcher struct {
	feeds     []string
	client    *http.Client
	userAgent string
	cache     *Cache[*gofeed.Feed]
}

// NewFeedSearcher creates a searcher over the given feed URLs.
func NewFeedSearcher(feeds []string, ttl, timeout time.Duration, userAgent string) *FeedSearcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &FeedSearcher{
		feeds:     feeds,
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		cache:     NewCache[*gofeed.Feed](len(feeds)+1, ttl),
	}
}

func (f *FeedSearcher) Name() string { return "feeds" }

// Search returns feed entries whose title or description mentions any
// significant word of the query, newest first. Unreachable feeds are
// skipped; the call fails only when every feed fails.
func (f *FeedSearcher) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	if len(f.feeds) == 0 {
		return nil, nil
	}
	terms := queryTerms(query)

	var hits []Hit
	var failures int
	var lastErr error
	for _, feedURL := range f.feeds {
		feed, err := f.load(ctx, feedURL)
		if err != nil {
			failures++
			lastErr = err
			logging.Get(logging.CategorySource).Warn("Feed %s unavailable: %v", feedURL, err)
			continue
		}
		for _, item := range feed.Items {
			if item == nil || item.Link == "" {
				continue
			}
			if !matchesTerms(item.Title+" "+item.Description, terms) {
				continue
			}
			hit := Hit{
				Title:   strings.TrimSpace(item.Title),
				URL:     item.Link,
				Snippet: strings.TrimSpace(item.Description),
				Source:  f.Name(),
			}
			if item.PublishedParsed != nil {
				t := item.PublishedParsed.UTC()
				hit.PublishedAt = &t
			} else if item.UpdatedParsed != nil {
				t := item.UpdatedParsed.UTC()
				hit.PublishedAt = &t
			}
			hits = append(hits, hit)
		}
	}
	if failures == len(f.feeds) {
		return nil, fmt.Errorf("all %d feeds failed: %w", failures, lastErr)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i].PublishedAt, hits[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	if maxResults > 0 && len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

func (f *FeedSearcher) load(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	if feed, ok := f.cache.Get(feedURL); ok {
		return feed, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	f.cache.Set(feedURL, feed)
	logging.SourceDebug("Loaded feed %s (%d items)", feedURL, len(feed.Items))
	return feed, nil
}

// queryTerms returns the lowercased query words of three or more letters.
func queryTerms(query string) []string {
	var terms []string
	for _, w := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// matchesTerms reports whether text contains any term. No terms matches
// everything.
func matchesTerms(text string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
