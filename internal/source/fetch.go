package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"autolearn/internal/logging"
)

// DefaultMaxBytes caps a response body when the caller passes no limit.
const DefaultMaxBytes = 2 << 20

// FetcherConfig configures an HTTPFetcher.
type FetcherConfig struct {
	Timeout   time.Duration
	UserAgent string
	Markdown  bool // render article HTML as markdown instead of plain text
}

// HTTPFetcher downloads a URL and extracts its readable text. HTML goes
// through readability extraction, PDFs through page text extraction, and
// plain text is passed through.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	markdown  bool
	now       func() time.Time
}

// NewHTTPFetcher creates a fetcher.
func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; autolearn/1.0)"
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		markdown:  cfg.Markdown,
		now:       time.Now,
	}
}

// Fetch retrieves rawURL, reading at most maxBytes of the body. Every
// failure is a *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, maxBytes int64) (Page, error) {
	timer := logging.StartTimer(logging.CategorySource, "Fetch")
	defer timer.StopWithThreshold(10 * time.Second)

	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, &FetchError{URL: rawURL, Op: "request", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Page{}, &FetchError{URL: rawURL, Op: "request", Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, &FetchError{URL: rawURL, Op: "request", Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, &FetchError{URL: rawURL, Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, &FetchError{URL: rawURL, Op: "status", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return Page{}, &FetchError{URL: rawURL, Op: "read", Err: err}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	page := Page{URL: rawURL, FetchedAt: f.now().UTC(), ContentType: contentType}

	switch {
	case strings.Contains(contentType, "application/pdf") || strings.HasSuffix(strings.ToLower(u.Path), ".pdf"):
		page.ContentType = "application/pdf"
		page.Text, err = extractPDF(body)
		page.Title = pathTitle(u)
	case strings.HasPrefix(contentType, "text/plain"):
		page.Text = string(body)
		page.Title = pathTitle(u)
	default:
		page.Title, page.Text, page.PublishedAt, err = f.extractHTML(body, u)
	}
	if err != nil {
		return Page{}, &FetchError{URL: rawURL, Op: "extract", Err: err}
	}

	page.Text = cleanText(page.Text)
	if page.Text == "" {
		return Page{}, &FetchError{URL: rawURL, Op: "extract", Err: errors.New("no readable text")}
	}
	logging.SourceDebug("Fetched %s (%s, %d chars)", rawURL, page.ContentType, len(page.Text))
	return page, nil
}

func (f *HTTPFetcher) extractHTML(body []byte, u *url.URL) (string, string, *time.Time, error) {
	published := publishedFromMeta(body)

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return "", "", nil, fmt.Errorf("readability: %w", err)
	}
	title := strings.TrimSpace(article.Title)

	if f.markdown && article.Content != "" {
		converter := md.NewConverter("", true, nil)
		markdown, err := converter.ConvertString(article.Content)
		if err == nil {
			return title, markdown, published, nil
		}
		logging.SourceDebug("Markdown conversion failed for %s, using plain text: %v", u, err)
	}
	return title, article.TextContent, published, nil
}

// publishedMetaKeys are the <meta> names and properties that carry an
// article's publication time.
var publishedMetaKeys = map[string]bool{
	"article:published_time": true,
	"og:published_time":      true,
	"date":                   true,
	"dc.date":                true,
	"dc.date.issued":         true,
	"pubdate":                true,
	"publishdate":            true,
}

var publishedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// publishedFromMeta returns the first parseable publication time found in
// the document's meta tags.
func publishedFromMeta(body []byte) *time.Time {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var found *time.Time
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "meta" {
			key := strings.ToLower(attr(n, "property"))
			if key == "" {
				key = strings.ToLower(attr(n, "name"))
			}
			if publishedMetaKeys[key] {
				if t, ok := parsePublished(attr(n, "content")); ok {
					found = &t
					return
				}
			}
		}
		if n.Type == html.ElementNode && n.Data == "body" {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

func parsePublished(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// pathTitle derives a title from the last path segment.
func pathTitle(u *url.URL) string {
	p := strings.TrimSuffix(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		return u.Host
	}
	return p
}

// cleanText normalizes line endings, drops NUL bytes and collapses runs of
// blank lines.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\x00", "")

	lines := strings.Split(text, "\n")
	out := lines[:0]
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
