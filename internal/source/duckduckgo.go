package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"autolearn/internal/logging"
)

// DefaultDuckDuckGoEndpoint is the key-less HTML search interface.
const DefaultDuckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo searches the web through DuckDuckGo's HTML interface.
type DuckDuckGo struct {
	endpoint  string
	client    *http.Client
	userAgent string
}

// NewDuckDuckGo creates a searcher. An empty endpoint uses the public one.
func NewDuckDuckGo(endpoint string, timeout time.Duration, userAgent string) *DuckDuckGo {
	if endpoint == "" {
		endpoint = DefaultDuckDuckGoEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	return &DuckDuckGo{
		endpoint:  endpoint,
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search performs a search and returns at most maxResults hits.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	searchURL := d.endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	hits, err := parseDuckDuckGoResults(string(body), maxResults)
	if err != nil {
		return nil, err
	}
	logging.SourceDebug("DuckDuckGo returned %d hits for %q", len(hits), query)
	return hits, nil
}

// parseDuckDuckGoResults extracts search results from DuckDuckGo HTML.
func parseDuckDuckGoResults(htmlContent string, maxResults int) ([]Hit, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var hits []Hit
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(hits) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if hit := extractResult(n); hit.URL != "" && hit.Title != "" {
				hits = append(hits, hit)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hits, nil
}

// extractResult extracts a single search result from a result div.
func extractResult(n *html.Node) Hit {
	hit := Hit{Source: "duckduckgo"}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				hit.URL = attr(n, "href")
				hit.Title = textContent(n)
			case hasClass(n, "result__snippet"):
				hit.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	hit.URL = unwrapRedirect(hit.URL)
	return hit
}

// unwrapRedirect turns a DuckDuckGo click-tracking link into its target.
func unwrapRedirect(raw string) string {
	if !strings.Contains(raw, "duckduckgo.com/l/") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textContent returns all text within a node, whitespace-collapsed.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
