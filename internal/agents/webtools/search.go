package webtools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrSearchNotConfigured is returned when no search endpoint is set.
var ErrSearchNotConfigured = errors.New("web search not configured")

const DefaultMaxResults = 5

// Candidate locations of the result array and of each field, covering the
// common search API response shapes.
var (
	resultPaths  = []string{"results", "web.results", "organic", "organic_results", "items", "data"}
	titlePaths   = []string{"title", "name"}
	urlPaths     = []string{"url", "link", "href"}
	snippetPaths = []string{"snippet", "description", "content", "text"}
)

// SearcherConfig configures a Searcher.
type SearcherConfig struct {
	// Endpoint receives GET ?q=<query>&count=<n>
	Endpoint   string
	APIKey     string
	MaxResults int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// SearchResult is one hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher queries a JSON web search API.
type Searcher struct {
	endpoint   string
	apiKey     string
	maxResults int
	client     *http.Client
	logger     *slog.Logger
}

// NewSearcher creates a Searcher. An empty endpoint yields a searcher whose
// Search returns ErrSearchNotConfigured.
func NewSearcher(cfg SearcherConfig) *Searcher {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		endpoint:   strings.TrimSpace(cfg.Endpoint),
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
		client:     client,
		logger:     logger,
	}
}

// Configured reports whether an endpoint is set.
func (s *Searcher) Configured() bool {
	return s != nil && s.endpoint != ""
}

// Search runs query and returns at most MaxResults hits.
func (s *Searcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if !s.Configured() {
		return nil, ErrSearchNotConfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(s.maxResults))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("search returned invalid JSON")
	}

	results := parseResults(body, s.maxResults)
	s.logger.Debug("web search", "query", query, "results", len(results))
	return results, nil
}

func parseResults(body []byte, limit int) []SearchResult {
	doc := gjson.ParseBytes(body)
	var list gjson.Result
	for _, p := range resultPaths {
		if r := doc.Get(p); r.IsArray() {
			list = r
			break
		}
	}
	if !list.Exists() && doc.IsArray() {
		list = doc
	}

	out := []SearchResult{}
	list.ForEach(func(_, item gjson.Result) bool {
		r := SearchResult{
			Title:   first(item, titlePaths),
			URL:     first(item, urlPaths),
			Snippet: cleanText(first(item, snippetPaths)),
		}
		if r.URL != "" {
			out = append(out, r)
		}
		return len(out) < limit
	})
	return out
}

func first(item gjson.Result, paths []string) string {
	for _, p := range paths {
		if v := item.Get(p); v.Exists() && v.String() != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}
