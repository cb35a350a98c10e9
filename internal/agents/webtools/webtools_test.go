package webtools

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/tanjia/internal/agent"
)

const samplePage = `<html><head><title>Acme &amp; Co</title>
<style>p { color: red; }</style></head>
<body><h1>Acme</h1><script>track()</script>
<p>We build    widgets
for teams.</p></body></html>`

func TestNormalizeURL(t *testing.T) {
	u, err := NormalizeURL(" example.com/about ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/about", u)

	u, err = NormalizeURL("http://example.com")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", u)

	for _, bad := range []string{"", "ftp://example.com", "https://"} {
		_, err := NormalizeURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(samplePage))
		case "/big":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(strings.Repeat("word ", 100)))
		case "/doc.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4 not really a pdf"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	t.Run("html is reduced to text", func(t *testing.T) {
		f := NewFetcher(FetcherConfig{AllowPrivate: true})
		page, err := f.FetchPage(ctx, srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, page.Status)
		assert.Equal(t, "Acme & Co", page.Title)
		assert.Contains(t, page.Text, "We build widgets for teams.")
		assert.NotContains(t, page.Text, "track()")
		assert.NotContains(t, page.Text, "color")
		assert.NotContains(t, page.Text, "<")
		assert.False(t, page.Truncated)
	})

	t.Run("text is capped", func(t *testing.T) {
		f := NewFetcher(FetcherConfig{MaxChars: 20, AllowPrivate: true})
		page, err := f.FetchPage(ctx, srv.URL+"/big")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page.Text), 20)
		assert.True(t, page.Truncated)
	})

	t.Run("body is capped", func(t *testing.T) {
		f := NewFetcher(FetcherConfig{MaxBytes: 10, AllowPrivate: true})
		page, err := f.FetchPage(ctx, srv.URL+"/big")
		require.NoError(t, err)
		assert.True(t, page.Truncated)
		assert.LessOrEqual(t, len(page.Text), 10)
	})

	t.Run("non-2xx returns page and error", func(t *testing.T) {
		f := NewFetcher(FetcherConfig{AllowPrivate: true})
		page, err := f.FetchPage(ctx, srv.URL+"/missing")
		require.Error(t, err)
		require.NotNil(t, page)
		assert.Equal(t, http.StatusNotFound, page.Status)
	})

	t.Run("broken pdf", func(t *testing.T) {
		f := NewFetcher(FetcherConfig{AllowPrivate: true})
		page, err := f.FetchPage(ctx, srv.URL+"/doc.pdf")
		require.Error(t, err)
		require.NotNil(t, page)
		assert.Zero(t, page.Pages)
	})
}

func TestFetchPage_RefusesInternalAddresses(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	ctx := context.Background()
	f := NewFetcher(FetcherConfig{Timeout: 2 * time.Second})

	for _, target := range []string{
		srv.URL,
		"http://localhost:" + strconv.Itoa(srv.Listener.Addr().(*net.TCPAddr).Port),
		"http://169.254.169.254/latest/meta-data/",
		"http://10.0.0.1/",
	} {
		page, err := f.FetchPage(ctx, target)
		assert.ErrorIs(t, err, ErrBlockedAddress, target)
		assert.Nil(t, page, target)
	}
	assert.Zero(t, hits)

	permissive := NewFetcher(FetcherConfig{AllowPrivate: true})
	_, err := permissive.FetchPage(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestPublicAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"93.184.216.34":        true,
		"2606:4700::1111":      true,
		"127.0.0.1":            false,
		"10.1.2.3":             false,
		"172.16.0.1":           false,
		"192.168.1.1":          false,
		"169.254.169.254":      false,
		"100.64.0.1":           false,
		"0.0.0.0":              false,
		"224.0.0.1":            false,
		"::1":                  false,
		"fe80::1":              false,
		"fd00::1":              false,
		"::ffff:127.0.0.1":     false,
		"::ffff:93.184.216.34": true,
	} {
		assert.Equal(t, want, publicAddr(netip.MustParseAddr(addr)), addr)
	}
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF("application/pdf", nil))
	assert.True(t, isPDF("application/octet-stream", []byte("%PDF-1.7\n")))
	assert.False(t, isPDF("text/html", []byte("<html>")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	// "é" is two bytes; cutting inside it backs off to the rune start.
	assert.Equal(t, "a", truncate("aé", 2))
}

func TestSearch(t *testing.T) {
	var gotAuth, gotQuery, gotCount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("q")
		gotCount = r.URL.Query().Get("count")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"Acme","url":"https://acme.test","description":"Widgets &amp; more"},
			{"title":"No URL"},
			{"name":"Acme Blog","link":"https://acme.test/blog","snippet":"News"},
			{"title":"Third","url":"https://third.test"}
		]}}`))
	}))
	defer srv.Close()

	s := NewSearcher(SearcherConfig{Endpoint: srv.URL + "/search", APIKey: "k", MaxResults: 2})
	results, err := s.Search(context.Background(), "acme widgets")
	require.NoError(t, err)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.Equal(t, "acme widgets", gotQuery)
	assert.Equal(t, "2", gotCount)

	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{Title: "Acme", URL: "https://acme.test", Snippet: "Widgets & more"}, results[0])
	assert.Equal(t, "Acme Blog", results[1].Title)
	assert.Equal(t, "https://acme.test/blog", results[1].URL)

	_, err = s.Search(context.Background(), "  ")
	assert.Error(t, err)
}

func TestSearchErrors(t *testing.T) {
	_, err := NewSearcher(SearcherConfig{}).Search(context.Background(), "x")
	assert.ErrorIs(t, err, ErrSearchNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "bad" {
			_, _ = w.Write([]byte(`not json`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSearcher(SearcherConfig{Endpoint: srv.URL})
	_, err = s.Search(context.Background(), "x")
	assert.ErrorContains(t, err, "429")
	_, err = s.Search(context.Background(), "bad")
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestParseResultsTopLevelArray(t *testing.T) {
	results := parseResults([]byte(`[{"title":"A","href":"https://a.test"}]`), 5)
	require.Len(t, results, 1)
	assert.Equal(t, "https://a.test", results[0].URL)
}

func TestTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search" {
			_, _ = w.Write([]byte(`{"results":[{"title":"A","url":"https://a.test"}]}`))
			return
		}
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	ctx := context.Background()

	noSearch := Tools(NewFetcher(FetcherConfig{AllowPrivate: true}), NewSearcher(SearcherConfig{}))
	require.Equal(t, 1, noSearch.Len())
	assert.Equal(t, FetchPageTool, noSearch.GetTools()[0].Function.Name)

	set := Tools(NewFetcher(FetcherConfig{AllowPrivate: true}), NewSearcher(SearcherConfig{Endpoint: srv.URL + "/search"}))
	require.Equal(t, 2, set.Len())
	assert.Equal(t, agent.ToolKindFetch, set.ToolKind(FetchPageTool))
	assert.Equal(t, agent.ToolKindSearch, set.ToolKind(WebSearchTool))

	out, err := set.ExecuteTool(ctx, FetchPageTool, map[string]any{"url": srv.URL})
	require.NoError(t, err)
	var page map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, "Acme & Co", page["title"])
	assert.NotContains(t, page, "error")

	out, err = set.ExecuteTool(ctx, FetchPageTool, map[string]any{"url": srv.URL + "/gone"})
	require.NoError(t, err)
	assert.Contains(t, out, `"status":410`)
	assert.Contains(t, out, `"error"`)

	_, err = set.ExecuteTool(ctx, FetchPageTool, map[string]any{})
	assert.Error(t, err)

	out, err = set.ExecuteTool(ctx, WebSearchTool, map[string]any{"query": "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"a","results":[{"title":"A","url":"https://a.test"}]}`, out)
}
