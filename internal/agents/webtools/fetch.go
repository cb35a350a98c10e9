// Package webtools provides the fetch_page and web_search agent tools.
package webtools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

const (
	DefaultTimeout  = 15 * time.Second
	DefaultMaxBytes = 2 << 20
	DefaultMaxChars = 8000

	userAgent = "tanjia/1.0 (+lead research)"
)

// ErrBlockedAddress is returned when a fetch would connect to a loopback,
// private, link-local or otherwise internal address.
var ErrBlockedAddress = errors.New("address not allowed")

var (
	titleRe      = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Timeout  time.Duration
	MaxBytes int64 // response body cap
	MaxChars int   // extracted text cap

	// AllowPrivate disables the internal address check. It is ignored when
	// HTTPClient is set.
	AllowPrivate bool

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Page is the result of fetching one URL.
type Page struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Text        string `json:"text,omitempty"`
	Pages       int    `json:"pages,omitempty"` // PDF only
	Truncated   bool   `json:"truncated,omitempty"`
}

// Fetcher downloads pages and reduces them to plain text.
type Fetcher struct {
	client   *http.Client
	policy   *bluemonday.Policy
	maxBytes int64
	maxChars int
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient(cfg.Timeout, cfg.AllowPrivate)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:   client,
		policy:   bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true),
		maxBytes: cfg.MaxBytes,
		maxChars: cfg.MaxChars,
		logger:   logger,
	}
}

// newHTTPClient checks every dialed address, so redirects and hostnames
// that resolve to internal addresses are refused too.
func newHTTPClient(timeout time.Duration, allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if !allowPrivate {
		dialer.Control = func(_, address string, _ syscall.RawConn) error {
			return checkDialAddress(address)
		}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: timeout, Transport: transport}
}

func checkDialAddress(address string) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	if !publicAddr(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ap.Addr())
	}
	return nil
}

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// publicAddr reports whether ip is a globally routable unicast address.
func publicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	switch {
	case !ip.IsValid(),
		ip.IsUnspecified(),
		ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(),
		ip.IsMulticast(),
		sharedAddressSpace.Contains(ip):
		return false
	}
	return true
}

// NormalizeURL adds a scheme when missing and rejects anything but http(s).
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url: missing host")
	}
	return u.String(), nil
}

// FetchPage downloads rawURL. HTML is stripped to text; PDFs report their
// page count. Non-2xx responses are returned as a Page with an error.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (*Page, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	page := &Page{
		URL:         target,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if int64(len(body)) > f.maxBytes {
		body = body[:f.maxBytes]
		page.Truncated = true
	}

	f.logger.Debug("fetched page", "url", target, "status", resp.StatusCode,
		"bytes", len(body), "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return page, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	if isPDF(page.ContentType, body) {
		n, err := api.PageCount(bytes.NewReader(body), nil)
		if err != nil {
			return page, fmt.Errorf("read pdf %s: %w", target, err)
		}
		page.ContentType = "application/pdf"
		page.Pages = n
		return page, nil
	}

	raw := string(body)
	if m := titleRe.FindStringSubmatch(raw); m != nil {
		page.Title = cleanText(f.policy.Sanitize(m[1]))
	}
	text := cleanText(f.policy.Sanitize(raw))
	if len(text) > f.maxChars {
		text = truncate(text, f.maxChars)
		page.Truncated = true
	}
	page.Text = text
	return page, nil
}

func isPDF(contentType string, body []byte) bool {
	return strings.Contains(strings.ToLower(contentType), "application/pdf") ||
		bytes.HasPrefix(body, []byte("%PDF-"))
}

func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(html.UnescapeString(s), " "))
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
