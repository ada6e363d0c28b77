package x402shop

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/peacprotocol/x402shop/receipt"
)

// factCheckSnippetLen bounds the evidence excerpt carried in the response.
const factCheckSnippetLen = 400

// factCheckMaxBody caps how much of the upstream page is read and hashed.
const factCheckMaxBody = 4 << 20

var whitespaceRun = regexp.MustCompile(`\s+`)

// FactCheckResult is the fetched-page evidence a paid fact check returns: a
// whitespace-normalized excerpt plus the hash of the full fetched content.
type FactCheckResult struct {
	OK       bool   `json:"ok"`
	Snippet  string `json:"snippet"`
	PageHash string `json:"page_hash"`
}

// FactChecker fetches a target page and summarizes it as evidence.
type FactChecker interface {
	Check(ctx context.Context, targetURL string) (FactCheckResult, error)
}

// FactCheckOption customizes the HTTP fact checker.
type FactCheckOption func(*HTTPFactChecker)

// WithFactCheckTimeout bounds each upstream fetch. Default 6s.
func WithFactCheckTimeout(d time.Duration) FactCheckOption {
	if d <= 0 {
		panic("factcheck: timeout must be positive")
	}
	return func(c *HTTPFactChecker) {
		c.timeout = d
	}
}

// WithFactCheckClient swaps the HTTP client, e.g. for tests.
func WithFactCheckClient(client *http.Client) FactCheckOption {
	return func(c *HTTPFactChecker) {
		c.client = client
	}
}

// HTTPFactChecker fetches the target over HTTP. Any transport error, timeout,
// or non-2xx status is an error the caller reports as an upstream failure.
type HTTPFactChecker struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPFactChecker builds the default [FactChecker].
func NewHTTPFactChecker(opts ...FactCheckOption) *HTTPFactChecker {
	c := &HTTPFactChecker{
		client:  &http.Client{},
		timeout: 6 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c
}

// Check implements [FactChecker].
func (c *HTTPFactChecker) Check(ctx context.Context, targetURL string) (FactCheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return FactCheckResult{}, fmt.Errorf("factcheck: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return FactCheckResult{}, fmt.Errorf("factcheck: fetch %s: %w", targetURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return FactCheckResult{}, fmt.Errorf("factcheck: %s returned %s", targetURL, resp.Status)
	}

	text, err := io.ReadAll(io.LimitReader(resp.Body, factCheckMaxBody))
	if err != nil {
		return FactCheckResult{}, fmt.Errorf("factcheck: read %s: %w", targetURL, err)
	}
	return FactCheckResult{
		OK:       true,
		Snippet:  snippet(string(text)),
		PageHash: receipt.ContentHash(text),
	}, nil
}

// snippet collapses whitespace runs and truncates to the excerpt length.
func snippet(text string) string {
	collapsed := whitespaceRun.ReplaceAllString(text, " ")
	runes := []rune(collapsed)
	if len(runes) <= factCheckSnippetLen {
		return collapsed
	}
	return string(runes[:factCheckSnippetLen])
}
