// Package fetch extracts readable text from pages that link posts point at.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const (
	minTextLength = 100
	maxTextLength = 8000
	maxPageBytes  = 5 << 20
)

// ErrNoContent is returned when a page yields no usable text.
var ErrNoContent = errors.New("no extractable content")

// ErrDomainSkipped is returned for URLs on a domain that already failed with
// an HTTP error during this fetcher's lifetime.
var ErrDomainSkipped = errors.New("domain skipped after earlier HTTP error")

// LinkedContent fetches linked pages and extracts their main text with
// readability.
type LinkedContent struct {
	client    *http.Client
	userAgent string

	mu            sync.Mutex
	failedDomains map[string]struct{}
}

// NewLinkedContent creates a fetcher. A zero timeout means 15 seconds.
func NewLinkedContent(userAgent string, timeout time.Duration) *LinkedContent {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &LinkedContent{
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		failedDomains: make(map[string]struct{}),
	}
}

// Fetch returns the readable text of the page at pageURL, truncated to a
// bounded length.
func (f *LinkedContent) Fetch(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	domain := strings.ToLower(parsed.Host)

	f.mu.Lock()
	_, failed := f.failedDomains[domain]
	f.mu.Unlock()
	if failed {
		return "", ErrDomainSkipped
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if domain != "" {
			f.mu.Lock()
			f.failedDomains[domain] = struct{}{}
			f.mu.Unlock()
		}
		return "", &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoContent, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) <= minTextLength {
		return "", ErrNoContent
	}
	if len(text) > maxTextLength {
		text = strings.ToValidUTF8(text[:maxTextLength], "")
	}
	return text, nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.code, http.StatusText(e.code))
}
