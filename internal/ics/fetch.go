package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrFetch marks transport or HTTP-status failures reaching a feed URL.
// The whole sync aborts on it before any mutation.
var ErrFetch = errors.New("feed fetch failed")

// Fetcher retrieves raw ICS documents over HTTP.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with an explicit request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch downloads the feed at feedURL and returns the raw ICS text.
// webcal:// URLs are rewritten to https:// before fetching.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (string, error) {
	url := NormalizeFeedURL(feedURL)
	if url == "" {
		return "", fmt.Errorf("%w: empty feed URL", ErrFetch)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: HTTP %d from feed", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", ErrFetch, err)
	}

	return string(body), nil
}

// NormalizeFeedURL rewrites webcal:// feed URLs to https://.
func NormalizeFeedURL(feedURL string) string {
	trimmed := strings.TrimSpace(feedURL)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "webcal://") {
		return "https://" + trimmed[len("webcal://"):]
	}
	return trimmed
}
