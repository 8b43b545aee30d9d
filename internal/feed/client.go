// Package feed consumes the external feed-ranking service and keeps the
// per-session pagination and exclusion state it needs.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// ErrRateLimited is wrapped by FetchPage when every retry was rate limited.
var ErrRateLimited = errors.New("feed rate limited")

// Destination is one ranked card. Fields the core does not use are ignored.
type Destination struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Country string   `json:"country,omitempty"`
	Price   *float64 `json:"price,omitempty"`
}

// Page is one feed response. A nil NextCursor marks the end of the feed.
type Page struct {
	Destinations []Destination `json:"destinations"`
	NextCursor   *string       `json:"nextCursor"`
}

// PageRequest carries the signals the core supplies to the ranker.
type PageRequest struct {
	Origin    string
	Cursor    *string
	SessionID string
	Exclude   []string
	Vibe      string
	Sort      string
}

// Query encodes r as feed query parameters.
func (r PageRequest) Query() url.Values {
	q := url.Values{}
	q.Set("origin", r.Origin)
	q.Set("sessionId", r.SessionID)
	if r.Cursor != nil {
		q.Set("cursor", *r.Cursor)
	}
	if len(r.Exclude) > 0 {
		q.Set("exclude", strings.Join(r.Exclude, ","))
	}
	if r.Vibe != "" {
		q.Set("vibe", r.Vibe)
	}
	if r.Sort != "" {
		q.Set("sort", r.Sort)
	}
	return q
}

// Client fetches feed pages over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a feed client. token may be empty for guest sessions.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		backoff:    initialBackoff,
	}
}

// FetchPage requests one page. HTTP 429 responses are retried with
// exponential backoff.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (Page, error) {
	var lastErr error
	for attempt := range maxRetries {
		page, err := c.fetch(ctx, req)
		if err == nil {
			return page, nil
		}

		if !isRateLimit(err) {
			return Page{}, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			wait := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return Page{}, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return Page{}, fmt.Errorf("%w after %d retries: %v", ErrRateLimited, maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (c *Client) fetch(ctx context.Context, req PageRequest) (Page, error) {
	u := c.baseURL + "/feed?" + req.Query().Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Page{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Page{}, fmt.Errorf("requesting feed page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Page{}, &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return Page{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("decoding feed page: %w", err)
	}
	return page, nil
}
