// Package client talks to the roamr API on behalf of one signed-in (or
// guest) user. It implements the transport interfaces the client-side
// packages depend on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/roamr/internal/profile"
	"github.com/kalambet/roamr/internal/storage"
	"github.com/kalambet/roamr/internal/swipe"
)

const defaultTimeout = 30 * time.Second

// ErrNoToken is returned by authenticated calls on a guest client.
var ErrNoToken = errors.New("no API token configured")

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Type, e.Message)
}

// Client is a bearer-authenticated JSON client for the roamr API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client. An empty token makes it a guest client.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Authenticated reports whether the client carries a token.
func (c *Client) Authenticated() bool {
	return c.token != ""
}

// RecordSwipe posts one swipe event.
func (c *Client) RecordSwipe(ctx context.Context, ev swipe.Event) error {
	resp, err := c.post(ctx, "/swipes", ev)
	if err != nil {
		return err
	}
	var ack struct {
		Success bool `json:"success"`
	}
	if err := decodeJSON(resp, &ack); err != nil {
		return err
	}
	if !ack.Success {
		return errors.New("swipe not acknowledged")
	}
	return nil
}

// Save adds destinationID to the user's saved set.
func (c *Client) Save(ctx context.Context, destinationID string) error {
	resp, err := c.do(ctx, http.MethodPut, "/saved/"+url.PathEscape(destinationID), nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

// Unsave removes destinationID from the user's saved set.
func (c *Client) Unsave(ctx context.Context, destinationID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/saved/"+url.PathEscape(destinationID), nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

// List returns the ids in the user's saved set.
func (c *Client) List(ctx context.Context) ([]string, error) {
	resp, err := c.get(ctx, "/saved")
	if err != nil {
		return nil, err
	}
	var out struct {
		Destinations []string `json:"destinations"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Destinations, nil
}

// Preferences returns the user's current preference vector.
func (c *Client) Preferences(ctx context.Context) (profile.Vector, error) {
	resp, err := c.get(ctx, "/preferences")
	if err != nil {
		return profile.Vector{}, err
	}
	var out struct {
		Preferences profile.Vector `json:"preferences"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return profile.Vector{}, err
	}
	return out.Preferences, nil
}

// Swipes returns the user's most recent swipe history.
func (c *Client) Swipes(ctx context.Context, limit int) ([]storage.SwipeEvent, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/swipes?limit=%d", limit))
	if err != nil {
		return nil, err
	}
	var out struct {
		Swipes []storage.SwipeEvent `json:"swipes"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Swipes, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c.token == "" && path != "/health" {
		return nil, ErrNoToken
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is roamr running? (%w)", err)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// decodeJSON closes the body. Error statuses become *APIError; v may be nil
// to discard a successful body.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Type = envelope.Error.Type
			apiErr.Message = envelope.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if v == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
