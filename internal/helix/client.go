// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Package helix is Castellan's client for the Twitch Helix REST surface:
// EventSub subscription management, the paginated list endpoints the
// reconciliation poller diffs against, and outgoing chat messages.
package helix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/rmellis/castellan/internal/config"
	"github.com/rmellis/castellan/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error payloads.
const maxErrorBodySize = 64 * 1024 // 64KB

// pageSize is the per-page row count requested from list endpoints.
const pageSize = 100

// maxPages is a safety valve against a server that never exhausts its
// cursor; 200 pages at 100 rows covers any realistic channel.
const maxPages = 200

// APIError carries the status and message of a non-2xx Helix response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client talks to the Helix REST surface. All methods take a context and
// pass through the shared rate limiter before dispatching.
type Client struct {
	baseURL       string
	clientID      string
	token         string
	broadcasterID string
	botUserID     string

	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Helix client from the Twitch configuration.
//
// The limiter tracks Twitch's app token bucket (800 points refilled per
// minute, every endpoint Castellan calls costs 1).
func NewClient(cfg *config.TwitchConfig) *Client {
	return &Client{
		baseURL:       cfg.HelixURL,
		clientID:      cfg.ClientID,
		token:         cfg.AccessToken,
		broadcasterID: cfg.BroadcasterID,
		botUserID:     cfg.BotUserID,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		limiter:       rate.NewLimiter(rate.Limit(800.0/60.0), 800),
	}
}

// BroadcasterID returns the configured channel id.
func (c *Client) BroadcasterID() string { return c.broadcasterID }

// BotUserID returns the authenticated bot user id.
func (c *Client) BotUserID() string { return c.botUserID }

// readBodyForError reads at most maxErrorBodySize bytes of an error
// response for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}

// do performs one authenticated request and decodes the JSON response into
// out (when out is non-nil). Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("helix rate limiter: %w", err)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Client-Id", c.clientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw := readBodyForError(resp.Body)

		var helixErr models.HelixError
		if err := json.Unmarshal(raw, &helixErr); err == nil && helixErr.Message != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: helixErr.Message}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}

	return nil
}

// get performs a GET with the broadcaster query values merged in.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}
