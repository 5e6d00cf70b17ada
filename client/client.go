// Package client talks to the exchange service from the callback page.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deckauth/protocol"
)

const maxBodyBytes = 1 << 20

// Client calls the exchange service.
type Client struct {
	// BaseURL is the exchange endpoint, e.g. https://auth.example/.
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a Client with a bounded HTTP timeout.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 15 * time.Second}}
}

// AuthorizeURL is the exchange endpoint with no query; requesting it
// redirects the browser to the provider's consent page.
func (c *Client) AuthorizeURL() string {
	return c.BaseURL
}

// Exchange trades an authorization code for a session token and profile.
// The decoded result is returned for any status; the error is non-nil only
// when no result could be read.
func (c *Client) Exchange(ctx context.Context, code, state string) (protocol.Result, error) {
	if code == "" {
		return protocol.Result{}, errors.New("client: empty code")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return protocol.Result{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("exchange request: %w", err)
	}
	defer resp.Body.Close()

	var result protocol.Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&result); err != nil {
		return protocol.Result{}, fmt.Errorf("decode exchange response (%s): %w", resp.Status, err)
	}
	if !result.Success && result.Error == "" {
		result.Error = strings.TrimSpace(resp.Status)
	}
	return result, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
