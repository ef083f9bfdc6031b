// Package client provides a small HTTP client for the reconciliation
// service: health checks and signed event submission. It is used by the CLI
// and by integration tooling that replays event batches.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brojonat/luxledger/service/events"
	"github.com/brojonat/luxledger/service/server"
)

// Client talks to a reconciliation service instance.
type Client struct {
	baseURL string
	http    *http.Client
	secrets map[events.Source]string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSourceSecret sets the webhook secret used to sign submissions for the
// given source.
func WithSourceSecret(source events.Source, secret string) Option {
	return func(c *Client) { c.secrets[source] = secret }
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		secrets: make(map[events.Source]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks the service's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("service unhealthy: %s: %s", resp.Status, body)
	}
	return nil
}

// BatchResult is the service's reply to an event submission.
type BatchResult struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
	Total     int  `json:"total"`
}

// SendEvents signs the payload with the source's secret and POSTs it to the
// source's webhook endpoint. The payload may be a single JSON event object
// or an array of them.
func (c *Client) SendEvents(ctx context.Context, source events.Source, payload []byte) (*BatchResult, error) {
	secret, ok := c.secrets[source]
	if !ok {
		return nil, fmt.Errorf("no webhook secret configured for source %q", source)
	}

	url := fmt.Sprintf("%s/api/v1/webhooks/%s", c.baseURL, source)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.SignatureHeader, server.ComputeSignature(secret, payload))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("webhook rejected: %s: %s", resp.Status, body)
	}

	var result BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode webhook response: %w", err)
	}
	return &result, nil
}
