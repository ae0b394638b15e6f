// Package client delivers collected readings to a meshstats server over HTTP.
// Client satisfies collect.Sink, so a collector can run on the node host and
// push to a server elsewhere.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nicktill/meshstats/pkg/httpx"
	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/server"
)

// DefaultTimeout bounds one ingest request
const DefaultTimeout = 10 * time.Second

// StatusError is a non-2xx ingest response
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ingest failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("ingest failed with status %d: %s", e.StatusCode, e.Message)
}

// Client posts to /v1/ingest
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a client for the server at baseURL, e.g. http://localhost:8080.
// A nil httpClient uses one with DefaultTimeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/v1/ingest",
		http:     httpClient,
	}
}

// Ingest sends one collection and returns the server's accounting
func (c *Client) Ingest(ctx context.Context, ts int64, role sample.Role, fields sample.Fields) (server.IngestResponse, error) {
	payload := make(map[string]any, len(fields))
	for name, v := range fields {
		payload[name] = v
	}
	body, err := json.Marshal(server.IngestRequest{Role: string(role), Timestamp: &ts, Fields: payload})
	if err != nil {
		return server.IngestResponse{}, fmt.Errorf("failed to marshal ingest: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return server.IngestResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return server.IngestResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e httpx.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Message
		if msg == "" {
			msg = e.Error
		}
		return server.IngestResponse{}, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out server.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return server.IngestResponse{}, fmt.Errorf("failed to decode ingest response: %w", err)
	}
	return out, nil
}

// InsertFields implements collect.Sink
func (c *Client) InsertFields(ctx context.Context, ts int64, role sample.Role, fields sample.Fields) (int, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	resp, err := c.Ingest(ctx, ts, role, fields)
	if err != nil {
		return 0, err
	}
	return resp.Inserted, nil
}
