// Package backend provides the HTTP client for the domain service that
// actions execute against. The engine treats every call as an opaque,
// potentially slow, potentially failing RPC.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable wraps transport failures and 5xx responses.
var ErrUnavailable = errors.New("domain backend unavailable")

// BusinessError is a domain-invalid operation rejected by the backend
// (HTTP 4xx). It is surfaced to the caller with the constraint explained.
type BusinessError struct {
	Message     string
	Suggestions []string
}

func (e *BusinessError) Error() string {
	return e.Message
}

// Client executes named operations against the domain backend.
type Client interface {
	Do(ctx context.Context, op string, params map[string]any) (map[string]any, error)
}

// HTTPClient is the production Client: JSON POST per operation.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a backend client with a hard per-request timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type backendErrorBody struct {
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Do posts params to {base}/ops/{op} and decodes the JSON result.
func (c *HTTPClient) Do(ctx context.Context, op string, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/ops/%s", c.baseURL, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var eb backendErrorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(raw))
		}
		if eb.Error == "" {
			eb.Error = fmt.Sprintf("operation rejected (status %d)", resp.StatusCode)
		}
		return nil, &BusinessError{Message: eb.Error, Suggestions: eb.Suggestions}
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
