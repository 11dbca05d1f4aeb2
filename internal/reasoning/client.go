// Package reasoning wraps the external language-reasoning service that
// performs intent classification and text generation.
package reasoning

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkrasnov/parley/internal/domain"
)

// Classification is the raw output of the backend's classify call, before
// the resolver applies its confidence policy.
type Classification struct {
	Intent        string         `json:"intent"`
	Confidence    float64        `json:"confidence"`
	Params        map[string]any `json:"params,omitempty"`
	Clarification string         `json:"clarification,omitempty"`
}

// Classifier resolves a message into a candidate intent.
type Classifier interface {
	Classify(ctx context.Context, text string, history []domain.Message) (Classification, error)
}

// Generator produces natural-language text from a prompt. StreamGenerate
// yields ordered fragments; the channels close when generation finishes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	StreamGenerate(ctx context.Context, prompt string) (<-chan string, <-chan error)
}

// HTTPClient talks JSON to the reasoning service. Streaming responses
// arrive as SSE "data:" lines carrying {"delta": "..."} objects and a
// terminal [DONE] marker.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a client with a hard per-request timeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Text    string       `json:"text"`
	History []historyMsg `json:"history,omitempty"`
}

type historyMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream,omitempty"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

type streamChunk struct {
	Delta string `json:"delta"`
	Error string `json:"error,omitempty"`
}

// Classify asks the backend to classify text given conversation history.
func (c *HTTPClient) Classify(ctx context.Context, text string, history []domain.Message) (Classification, error) {
	req := classifyRequest{Text: text, History: make([]historyMsg, 0, len(history))}
	for _, m := range history {
		req.History = append(req.History, historyMsg{Role: string(m.Role), Content: m.Content})
	}

	var out Classification
	if err := c.post(ctx, "/classify", req, &out); err != nil {
		return Classification{}, err
	}
	return out, nil
}

// Generate returns the full generated text in one call.
func (c *HTTPClient) Generate(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	if err := c.post(ctx, "/generate", generateRequest{Prompt: prompt}, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", errors.New(out.Error)
	}
	return out.Text, nil
}

// StreamGenerate streams generated fragments via SSE.
func (c *HTTPClient) StreamGenerate(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := json.Marshal(generateRequest{Prompt: prompt, Stream: true})
		if err != nil {
			errs <- err
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
		if err != nil {
			errs <- err
			return
		}
		c.setHeaders(req)
		req.Header.Set("Accept", "text/event-stream")

		// The client timeout is sized for unary calls; a stream may
		// legitimately outlive it, so rely on ctx instead.
		streamClient := &http.Client{Transport: c.client.Transport}

		resp, err := streamClient.Do(req)
		if err != nil {
			errs <- fmt.Errorf("reasoning stream: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- statusError(resp)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				errs <- err
				return
			}
			if chunk.Error != "" {
				errs <- errors.New(chunk.Error)
				return
			}
			if chunk.Delta == "" {
				continue
			}
			select {
			case chunks <- chunk.Delta:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err := sc.Err(); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("reasoning request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("reasoning service: %s", msg)
}
