package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ControlClient drives the media provider's call-control REST API. The
// gateway uses exactly two operations: answering an incoming call with the
// media stream URL, and hanging an active call up.
type ControlClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// ControlOption configures a [ControlClient].
type ControlOption func(*ControlClient)

// WithHTTPClient replaces the underlying HTTP client. Tests inject the
// httptest server's client here.
func WithHTTPClient(c *http.Client) ControlOption {
	return func(cc *ControlClient) { cc.httpc = c }
}

// NewControlClient creates a client for the control API rooted at baseURL.
func NewControlClient(baseURL, apiKey string, opts ...ControlOption) *ControlClient {
	cc := &ControlClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

// answerRequest is the body of an answer call.
type answerRequest struct {
	MediaURL string `json:"media_url"`
}

// Answer instructs the provider to answer callID and stream its media to
// mediaURL.
func (c *ControlClient) Answer(ctx context.Context, callID, mediaURL string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/answer", callID), answerRequest{MediaURL: mediaURL})
}

// Hangup instructs the provider to terminate callID.
func (c *ControlClient) Hangup(ctx context.Context, callID string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/hangup", callID), nil)
}

func (c *ControlClient) post(ctx context.Context, path string, body any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("control: marshal %s: %w", path, err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("control: build request %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("control: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a little of the body for the error message; providers return
		// short JSON problem documents.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("control: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
