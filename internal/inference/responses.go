// Package inference implements the streaming transport to the hosted
// inference backend's responses endpoint.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ask-dwight/coach-platform/internal/stream"
)

// Options configures the responses transport.
type Options struct {
	// URL is the responses endpoint.
	URL string
	// APIKey authorizes requests.
	APIKey string
	// Model names the inference model.
	Model string
	// Instructions is the opaque persona prompt attached to every request.
	Instructions string
	// MaxOutputTokens bounds reply length. Zero uses the backend default.
	MaxOutputTokens int
	// Temperature, when non-nil, overrides the backend default.
	Temperature *float64
}

// ResponsesTransport opens framed event streams against the responses
// endpoint. It implements stream.Transport.
type ResponsesTransport struct {
	httpClient *http.Client
	opts       Options
}

// NewResponsesTransport creates a transport. The client must have no overall
// timeout; streams are bounded by the session's watchdog instead.
func NewResponsesTransport(httpClient *http.Client, opts Options) *ResponsesTransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ResponsesTransport{
		httpClient: httpClient,
		opts:       opts,
	}
}

type responsesRequest struct {
	Model              string           `json:"model"`
	Instructions       string           `json:"instructions,omitempty"`
	Input              any              `json:"input"`
	Temperature        *float64         `json:"temperature,omitempty"`
	MaxOutputTokens    int              `json:"max_output_tokens,omitempty"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
	Stream             bool             `json:"stream"`
	Tools              []map[string]any `json:"tools,omitempty"`
}

// OpenStream issues the request and returns the raw framed body. Non-2xx
// statuses and missing bodies are errors; the session maps them to a nil
// result.
func (t *ResponsesTransport) OpenStream(ctx context.Context, req stream.Request) (io.ReadCloser, error) {
	var input any
	if req.Prompt.Structured() {
		input = req.Prompt.Turns
	} else {
		input = req.Prompt.Text
	}

	body := responsesRequest{
		Model:              t.opts.Model,
		Instructions:       t.opts.Instructions,
		Input:              input,
		Temperature:        t.opts.Temperature,
		MaxOutputTokens:    t.opts.MaxOutputTokens,
		PreviousResponseID: req.PreviousResponseID,
		Stream:             true,
	}
	if req.VectorStoreID != "" {
		body.Tools = []map[string]any{
			{
				"type":             "file_search",
				"vector_store_ids": []string{req.VectorStoreID},
			},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if t.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.opts.APIKey)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("stream request returned status %d", resp.StatusCode)
	}
	if resp.Body == nil {
		return nil, errors.New("stream response has no body")
	}

	return resp.Body, nil
}
