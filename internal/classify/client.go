// Package classify is the boundary to the external classification service:
// a typed HTTP client plus strict response validation. The service itself is
// a black box; only the request/response contract is modelled here.
package classify

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

const defaultTimeout = 60 * time.Second

// Client communicates with the classification service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a Client targeting the given service base URL. The API key is
// sent as a bearer token; pass "" if the deployment does not require one.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 0},
		timeout:    defaultTimeout,
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Classify submits a capture for classification. Any failure — transport,
// status, malformed JSON, contract violation — wraps ErrInvalidResponse so
// callers handle one failure category. The call is never retried here:
// classification is cost- and latency-sensitive, retry policy belongs to
// the caller (which, per product policy, does not retry either).
func (c *Client) Classify(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp Response
	if err := c.post(ctx, "/v1/classify", req, &resp); err != nil {
		return Response{}, err
	}
	if err := resp.Validate(); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// rewriteRequest asks the service for a refreshed book running summary.
type rewriteRequest struct {
	BookName        string `json:"bookName"`
	CurrentContext  string `json:"currentContext"`
	NewEntrySummary string `json:"newEntrySummary"`
}

type rewriteResponse struct {
	Context string `json:"context"`
}

// RewriteContext produces the updated running summary for a book after a
// new entry was filed under it. Used by the engine's detached rewriter.
func (c *Client) RewriteContext(ctx context.Context, bookName, currentContext, newEntrySummary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp rewriteResponse
	err := c.post(ctx, "/v1/rewrite", rewriteRequest{
		BookName:        bookName,
		CurrentContext:  currentContext,
		NewEntrySummary: newEntrySummary,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Context == "" {
		return "", fmt.Errorf("%w: empty rewritten context", ErrInvalidResponse)
	}
	return resp.Context, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding body: %v", ErrInvalidResponse, err)
	}
	return nil
}
