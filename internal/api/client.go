// internal/api/client.go
package api

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

	"github.com/user/threadline/internal/types"
)

// ErrThreadNotFound is returned when a thread lookup 404s.
var ErrThreadNotFound = errors.New("thread not found")

// TokenSource supplies the current access token for authenticated requests.
// The session manager implements it.
type TokenSource interface {
	Token() string
}

// Client talks to the backend's thread and conversation endpoints. Reads
// are retried on transient failures; the dispatch endpoint never is.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	retry   *RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTokenSource sets where the Authorization bearer token comes from.
func WithTokenSource(tokens TokenSource) ClientOption {
	return func(c *Client) { c.tokens = tokens }
}

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy overrides the read-retry policy.
func WithRetryPolicy(p *RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// New creates a Client for the given base URL.
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokenSource wires the token source after construction. The auth
// client must exist before the session manager that feeds it tokens.
func (c *Client) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

// GetThread fetches one thread's metadata.
func (c *Client) GetThread(ctx context.Context, id types.ThreadID) (*types.Thread, error) {
	var thread types.Thread
	err := c.retry.Execute(func() error {
		return c.doJSON(ctx, http.MethodGet, "/api/threads/"+string(id), nil, true, &thread)
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, id)
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &thread, nil
}

// ListThreads fetches the caller's threads, the dashboard view.
func (c *Client) ListThreads(ctx context.Context) ([]*types.Thread, error) {
	var resp struct {
		Threads []*types.Thread `json:"threads"`
	}
	err := c.retry.Execute(func() error {
		return c.doJSON(ctx, http.MethodGet, "/api/threads", nil, true, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return resp.Threads, nil
}

// GetMessages fetches the thread's full message history, raw.
func (c *Client) GetMessages(ctx context.Context, id types.ThreadID) ([]types.RawMessage, error) {
	var resp struct {
		Messages []types.RawMessage `json:"messages"`
	}
	err := c.retry.Execute(func() error {
		return c.doJSON(ctx, http.MethodGet, "/api/threads/"+string(id)+"/messages", nil, true, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return resp.Messages, nil
}

// Initiate dispatches a prompt to continue the thread. Not retried: the
// send id makes a manual resubmit safe, an automatic one is not wanted.
func (c *Client) Initiate(ctx context.Context, req *types.InitiateRequest) (*types.InitiateAck, error) {
	var ack types.InitiateAck
	if err := c.doJSON(ctx, http.MethodPost, "/api/agent/initiate", req, true, &ack); err != nil {
		return nil, fmt.Errorf("initiate: %w", err)
	}
	return &ack, nil
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return apiErr
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Error != "":
			apiErr.Message = payload.Error
		case payload.Message != "":
			apiErr.Message = payload.Message
		case payload.Detail != "":
			apiErr.Message = payload.Detail
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, requireAuth bool, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		token := ""
		if c.tokens != nil {
			token = c.tokens.Token()
		}
		if token == "" {
			return errors.New("no access token; sign in first")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
