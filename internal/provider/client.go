package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the SongForge generation API over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a Client for the given API base URL and key.
// An empty key produces a client that reports itself unconfigured.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an API key is available.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// GetStatus fetches the current state of a generation task.
func (c *Client) GetStatus(ctx context.Context, taskID string) (*Result, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/v1/tasks/%s", c.baseURL, url.PathEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransientError{Err: fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(string(body), 200))}
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decoding response: %w", err)}
	}
	if result.TaskID == "" {
		result.TaskID = taskID
	}

	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
