package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client is a thin HTTP client for a running bwprobe service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
// Invocations can run for minutes, so there is no client-wide timeout; bound
// calls through ctx.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// Ping checks the liveness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.do(ctx, http.MethodGet, "/ping", nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// Invoke triggers a measurement run and returns the report.
func (c *Client) Invoke(ctx context.Context, req InvocationRequest) (InvocationResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return InvocationResult{}, err
	}
	res, err := c.do(ctx, http.MethodPost, "/invocations", payload)
	if err != nil {
		return InvocationResult{}, err
	}
	defer res.Body.Close()

	out := InvocationResult{InvocationID: res.Header.Get(InvocationHeader)}
	if err := json.NewDecoder(res.Body).Decode(&out.Report); err != nil {
		return out, fmt.Errorf("decode report: %w", err)
	}
	return out, nil
}

// Status fetches the service status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	res, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return out, err
	}
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode status: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return nil, fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return nil, fmt.Errorf("request failed: %s", res.Status)
	}
	return res, nil
}
