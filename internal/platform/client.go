package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds every upstream request.
	DefaultTimeout = 12 * time.Second
	// DefaultUserAgent is the fixed client signature sent to every platform.
	DefaultUserAgent = "Mozilla/5.0 (Contest-Reminder/1.0)"

	maxBodySize = 4 << 20
)

// ClientConfig holds the HTTP settings shared by the adapters.
type ClientConfig struct {
	Timeout   time.Duration
	UserAgent string
	// Limiter throttles outgoing requests when set. Nil means unthrottled.
	Limiter *rate.Limiter
}

// Client is a small JSON-over-HTTP client. It never retries.
type Client struct {
	http      *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// NewClient creates a client with the given config, applying defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		limiter:   cfg.Limiter,
	}
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// PostJSON marshals body, POSTs it and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, data, out)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %v", ErrUpstream, err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUpstream, method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := data
		if len(preview) > 256 {
			preview = preview[:256]
		}
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrUpstream, method, url, resp.StatusCode, preview)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}

	return nil
}
