package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxErrorBody = 64 << 10

// Client holds the upstream REST configuration shared by all visitors.
type Client struct {
	baseURL   *url.URL
	transport http.RoundTripper
	timeout   time.Duration
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithTransport wraps the traced transport, e.g. with metrics.
func WithTransport(wrap func(http.RoundTripper) http.RoundTripper) ClientOption {
	return func(c *Client) { c.transport = wrap(c.transport) }
}

// NewClient parses baseURL and wraps the default transport with tracing.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:   parsed,
		transport: otelhttp.NewTransport(http.DefaultTransport),
		timeout:   timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the upstream origin.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Conn binds the client to one visitor's cookie jar.
func (c *Client) Conn(jar http.CookieJar) *Conn {
	return &Conn{
		base: c.baseURL,
		http: &http.Client{
			Transport: c.transport,
			Timeout:   c.timeout,
			Jar:       jar,
		},
	}
}

// Conn performs upstream calls with the credentials of one visitor.
type Conn struct {
	base *url.URL
	http *http.Client
}

func (c *Conn) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Conn) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return decodeStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Code: resp.StatusCode, Method: method, Path: path, Err: err}
	}
	return nil
}

func (c *Conn) raw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, decodeStatusError(resp)
	}
	return io.ReadAll(resp.Body)
}

func decodeStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &envelope)
	return &StatusError{Code: resp.StatusCode, Message: envelope.Message}
}
