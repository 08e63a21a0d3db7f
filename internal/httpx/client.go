// ABOUTME: Shared HTTP client for every external-service REST call.
// ABOUTME: Per-call timeout, optional cookie and proxy injection, JSON helpers.

package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds connect+read for a call when the request does not
// override it.
const DefaultTimeout = 20 * time.Second

// Request describes one HTTP call.
type Request struct {
	Method      string
	URL         string
	Cookie      string
	Proxy       string // proxy URL, overrides the client default
	Headers     map[string]string
	ContentType string
	Body        []byte
	JSON        any // marshalled to the body when Body is nil
	Timeout     time.Duration
}

// Response is the decoded result of a call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Text returns the response body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client wraps http.Client with the host's proxy setting. Extensions never
// speak HTTP directly; every REST call goes through here.
type Client struct {
	proxy string
}

// New creates a client. proxy may be empty.
func New(proxy string) *Client {
	return &Client{proxy: proxy}
}

// Do performs one call. Timeouts are bounded; callers retry as needed.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	body := req.Body
	if body == nil && req.JSON != nil {
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = raw
		if req.ContentType == "" {
			req.ContentType = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.Cookie != "" {
		httpReq.Header.Set("Cookie", req.Cookie)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	proxy := req.Proxy
	if proxy == "" {
		proxy = c.proxy
	}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", proxy, err)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

// GetJSON fetches a URL and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("GET %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return resp.JSON(v)
}

// PostJSON posts a JSON body and decodes the JSON response into v. v may
// be nil when the response body is irrelevant.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body, v any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, JSON: body})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("POST %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	if v == nil {
		return nil
	}
	return resp.JSON(v)
}
