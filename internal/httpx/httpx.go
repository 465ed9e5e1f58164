package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=httpxmock -destination=httpxmock/mock_http_client.go -source=httpx.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a small wrapper around http.Client with sane defaults.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
}

func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport}, UserAgent: "stockfolio/1.0"}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return c.HTTP.Do(req)
}

// DecodeJSON decodes the body of res into dst, keeping at most limit bytes.
func DecodeJSON(res *http.Response, limit int64, dst any) error {
	if limit <= 0 {
		limit = 4 << 20
	}
	dec := json.NewDecoder(io.LimitReader(res.Body, limit))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// SnippetLimit bounds the upstream text carried into error messages.
const SnippetLimit = 512

// Snippet reads up to SnippetLimit bytes of the body for error messages.
func Snippet(res *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(res.Body, SnippetLimit))
	return strings.TrimSpace(string(b))
}

// Clip shortens s to SnippetLimit bytes.
func Clip(s string) string {
	if len(s) <= SnippetLimit {
		return s
	}
	return strings.ToValidUTF8(s[:SnippetLimit], "")
}
