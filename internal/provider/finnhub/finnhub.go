// Package finnhub adapts the finnhub.io REST API. It is the primary source
// for non-Toronto instruments.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockfolio/internal/httpx"
	"stockfolio/internal/provider"
)

const (
	Name    = "finnhub"
	baseURL = "https://finnhub.io/api/v1"
)

// Client is a client for the Finnhub API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient httpx.HTTPClient
	// token is the API key, sent as the "token" query parameter.
	token string
	// now is the clock used to compute candle windows.
	now func() time.Time
}

// Option is a configuration option for the Finnhub client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(hc httpx.HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Finnhub client. An empty token yields a disabled client.
func New(token string, options ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		token:      token,
		now:        time.Now,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string  { return Name }
func (c *Client) Enabled() bool { return c.token != "" }

// quoteResponse is the /quote payload.
//
//	{"c":261.74,"d":-1.2,"dp":-0.4563,"h":263.31,"l":260.68,"o":261.07,"pc":262.94,"t":1727380800}
type quoteResponse struct {
	Current       *float64 `json:"c"`
	PreviousClose *float64 `json:"pc"`
	ChangePercent *float64 `json:"dp"`
}

// candleResponse is the /stock/candle payload.
//
//	{"c":[217.68,221.03],"s":"ok","t":[1569297600,1569384000]}
type candleResponse struct {
	Status string    `json:"s"`
	Close  []float64 `json:"c"`
	Time   []int64   `json:"t"`
}

// FetchQuote retrieves the latest quote for symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	var body quoteResponse
	if err := c.get(ctx, "/quote", query, &body); err != nil {
		return provider.Quote{}, err
	}
	if body.Current == nil || body.PreviousClose == nil {
		return provider.Quote{}, provider.Errorf(Name, provider.KindMalformed, "quote response without c/pc fields")
	}
	// unknown symbols come back as all zeros
	if *body.Current == 0 && *body.PreviousClose == 0 {
		return provider.Quote{}, provider.Errorf(Name, provider.KindNotFound, "no quote for %s", symbol)
	}

	q := provider.Quote{Price: *body.Current, PreviousClose: *body.PreviousClose, ChangePercent: body.ChangePercent}
	if q.ChangePercent == nil {
		q.ChangePercent = provider.ChangePercent(q.Price, q.PreviousClose)
	}
	return q, nil
}

// FetchSeries retrieves the last outputCount candles for symbol.
func (c *Client) FetchSeries(ctx context.Context, symbol string, interval provider.Interval, outputCount int) (provider.Series, error) {
	if outputCount <= 0 {
		outputCount = 30
	}
	resolution, lookback := window(interval, outputCount)
	to := c.now().UTC()
	from := to.Add(-lookback)

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("resolution", resolution)
	query.Set("from", fmt.Sprintf("%d", from.Unix()))
	query.Set("to", fmt.Sprintf("%d", to.Unix()))

	var body candleResponse
	if err := c.get(ctx, "/stock/candle", query, &body); err != nil {
		return nil, err
	}
	switch body.Status {
	case "ok":
	case "no_data":
		return nil, provider.Errorf(Name, provider.KindNotFound, "no candles for %s", symbol)
	default:
		return nil, provider.Errorf(Name, provider.KindMalformed, "unexpected candle status %q", body.Status)
	}
	if len(body.Close) == 0 || len(body.Close) != len(body.Time) {
		return nil, provider.Errorf(Name, provider.KindMalformed, "candle arrays mismatch: %d closes, %d timestamps", len(body.Close), len(body.Time))
	}

	series := make(provider.Series, 0, len(body.Close))
	for i, ts := range body.Time {
		series = append(series, provider.SeriesPoint{
			Date:  time.Unix(ts, 0).UTC().Format(provider.DateLayout),
			Close: body.Close[i],
		})
	}
	return provider.CanonicalSeries(series, outputCount), nil
}

// window returns the candle resolution and a lookback wide enough to cover n
// bars including weekends and holidays.
func window(interval provider.Interval, n int) (string, time.Duration) {
	day := 24 * time.Hour
	switch interval {
	case provider.Weekly:
		return "W", time.Duration(n*7+14) * day
	case provider.Monthly:
		return "M", time.Duration(n*31+62) * day
	default:
		return "D", time.Duration(n*7/5+10) * day
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	query.Set("token", c.token)
	u := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return provider.Wrap(Name, provider.KindTransport, "creating request", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Wrap(Name, provider.KindTransport, "performing request", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet := httpx.Snippet(res)
		msg := envelopeError([]byte(snippet))
		if msg == "" {
			msg = snippet
		}
		return provider.StatusError(Name, res.StatusCode, msg)
	}

	var raw json.RawMessage
	if err := httpx.DecodeJSON(res, 0, &raw); err != nil {
		return provider.Wrap(Name, provider.KindMalformed, "decoding response", err)
	}
	if msg := envelopeError(raw); msg != "" {
		kind := provider.KindUpstream
		switch lower := strings.ToLower(msg); {
		case provider.LooksLikeAuth(lower), strings.Contains(lower, "access"):
			kind = provider.KindAuth
		case strings.Contains(lower, "limit"):
			kind = provider.KindRateLimit
		}
		return provider.Errorf(Name, kind, "%s", msg)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return provider.Wrap(Name, provider.KindMalformed, "decoding response", err)
	}
	return nil
}

// envelopeError extracts the error text of
//
//	{"error":"Invalid API key"} or {"error":{"message":"..."}}
func envelopeError(b []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return ""
	}
	return errorText(envelope.Error)
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return httpx.Clip(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return httpx.Clip(obj.Message)
	}
	return httpx.Clip(string(raw))
}
