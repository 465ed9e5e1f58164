// Package alphavantage adapts the Alpha Vantage API. It serves Toronto
// listings, which Alpha Vantage spells with a ".TRT" suffix.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"stockfolio/internal/httpx"
	"stockfolio/internal/provider"
	"stockfolio/internal/symbol"
)

const (
	Name    = "alphavantage"
	baseURL = "https://www.alphavantage.co"

	// compactSize is how many points an outputsize=compact series carries.
	compactSize = 100
)

// Client is a client for the Alpha Vantage API.
type Client struct {
	baseURL    string
	httpClient httpx.HTTPClient
	apiKey     string
}

// Option is a configuration option for the Alpha Vantage client.
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

// New creates an Alpha Vantage client. An empty key yields a disabled client.
func New(apiKey string, options ...Option) *Client {
	c := &Client{baseURL: baseURL, httpClient: http.DefaultClient, apiKey: apiKey}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string  { return Name }
func (c *Client) Enabled() bool { return c.apiKey != "" }

// Ticker maps a canonical symbol to Alpha Vantage's exchange convention.
func Ticker(sym string) string {
	if symbol.IsTSX(sym) {
		return symbol.Base(sym) + ".TRT"
	}
	return symbol.Normalize(sym)
}

// globalQuote is the "Global Quote" object; every value is a string.
//
//	{"05. price": "24.5000", "08. previous close": "24.3000", "10. change percent": "0.8230%"}
type globalQuote struct {
	Price         string `json:"05. price"`
	PreviousClose string `json:"08. previous close"`
	ChangePercent string `json:"10. change percent"`
}

type bar struct {
	Close string `json:"4. close"`
}

// FetchQuote retrieves the latest quote using GLOBAL_QUOTE.
func (c *Client) FetchQuote(ctx context.Context, sym string) (provider.Quote, error) {
	query := url.Values{}
	query.Set("function", "GLOBAL_QUOTE")
	query.Set("symbol", Ticker(sym))

	body, err := c.get(ctx, query)
	if err != nil {
		return provider.Quote{}, err
	}
	raw, ok := body["Global Quote"]
	if !ok {
		return provider.Quote{}, provider.Errorf(Name, provider.KindMalformed, "response without Global Quote")
	}
	var gq globalQuote
	if err := json.Unmarshal(raw, &gq); err != nil {
		return provider.Quote{}, provider.Wrap(Name, provider.KindMalformed, "decoding Global Quote", err)
	}
	// unknown symbols yield an empty object
	if gq.Price == "" && gq.PreviousClose == "" {
		return provider.Quote{}, provider.Errorf(Name, provider.KindNotFound, "no quote for %s", sym)
	}

	price, err := decimal.NewFromString(gq.Price)
	if err != nil {
		return provider.Quote{}, provider.Wrap(Name, provider.KindMalformed, "parsing price", err)
	}
	prev, err := decimal.NewFromString(gq.PreviousClose)
	if err != nil {
		return provider.Quote{}, provider.Wrap(Name, provider.KindMalformed, "parsing previous close", err)
	}

	q := provider.Quote{Price: price.InexactFloat64(), PreviousClose: prev.InexactFloat64()}
	if cp, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(gq.ChangePercent), "%")); err == nil {
		v := cp.InexactFloat64()
		q.ChangePercent = &v
	} else {
		q.ChangePercent = provider.ChangePercent(q.Price, q.PreviousClose)
	}
	return q, nil
}

// FetchSeries retrieves closes using TIME_SERIES_DAILY, _WEEKLY or _MONTHLY.
func (c *Client) FetchSeries(ctx context.Context, sym string, interval provider.Interval, outputCount int) (provider.Series, error) {
	function, key := seriesFunction(interval)
	query := url.Values{}
	query.Set("function", function)
	query.Set("symbol", Ticker(sym))
	if function == "TIME_SERIES_DAILY" {
		size := "compact"
		if outputCount > compactSize {
			size = "full"
		}
		query.Set("outputsize", size)
	}

	body, err := c.get(ctx, query)
	if err != nil {
		return nil, err
	}
	raw, ok := body[key]
	if !ok {
		return nil, provider.Errorf(Name, provider.KindMalformed, "response without %q", key)
	}
	var bars map[string]bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, provider.Wrap(Name, provider.KindMalformed, "decoding "+key, err)
	}
	if len(bars) == 0 {
		return nil, provider.Errorf(Name, provider.KindNotFound, "empty series for %s", sym)
	}

	series := make(provider.Series, 0, len(bars))
	for date, b := range bars {
		v, err := decimal.NewFromString(b.Close)
		if err != nil {
			continue
		}
		series = append(series, provider.SeriesPoint{Date: date, Close: v.InexactFloat64()})
	}
	// the series object is keyed by date and carries no order
	return provider.CanonicalSeries(series, outputCount), nil
}

func seriesFunction(interval provider.Interval) (function, key string) {
	switch interval {
	case provider.Weekly:
		return "TIME_SERIES_WEEKLY", "Weekly Time Series"
	case provider.Monthly:
		return "TIME_SERIES_MONTHLY", "Monthly Time Series"
	default:
		return "TIME_SERIES_DAILY", "Time Series (Daily)"
	}
}

// get performs the query and returns the top level object. Alpha Vantage
// answers 200 for most failures and signals them with Note, Information or
// "Error Message" fields.
func (c *Client) get(ctx context.Context, query url.Values) (map[string]json.RawMessage, error) {
	query.Set("apikey", c.apiKey)
	u := fmt.Sprintf("%s/query?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, provider.Wrap(Name, provider.KindTransport, "creating request", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.Wrap(Name, provider.KindTransport, "performing request", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, provider.StatusError(Name, res.StatusCode, httpx.Snippet(res))
	}

	var body map[string]json.RawMessage
	if err := httpx.DecodeJSON(res, 0, &body); err != nil {
		return nil, provider.Wrap(Name, provider.KindMalformed, "decoding response", err)
	}

	if msg := text(body["Error Message"]); msg != "" {
		kind := provider.KindNotFound
		if provider.LooksLikeAuth(msg) {
			kind = provider.KindAuth
		}
		return nil, provider.Errorf(Name, kind, "%s", msg)
	}
	for _, field := range []string{"Note", "Information"} {
		if msg := text(body[field]); msg != "" {
			kind := provider.KindRateLimit
			if provider.LooksLikeAuth(msg) {
				kind = provider.KindAuth
			}
			return nil, provider.Errorf(Name, kind, "%s", msg)
		}
	}
	return body, nil
}

func text(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
