// Package twelvedata adapts the Twelve Data API, the generic fallback for
// every market. Toronto listings are queried with exchange=TSX.
package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"stockfolio/internal/httpx"
	"stockfolio/internal/provider"
	"stockfolio/internal/symbol"
)

const (
	Name    = "twelvedata"
	baseURL = "https://api.twelvedata.com"

	maxOutputSize = 5000
)

// Client is a client for the Twelve Data API.
type Client struct {
	baseURL    string
	httpClient httpx.HTTPClient
	apiKey     string
}

// Option is a configuration option for the Twelve Data client.
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

// New creates a Twelve Data client. An empty key yields a disabled client.
func New(apiKey string, options ...Option) *Client {
	c := &Client{baseURL: baseURL, httpClient: http.DefaultClient, apiKey: apiKey}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string  { return Name }
func (c *Client) Enabled() bool { return c.apiKey != "" }

// status is embedded in every payload.
//
//	{"code":429,"message":"You have run out of API credits for the current minute.","status":"error"}
type status struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type quoteResponse struct {
	status
	Close         string `json:"close"`
	PreviousClose string `json:"previous_close"`
	PercentChange string `json:"percent_change"`
}

type timeSeriesResponse struct {
	status
	Values []struct {
		Datetime string `json:"datetime"`
		Close    string `json:"close"`
	} `json:"values"`
}

// FetchQuote retrieves the latest quote from /quote.
func (c *Client) FetchQuote(ctx context.Context, sym string) (provider.Quote, error) {
	var body quoteResponse
	if err := c.get(ctx, "/quote", symbolQuery(sym), &body, &body.status); err != nil {
		return provider.Quote{}, err
	}
	if body.Close == "" {
		return provider.Quote{}, provider.Errorf(Name, provider.KindMalformed, "quote response without close")
	}
	price, err := decimal.NewFromString(body.Close)
	if err != nil {
		return provider.Quote{}, provider.Wrap(Name, provider.KindMalformed, "parsing close", err)
	}
	q := provider.Quote{Price: price.InexactFloat64()}
	if body.PreviousClose != "" {
		prev, err := decimal.NewFromString(body.PreviousClose)
		if err != nil {
			return provider.Quote{}, provider.Wrap(Name, provider.KindMalformed, "parsing previous_close", err)
		}
		q.PreviousClose = prev.InexactFloat64()
	}
	if cp, err := decimal.NewFromString(body.PercentChange); err == nil {
		v := cp.InexactFloat64()
		q.ChangePercent = &v
	} else {
		q.ChangePercent = provider.ChangePercent(q.Price, q.PreviousClose)
	}
	return q, nil
}

// FetchSeries retrieves closes from /time_series. Twelve Data returns the
// newest value first.
func (c *Client) FetchSeries(ctx context.Context, sym string, interval provider.Interval, outputCount int) (provider.Series, error) {
	if outputCount <= 0 {
		outputCount = 30
	}
	query := symbolQuery(sym)
	query.Set("interval", string(interval))
	query.Set("outputsize", strconv.Itoa(min(outputCount, maxOutputSize)))

	var body timeSeriesResponse
	if err := c.get(ctx, "/time_series", query, &body, &body.status); err != nil {
		return nil, err
	}
	if body.Values == nil {
		return nil, provider.Errorf(Name, provider.KindMalformed, "time_series response without values")
	}

	series := make(provider.Series, 0, len(body.Values))
	for i := len(body.Values) - 1; i >= 0; i-- {
		v := body.Values[i]
		closing, err := decimal.NewFromString(v.Close)
		if err != nil {
			continue
		}
		date := v.Datetime
		if len(date) > len(provider.DateLayout) {
			date = date[:len(provider.DateLayout)]
		}
		series = append(series, provider.SeriesPoint{Date: date, Close: closing.InexactFloat64()})
	}
	return provider.CanonicalSeries(series, outputCount), nil
}

func symbolQuery(sym string) url.Values {
	query := url.Values{}
	query.Set("symbol", symbol.Base(sym))
	if symbol.IsTSX(sym) {
		query.Set("exchange", "TSX")
	}
	return query
}

// get decodes the payload into dst and translates status:"error" payloads,
// which Twelve Data sends with HTTP 200.
func (c *Client) get(ctx context.Context, path string, query url.Values, dst any, st *status) error {
	query.Set("apikey", c.apiKey)
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
		var failed status
		if err := json.Unmarshal([]byte(snippet), &failed); err != nil {
			return provider.StatusError(Name, res.StatusCode, snippet)
		}
		if failed.Status == "error" {
			return provider.Errorf(Name, kindOf(failed.Code, failed.Message), "%s", httpx.Clip(failed.Message))
		}
		return provider.StatusError(Name, res.StatusCode, httpx.Clip(failed.Message))
	}

	if err := httpx.DecodeJSON(res, 0, dst); err != nil {
		return provider.Wrap(Name, provider.KindMalformed, "decoding response", err)
	}
	if st.Status == "error" {
		return provider.Errorf(Name, kindOf(st.Code, st.Message), "%s", httpx.Clip(st.Message))
	}
	return nil
}

func kindOf(code int, msg string) provider.Kind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return provider.KindAuth
	case http.StatusTooManyRequests:
		return provider.KindRateLimit
	case http.StatusBadRequest, http.StatusNotFound:
		if provider.LooksLikeAuth(msg) {
			return provider.KindAuth
		}
		return provider.KindNotFound
	}
	if provider.LooksLikeAuth(msg) {
		return provider.KindAuth
	}
	return provider.KindUpstream
}
