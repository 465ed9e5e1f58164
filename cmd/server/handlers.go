package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockfolio/internal/apistate"
	"stockfolio/internal/config"
	"stockfolio/internal/metrics"
	"stockfolio/internal/portfolio"
	"stockfolio/internal/provider"
	"stockfolio/internal/resolver"
	"stockfolio/internal/symbol"
)

const (
	maxSymbols    = 100
	maxOutputSize = 5000
)

type Handler struct {
	resolver   *resolver.Resolver
	portfolios portfolio.Store
	metrics    *metrics.Metrics
	log        *zap.Logger
	timeout    time.Duration
}

func NewHandler(cfg config.Config, res *resolver.Resolver, store portfolio.Store, m *metrics.Metrics, log *zap.Logger) *Handler {
	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{resolver: res, portfolios: store, metrics: m, log: log.Named("http"), timeout: timeout}
}

// Routes returns the API. /metrics is served outside the JSON middlewares.
func (h *Handler) Routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	api.HandleFunc("GET /api/quote", h.getQuote)
	api.HandleFunc("GET /api/quotes", h.getQuotes)
	api.HandleFunc("GET /api/series", h.getSeries)
	api.HandleFunc("GET /api/state", h.getState)
	api.HandleFunc("GET /api/portfolio/{key}", h.getPortfolio)
	api.HandleFunc("PUT /api/portfolio/{key}", h.putPortfolio)
	api.HandleFunc("GET /api/portfolio/{key}/summary", h.getSummary)

	root := http.NewServeMux()
	if h.metrics != nil {
		root.Handle("GET /metrics", h.metrics.Handler())
	}
	root.Handle("/", withJSONHeaders(withGzip(recoverPanic(h.log, limitBody(api)))))
	return root
}

type quoteResponse struct {
	Symbol string `json:"symbol"`
	provider.Quote
}

type quotesResponse struct {
	Quotes []quoteResponse `json:"quotes"`
}

type seriesResponse struct {
	Symbol   string            `json:"symbol"`
	Interval provider.Interval `json:"interval"`
	Points   provider.Series   `json:"points"`
}

type stateResponse struct {
	apistate.Snapshot
	Recent bool `json:"recent"`
}

type holdingsBody struct {
	Holdings []portfolio.Holding `json:"holdings"`
}

func (h *Handler) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *Handler) getQuote(w http.ResponseWriter, r *http.Request) {
	sym := symbol.Normalize(r.URL.Query().Get("symbol"))
	if sym == "" {
		writeError(w, http.StatusBadRequest, "missing symbol query param")
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	writeJSON(w, http.StatusOK, quoteResponse{Symbol: sym, Quote: h.resolver.FetchQuote(ctx, sym)})
}

// getQuotes resolves each symbol in turn; provider chains are never run in
// parallel.
func (h *Handler) getQuotes(w http.ResponseWriter, r *http.Request) {
	symbols := splitCSV(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "missing symbols query param")
		return
	}
	if len(symbols) > maxSymbols {
		writeError(w, http.StatusBadRequest, "too many symbols (max "+strconv.Itoa(maxSymbols)+")")
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	resp := quotesResponse{Quotes: make([]quoteResponse, 0, len(symbols))}
	for _, s := range symbols {
		sym := symbol.Normalize(s)
		resp.Quotes = append(resp.Quotes, quoteResponse{Symbol: sym, Quote: h.resolver.FetchQuote(ctx, sym)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sym := symbol.Normalize(q.Get("symbol"))
	if sym == "" {
		writeError(w, http.StatusBadRequest, "missing symbol query param")
		return
	}
	n := 30
	if v := q.Get("outputsize"); v != "" {
		x, err := strconv.Atoi(v)
		if err != nil || x <= 0 || x > maxOutputSize {
			writeError(w, http.StatusBadRequest, "outputsize must be between 1 and "+strconv.Itoa(maxOutputSize))
			return
		}
		n = x
	}
	interval := provider.ParseInterval(q.Get("interval"))

	ctx, cancel := h.context(r)
	defer cancel()
	writeJSON(w, http.StatusOK, seriesResponse{Symbol: sym, Interval: interval, Points: h.resolver.FetchSeries(ctx, sym, interval, n)})
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	state := h.resolver.State()
	writeJSON(w, http.StatusOK, stateResponse{Snapshot: state.Snapshot(), Recent: state.Recent(apistate.DefaultRecentWindow)})
}

func (h *Handler) getPortfolio(w http.ResponseWriter, r *http.Request) {
	holdings, ok := h.loadPortfolio(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, holdingsBody{Holdings: holdings})
}

func (h *Handler) putPortfolio(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var body holdingsBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for _, hd := range body.Holdings {
		if hd.Shares.IsNegative() {
			writeError(w, http.StatusBadRequest, "shares cannot be negative")
			return
		}
	}
	ctx, cancel := h.context(r)
	defer cancel()
	if err := h.portfolios.Save(ctx, key, body.Holdings); err != nil {
		h.storeError(w, key, err)
		return
	}
	writeJSON(w, http.StatusOK, holdingsBody{Holdings: portfolio.Normalize(body.Holdings)})
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	holdings, ok := h.loadPortfolio(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	writeJSON(w, http.StatusOK, portfolio.Valuate(ctx, h.resolver, holdings))
}

func (h *Handler) loadPortfolio(w http.ResponseWriter, r *http.Request) ([]portfolio.Holding, bool) {
	key := r.PathValue("key")
	ctx, cancel := h.context(r)
	defer cancel()
	holdings, err := h.portfolios.Load(ctx, key)
	if err != nil {
		h.storeError(w, key, err)
		return nil, false
	}
	return holdings, true
}

func (h *Handler) storeError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.Is(err, portfolio.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, portfolio.ErrNotFound):
		writeError(w, http.StatusNotFound, "portfolio not found")
	default:
		h.log.Error("portfolio store", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusBadGateway, "portfolio store unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
