// Package metrics exposes resolver counters on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of a provider attempt and kinds of fallback.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"

	FallbackStale = "stale"
	FallbackMock  = "mock"
	FallbackZero  = "zero"
)

type Metrics struct {
	reg *prometheus.Registry

	ProviderAttempts *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	Fallbacks        *prometheus.CounterVec
}

// New builds the collectors and registers them together with the Go
// runtime collector.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ProviderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockfolio_provider_attempts_total",
			Help: "provider calls by provider and outcome (ok, empty or an error kind)",
		}, []string{"provider", "operation", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockfolio_cache_lookups_total",
			Help: "fresh cache lookups by operation and result",
		}, []string{"operation", "result"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockfolio_fallbacks_total",
			Help: "resolutions answered without a provider, by kind",
		}, []string{"operation", "kind"}),
	}
	m.reg.MustRegister(m.ProviderAttempts, m.CacheLookups, m.Fallbacks, collectors.NewGoCollector())
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Attempt(provider, operation, outcome string) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(provider, operation, outcome).Inc()
}

func (m *Metrics) Lookup(operation string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) Fallback(operation, kind string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(operation, kind).Inc()
}
