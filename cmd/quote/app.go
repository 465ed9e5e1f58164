package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"stockfolio/internal/apistate"
	"stockfolio/internal/cache"
	"stockfolio/internal/config"
	"stockfolio/internal/logger"
	"stockfolio/internal/provider"
	"stockfolio/internal/resolver"
)

// app is what every command needs.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	resolver *resolver.Resolver
	state    *apistate.State
}

func newApp() (*app, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	// keep stdout clean for the command output
	level := cfg.Log.Level
	if level == "info" {
		level = "warn"
	}
	log, err := logger.New(level, true)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	durable, err := cache.OpenDurable(nil, cfg.Cache, log)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	state := apistate.New()
	p := resolver.ConfigParams(cfg)
	p.Providers = resolver.NewProviders(cfg, log)
	p.Quotes = cache.New[provider.Quote](durable, cache.StoreOptions(cfg.Cache, log)...)
	p.Series = cache.New[provider.Series](durable, cache.StoreOptions(cfg.Cache, log)...)
	p.State = state
	p.Logger = log.Named("resolver")
	res := resolver.New(p)
	return &app{cfg: cfg, log: log, resolver: res, state: state}, nil
}

// banner prints the advisory notices a UI would show.
func (a *app) banner(w io.Writer) {
	snap := a.state.Snapshot()
	if snap.NoProviders {
		fmt.Fprintln(w, "note: no provider API keys configured, values may be cached or illustrative")
	}
	if snap.LastError != "" {
		fmt.Fprintf(w, "warning: providers failed: %s\n", snap.LastError)
	}
	if snap.InvalidKey {
		fmt.Fprintln(w, "warning: an API key was rejected, check your configuration")
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatPercent(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%+.2f%%", *p)
}
