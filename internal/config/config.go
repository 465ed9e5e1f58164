package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Provider names accepted in routes.
const (
	Finnhub      = "finnhub"
	AlphaVantage = "alphavantage"
	TwelveData   = "twelvedata"
)

var knownProviders = map[string]struct{}{Finnhub: {}, AlphaVantage: {}, TwelveData: {}}

var Module = fx.Module("config",
	fx.Provide(func() (Config, error) {
		return Load(os.Getenv("CONFIG_FILE"))
	}),
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Log struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// Provider configures one upstream quote source. An empty APIKey disables it.
type Provider struct {
	APIKey                string `json:"api_key"`
	BaseURL               string `json:"base_url"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec"`
	Burst                 int    `json:"burst"`
}

type Cache struct {
	QuoteTTLSec        int    `json:"quote_ttl_sec"`
	SeriesTTLSec       int    `json:"series_ttl_sec"`
	RehydrateMillis    int    `json:"rehydrate_ms"`
	FallbackTTLSec     int    `json:"fallback_ttl_sec"`
	MemoryRetentionSec int    `json:"memory_retention_sec"`
	Dir                string `json:"dir"`
	QuotaBytes         int64  `json:"quota_bytes"`
	RedisURL           string `json:"redis_url"`
	RedisPrefix        string `json:"redis_prefix"`
}

// Routes lists provider names in attempt order per market.
type Routes struct {
	Default []string `json:"default"`
	TSX     []string `json:"tsx"`
}

type Config struct {
	Server       Server   `json:"server"`
	Log          Log      `json:"log"`
	Cache        Cache    `json:"cache"`
	Routes       Routes   `json:"routes"`
	Finnhub      Provider `json:"finnhub"`
	AlphaVantage Provider `json:"alphavantage"`
	TwelveData   Provider `json:"twelvedata"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10},
		Log:    Log{Level: "info"},
		Cache: Cache{
			QuoteTTLSec:     6 * 60 * 60,
			SeriesTTLSec:    12 * 60 * 60,
			RehydrateMillis: 1000,
			FallbackTTLSec:  30,
			Dir:             ".cache/quotes",
			QuotaBytes:      5 << 20,
			RedisPrefix:     "stockfolio:",
		},
		Routes: Routes{
			Default: []string{Finnhub, TwelveData},
			TSX:     []string{AlphaVantage, TwelveData},
		},
		Finnhub: Provider{
			BaseURL:              "https://finnhub.io/api/v1",
			MaxRequestsPerMinute: 60,
			Burst:                5,
		},
		AlphaVantage: Provider{
			BaseURL:              "https://www.alphavantage.co",
			MaxRequestsPerMinute: 5,
			Burst:                1,
		},
		TwelveData: Provider{
			BaseURL:              "https://api.twelvedata.com",
			MaxRequestsPerMinute: 8,
			Burst:                1,
		},
	}
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. A .env file in the working directory is loaded first
// and environment variables override select fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	// .env is optional
	_ = godotenv.Load()
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Cache.QuoteTTLSec <= 0 {
		return fmt.Errorf("cache.quote_ttl_sec must be positive")
	}
	if c.Cache.SeriesTTLSec < c.Cache.QuoteTTLSec {
		return fmt.Errorf("cache.series_ttl_sec (%d) must not be shorter than cache.quote_ttl_sec (%d)", c.Cache.SeriesTTLSec, c.Cache.QuoteTTLSec)
	}
	for _, route := range [][]string{c.Routes.Default, c.Routes.TSX} {
		for _, name := range route {
			if _, ok := knownProviders[name]; !ok {
				return fmt.Errorf("routes: unknown provider %q", name)
			}
		}
	}
	// the primary is never attempted for Toronto listings
	if slices.Contains(c.Routes.TSX, Finnhub) {
		return fmt.Errorf("routes.tsx: %q does not serve Toronto listings", Finnhub)
	}
	return nil
}

// HasCredentials reports whether at least one provider has an API key.
func (c Config) HasCredentials() bool {
	return c.Finnhub.APIKey != "" || c.AlphaVantage.APIKey != "" || c.TwelveData.APIKey != ""
}

func applyEnv(cfg *Config) {
	envString("PORT", &cfg.Server.Port)
	envInt("REQUEST_TIMEOUT_SEC", 1, &cfg.Server.RequestTimeoutSec)
	envString("LOG_LEVEL", &cfg.Log.Level)
	envBool("LOG_DEVELOPMENT", &cfg.Log.Development)

	envInt("QUOTE_TTL_SEC", 1, &cfg.Cache.QuoteTTLSec)
	envInt("SERIES_TTL_SEC", 1, &cfg.Cache.SeriesTTLSec)
	envInt("CACHE_REHYDRATE_MS", 0, &cfg.Cache.RehydrateMillis)
	envInt("FALLBACK_TTL_SEC", 0, &cfg.Cache.FallbackTTLSec)
	envInt("CACHE_MEMORY_RETENTION_SEC", 0, &cfg.Cache.MemoryRetentionSec)
	envString("CACHE_DIR", &cfg.Cache.Dir)
	envInt64("CACHE_QUOTA_BYTES", 0, &cfg.Cache.QuotaBytes)
	envString("REDIS_URL", &cfg.Cache.RedisURL)
	envString("REDIS_PREFIX", &cfg.Cache.RedisPrefix)

	if v := os.Getenv("ROUTE_DEFAULT"); v != "" {
		cfg.Routes.Default = splitCSV(v)
	}
	if v := os.Getenv("ROUTE_TSX"); v != "" {
		cfg.Routes.TSX = splitCSV(v)
	}

	applyProviderEnv("FINNHUB", &cfg.Finnhub)
	applyProviderEnv("ALPHAVANTAGE", &cfg.AlphaVantage)
	applyProviderEnv("TWELVEDATA", &cfg.TwelveData)
}

func applyProviderEnv(prefix string, p *Provider) {
	envString(prefix+"_API_KEY", &p.APIKey)
	envString(prefix+"_BASE_URL", &p.BaseURL)
	envInt(prefix+"_MAX_RPM", 0, &p.MaxRequestsPerMinute)
	envInt(prefix+"_MIN_INTERVAL_SEC", 0, &p.MinRequestIntervalSec)
	envInt(prefix+"_BURST", 1, &p.Burst)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt overrides dst when the variable parses to a value >= min.
func envInt(key string, min int, dst *int) {
	if v := os.Getenv(key); v != "" {
		x, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil && x >= min {
			*dst = x
		}
	}
}

func envInt64(key string, min int64, dst *int64) {
	if v := os.Getenv(key); v != "" {
		x, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err == nil && x >= min {
			*dst = x
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			*dst = true
		case "0", "false", "no", "n":
			*dst = false
		}
	}
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
