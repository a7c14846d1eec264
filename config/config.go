package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Upstream market-data provider
	ProviderAPIKey  string
	ProviderBaseURL string
	ProviderWSURL   string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string

	// Watchlist
	Symbols   string // comma-separated, e.g. "AAPL,MSFT,NVDA"
	Benchmark string // relative-strength benchmark, e.g. "SPY"

	// Engine cadence and sync pacing
	CalcInterval     time.Duration
	SyncInterval     time.Duration
	RateLimit        int // provider calls per window
	RateWindow       time.Duration
	RateSafetyMargin float64 // fraction of the quota we allow ourselves
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ProviderAPIKey:  mustEnv("PROVIDER_API_KEY"),
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://api.marketdata.test/v2"),
		ProviderWSURL:   getEnv("PROVIDER_WS_URL", "wss://stream.marketdata.test/v2"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/watch.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		Symbols:   getEnv("WATCH_SYMBOLS", "AAPL,MSFT,NVDA,TSLA"),
		Benchmark: getEnv("BENCHMARK_SYMBOL", "SPY"),

		CalcInterval:     getDuration("CALC_INTERVAL", 500*time.Millisecond),
		SyncInterval:     getDuration("SYNC_INTERVAL", 15*time.Second),
		RateLimit:        getInt("RATE_LIMIT", 200),
		RateWindow:       getDuration("RATE_WINDOW", time.Minute),
		RateSafetyMargin: getFloat("RATE_SAFETY_MARGIN", 0.8),
	}
}

// ParseSymbols splits the watchlist into a deduplicated symbol slice.
// The benchmark is always included so its window state is available.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	seen := make(map[string]bool, len(parts)+1)
	out := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	if c.Benchmark != "" && !seen[c.Benchmark] {
		out = append(out, strings.ToUpper(c.Benchmark))
	}
	return out
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
