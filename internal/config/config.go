// Package config loads crawler settings from the environment and an
// optional .env file. CLI flags take precedence over both.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the immutable configuration surface the crawler consumes
// at start.
type Config struct {
	// Run selection
	Type      string
	Out       string
	Reference string

	// Credential
	Token string

	// HTTP behaviour
	Timeout   time.Duration
	Retries   int
	Backoff   time.Duration
	RateDelay time.Duration
	Workers   int

	// Truncation (0 = unlimited)
	MaxBrands int
	MaxModels int

	// Full scan
	DailyLimit  int
	LimitMargin int
	FullScanDir string

	// Listing cache
	CacheDir string
	RedisURL string

	// Observability
	MetricsAddr string
	LogLevel    string
	LogPretty   bool
}

// Load reads the .env file (when present) and the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Type:        envStr("TYPE", ""),
		Out:         envStr("OUT", ""),
		Reference:   envStr("REFERENCE", ""),
		Token:       envStr("TOKEN", ""),
		Timeout:     time.Duration(envInt("TIMEOUT", 15)) * time.Second,
		Retries:     envInt("RETRIES", 3),
		Backoff:     time.Duration(envFloat("BACKOFF", 0.5) * float64(time.Second)),
		RateDelay:   time.Duration(envFloat("RATE_DELAY", 0) * float64(time.Second)),
		Workers:     envInt("WORKERS", 1),
		MaxBrands:   envInt("MAX_BRANDS", 0),
		MaxModels:   envInt("MAX_MODELS", 0),
		DailyLimit:  envInt("DAILY_LIMIT", 500),
		LimitMargin: envInt("LIMIT_MARGIN", 10),
		FullScanDir: envStr("FULL_SCAN_DIR", "full_scan"),
		CacheDir:    envStr("CACHE_DIR", ".state/cache"),
		RedisURL:    envStr("REDIS_URL", ""),
		MetricsAddr: envStr("METRICS_ADDR", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		LogPretty:   envBool("LOG_PRETTY", false),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
