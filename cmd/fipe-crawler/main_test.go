package main

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fipe-crawler/pkg/cache"
	"fipe-crawler/pkg/fipe"
)

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	observabilityRouter().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if string(body) != "OK" {
		t.Errorf("Expected body OK, got %q", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	observabilityRouter().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("Expected Prometheus metrics output")
	}
}

func TestListingCacheSelection(t *testing.T) {
	if got := listingCache(&options{}); got != nil {
		t.Errorf("Expected no cache when both backends are disabled, got %T", got)
	}

	got := listingCache(&options{cacheDir: t.TempDir()})
	if _, ok := got.(*cache.FSStore); !ok {
		t.Errorf("Expected filesystem cache, got %T", got)
	}

	// Redis wins over the filesystem when both are configured.
	got = listingCache(&options{redisURL: "localhost:6379", cacheDir: t.TempDir()})
	if _, ok := got.(*cache.RedisStore); !ok {
		t.Errorf("Expected redis cache, got %T", got)
	}
}

func TestClientConfigAssembly(t *testing.T) {
	cfg := clientConfig(&options{
		token:     "secret",
		timeout:   20 * time.Second,
		retries:   2,
		backoff:   time.Second,
		rateDelay: 100 * time.Millisecond,
		workers:   3,
	})

	if cfg.BaseURL != fipe.DefaultBaseURL {
		t.Errorf("Expected default base URL, got %q", cfg.BaseURL)
	}
	if cfg.Token != "secret" {
		t.Errorf("Expected token carried through, got %q", cfg.Token)
	}
	if cfg.Retry.MaxRetries != 2 || cfg.Retry.BackoffBase != time.Second {
		t.Errorf("Unexpected retry config: %+v", cfg.Retry)
	}
	if cfg.Limiter == nil {
		t.Error("Expected a rate limiter")
	}
}
