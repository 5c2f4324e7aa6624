// Package testutil provides testing utilities for the FIPE crawler.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock catalog endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockCatalog is a configurable mock catalog API server for testing.
type MockCatalog struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	requestCount int
	pathCounts   map[string]int
	startTimes   []time.Time
	lastHeader   http.Header
}

// NewMockCatalog creates a new mock catalog server. Unconfigured paths
// answer 404, which the client treats as an empty node on listings.
func NewMockCatalog() *MockCatalog {
	mock := &MockCatalog{
		handlers:   make(map[string]http.HandlerFunc),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.startTimes = append(mock.startTimes, time.Now())
		mock.lastHeader = r.Header.Clone()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "not found"}`))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCatalog) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCatalog) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCatalog) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockCatalog) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetJSON configures a 200 JSON response for a path.
func (m *MockCatalog) SetJSON(path, body string) {
	m.SetResponse(path, MockResponse{StatusCode: http.StatusOK, Body: body})
}

// FailThenSucceed answers failStatus for the first failures requests to
// path, then the given 200 body.
func (m *MockCatalog) FailThenSucceed(path string, failures, failStatus int, body string) {
	var mu sync.Mutex
	count := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		n := count
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if n <= failures {
			w.WriteHeader(failStatus)
			w.Write([]byte(`{"error": "try again"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockCatalog) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests made to one path.
func (m *MockCatalog) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// StartTimes returns a copy of the observed request start timestamps,
// in arrival order.
func (m *MockCatalog) StartTimes() []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]time.Time, len(m.startTimes))
	copy(out, m.startTimes)
	return out
}

// LastHeader returns the headers of the most recent request.
func (m *MockCatalog) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// Catalog path helpers, mirroring the API layout.

// ReferencesPath returns the references listing path.
func ReferencesPath() string {
	return "/references"
}

// BrandsPath returns the brand listing path for a vehicle type.
func BrandsPath(vt string) string {
	return fmt.Sprintf("/%s/brands", vt)
}

// ModelsPath returns the model listing path for a brand.
func ModelsPath(vt, brand string) string {
	return fmt.Sprintf("/%s/brands/%s/models", vt, brand)
}

// YearsPath returns the year listing path for a model.
func YearsPath(vt, brand, model string) string {
	return fmt.Sprintf("/%s/brands/%s/models/%s/years", vt, brand, model)
}

// PricePath returns the price snapshot path for a year option.
func PricePath(vt, brand, model, year string) string {
	return fmt.Sprintf("/%s/brands/%s/models/%s/years/%s", vt, brand, model, year)
}
