package fipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fipe-crawler/pkg/cache"
	"fipe-crawler/pkg/ratelimit"
)

// DefaultBaseURL is the public FIPE catalog API (Parallelum v2).
const DefaultBaseURL = "https://fipe.parallelum.com.br/api/v2"

// tokenHeader carries the opaque subscription credential.
const tokenHeader = "X-Subscription-Token"

// Prometheus metrics for catalog requests.
var (
	fipeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fipe_requests_total",
		Help: "Total catalog requests by endpoint and status",
	}, []string{"endpoint", "status"})

	fipeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fipe_request_duration_seconds",
		Help:    "Catalog request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	fipeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fipe_errors_total",
		Help: "Total catalog errors by class",
	}, []string{"class"})
)

// Client is the typed FIPE catalog client. Every operation issues one
// logical GET, gated by the rate limiter and wrapped in bounded retry.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	retry      RetryConfig
	limiter    *ratelimit.Limiter
	budget     *ratelimit.Budget
	cache      cache.Store
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the catalog API. Defaults to DefaultBaseURL.
	BaseURL string

	// Token is the opaque subscription credential, sent as the
	// X-Subscription-Token header when non-empty.
	Token string

	// Timeout per HTTP request.
	Timeout time.Duration

	// Retry controls bounded retry with exponential backoff.
	Retry RetryConfig

	// Limiter gates request starts (spacing + concurrency cap).
	// Nil disables gating; tests use that.
	Limiter *ratelimit.Limiter

	// Budget, when set, charges every physical request against a daily
	// call budget. Budget exhaustion surfaces as a non-retryable failure.
	Budget *ratelimit.Budget

	// Cache, when set together with a pinned reference, stores listing
	// responses (brands, models, years). Price lookups are never cached.
	Cache cache.Store

	// HTTPClient overrides the transport (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 15 * time.Second,
		Retry:   DefaultRetryConfig(),
	}
}

// New creates a new catalog client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.BackoffBase <= 0 {
		cfg.Retry.BackoffBase = DefaultRetryConfig().BackoffBase
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		retry:      cfg.Retry,
		limiter:    cfg.Limiter,
		budget:     cfg.Budget,
		cache:      cfg.Cache,
		logger:     log.With().Str("component", "fipe-client").Logger(),
	}
}

// ListReferences lists the published pricing references, most recent first
// as ordered by the API.
func (c *Client) ListReferences(ctx context.Context) ([]Reference, error) {
	data, err := c.fetch(ctx, "references", c.baseURL+"/references", true)
	if err != nil {
		return nil, err
	}
	refs := []Reference{}
	if err := c.decode("references", data, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// ResolveReference returns the reference matching code, or the most
// recent one when code is empty or "latest".
func (c *Client) ResolveReference(ctx context.Context, code string) (Reference, error) {
	refs, err := c.ListReferences(ctx)
	if err != nil {
		return Reference{}, err
	}
	if len(refs) == 0 {
		return Reference{}, fmt.Errorf("no references returned (check token)")
	}

	if code != "" && code != "latest" {
		for _, r := range refs {
			if string(r.Code) == code {
				return r, nil
			}
		}
		return Reference{}, fmt.Errorf("reference %q not found", code)
	}

	latest, _ := LatestReference(refs)
	return latest, nil
}

// ListBrands lists the brands of a vehicle type, in API order.
func (c *Client) ListBrands(ctx context.Context, vt VehicleType, ref string) ([]Brand, error) {
	u := c.listingURL(ref, string(vt), "brands")
	key := cache.Key{Reference: ref, VehicleType: string(vt), Name: "brands"}
	brands := []Brand{}
	if err := c.listing(ctx, "brands", u, ref, key, &brands); err != nil {
		return nil, err
	}
	return brands, nil
}

// ListModels lists the models of a brand, in API order.
func (c *Client) ListModels(ctx context.Context, vt VehicleType, brandCode Code, ref string) ([]Model, error) {
	u := c.listingURL(ref, string(vt), "brands", string(brandCode), "models")
	key := cache.Key{
		Reference:   ref,
		VehicleType: string(vt),
		Name:        fmt.Sprintf("models_%s", brandCode),
	}
	models := []Model{}
	if err := c.listing(ctx, "models", u, ref, key, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// ListYears lists the year options of a model, in API order.
func (c *Client) ListYears(ctx context.Context, vt VehicleType, brandCode, modelCode Code, ref string) ([]YearOption, error) {
	u := c.listingURL(ref, string(vt), "brands", string(brandCode), "models", string(modelCode), "years")
	key := cache.Key{
		Reference:   ref,
		VehicleType: string(vt),
		Name:        fmt.Sprintf("years_%s_%s", brandCode, modelCode),
	}
	years := []YearOption{}
	if err := c.listing(ctx, "years", u, ref, key, &years); err != nil {
		return nil, err
	}
	return years, nil
}

// GetPrice fetches the price snapshot for one (brand, model, year) triple.
func (c *Client) GetPrice(ctx context.Context, vt VehicleType, brandCode, modelCode, yearCode Code, ref string) (*PriceSnapshot, error) {
	u := c.listingURL(ref, string(vt), "brands", string(brandCode), "models", string(modelCode), "years", string(yearCode))
	data, err := c.fetch(ctx, "price", u, false)
	if err != nil {
		return nil, err
	}
	var snapshot PriceSnapshot
	if err := c.decode("price", data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// listingURL joins path elements onto the base URL and appends the
// reference query parameter when one is pinned.
func (c *Client) listingURL(ref string, parts ...string) string {
	u := c.baseURL
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	if ref != "" {
		u += "?reference=" + url.QueryEscape(ref)
	}
	return u
}

// listing fetches a list endpoint through the cache. An absent node
// (404) decodes to an empty list: absence of data under a node is valid.
func (c *Client) listing(ctx context.Context, endpoint, u, ref string, key cache.Key, out any) error {
	if c.cache != nil && ref != "" {
		data, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			if jsonErr := json.Unmarshal(data, out); jsonErr == nil {
				c.logger.Debug().
					Str("endpoint", endpoint).
					Str("reference", ref).
					Msg("Listing served from cache")
				return nil
			}
			c.logger.Warn().
				Str("endpoint", endpoint).
				Str("cache_key", key.String()).
				Msg("Corrupt cache entry, refetching")
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	data, err := c.fetch(ctx, endpoint, u, true)
	if err != nil {
		return err
	}
	if data == nil {
		// 404 on a list endpoint: empty collection, nothing to cache.
		return nil
	}
	if err := c.decode(endpoint, data, out); err != nil {
		return err
	}

	if c.cache != nil && ref != "" {
		if err := c.cache.Set(ctx, key, data); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache set error")
		}
	}
	return nil
}

// decode unmarshals a response body; failures are fatal for the node.
func (c *Client) decode(endpoint string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		fipeErrorsTotal.WithLabelValues(string(ClassDecode)).Inc()
		return &APIError{
			Class:    ClassDecode,
			Endpoint: endpoint,
			Message:  "malformed response body",
			Err:      err,
		}
	}
	return nil
}

// fetch performs one logical GET with retry. isList marks endpoints
// where a 404 means "empty collection" (returned as nil data) rather
// than a missing-node failure.
func (c *Client) fetch(ctx context.Context, endpoint, u string, isList bool) ([]byte, error) {
	var body []byte
	err := retryWithBackoff(ctx, c.retry, func() error {
		b, attemptErr := c.attempt(ctx, endpoint, u, isList)
		if attemptErr != nil {
			return attemptErr
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// attempt performs exactly one gated HTTP request.
func (c *Client) attempt(ctx context.Context, endpoint, u string, isList bool) ([]byte, error) {
	if c.budget != nil {
		if err := c.budget.TryConsume(); err != nil {
			return nil, err
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer c.limiter.Release()
	}

	start := time.Now()
	defer func() {
		fipeRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := ClassNetwork
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
			class = ClassTimeout
		}
		fipeErrorsTotal.WithLabelValues(string(class)).Inc()
		fipeRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Catalog request failed")
		return nil, &APIError{Class: class, Endpoint: endpoint, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	fipeRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotFound && isList {
		c.logger.Debug().Str("endpoint", endpoint).Msg("Empty node (404 on listing)")
		return nil, nil
	}

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		fipeErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Catalog request error")
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Endpoint:   endpoint,
			Message:    resp.Status,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fipeErrorsTotal.WithLabelValues(string(ClassNetwork)).Inc()
		return nil, &APIError{Class: ClassNetwork, Endpoint: endpoint, Message: "read body", Err: err}
	}
	return data, nil
}
