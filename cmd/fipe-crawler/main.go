// Command fipe-crawler exports the FIPE vehicle-price catalog to CSV.
//
// Usage:
//
//	fipe-crawler --type cars --out fipe_cars.csv
//	fipe-crawler full-scan
//	fipe-crawler list-references
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"fipe-crawler/internal/config"
	"fipe-crawler/pkg/cache"
	"fipe-crawler/pkg/export"
	"fipe-crawler/pkg/fipe"
	"fipe-crawler/pkg/fullscan"
	"fipe-crawler/pkg/logging"
	"fipe-crawler/pkg/ratelimit"
)

// options are the flag-backed settings, seeded from config.Load so the
// environment and .env provide defaults and flags take precedence.
type options struct {
	vehicleType string
	out         string
	reference   string
	token       string
	timeout     time.Duration
	retries     int
	backoff     time.Duration
	rateDelay   time.Duration
	workers     int
	maxBrands   int
	maxModels   int
	dailyLimit  int
	limitMargin int
	fullScanDir string
	cacheDir    string
	redisURL    string
	metricsAddr string
	logLevel    string
	logPretty   bool
}

func main() {
	cfg := config.Load()
	opts := &options{}

	root := &cobra.Command{
		Use:           "fipe-crawler",
		Short:         "Export the FIPE vehicle-price catalog to CSV",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(logging.Config{
				Level:  logging.LogLevel(opts.logLevel),
				Pretty: opts.logPretty,
				Output: os.Stderr,
			})
			if opts.metricsAddr != "" {
				startObservability(opts.metricsAddr)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.token, "token", cfg.Token, "subscription token for the catalog API")
	pf.StringVar(&opts.reference, "reference", cfg.Reference, "reference month code (e.g. 308), empty for latest")
	pf.DurationVar(&opts.timeout, "timeout", cfg.Timeout, "per-request timeout")
	pf.IntVar(&opts.retries, "retries", cfg.Retries, "retry attempts for transient failures")
	pf.DurationVar(&opts.backoff, "backoff", cfg.Backoff, "base backoff between retries (doubles per attempt)")
	pf.DurationVar(&opts.rateDelay, "rate-delay", cfg.RateDelay, "minimum delay between request starts")
	pf.IntVar(&opts.workers, "workers", cfg.Workers, "concurrent price fetches")
	pf.StringVar(&opts.cacheDir, "cache-dir", cfg.CacheDir, "listing cache directory (empty disables)")
	pf.StringVar(&opts.redisURL, "redis-url", cfg.RedisURL, "redis address for a shared listing cache (overrides cache-dir)")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", cfg.MetricsAddr, "listen address for /health and /metrics (empty disables)")
	pf.StringVar(&opts.logLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.BoolVar(&opts.logPretty, "log-pretty", cfg.LogPretty, "human-readable console logs")

	root.Flags().StringVar(&opts.vehicleType, "type", cfg.Type, "vehicle type: cars | motorcycles | trucks")
	root.Flags().StringVar(&opts.out, "out", cfg.Out, "output CSV path")
	root.Flags().IntVar(&opts.maxBrands, "max-brands", cfg.MaxBrands, "limit number of brands (0 = all)")
	root.Flags().IntVar(&opts.maxModels, "max-models", cfg.MaxModels, "limit number of models per brand (0 = all)")

	listRefs := &cobra.Command{
		Use:   "list-references",
		Short: "List reference codes and months, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListReferences(cmd.Context(), opts)
		},
	}

	fullScan := &cobra.Command{
		Use:   "full-scan",
		Short: "Scan cars, motorcycles and trucks under the daily budget, resumable across days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFullScan(cmd.Context(), opts)
		},
	}
	fullScan.Flags().StringVar(&opts.fullScanDir, "out-dir", cfg.FullScanDir, "directory for per-type CSV files")
	fullScan.Flags().IntVar(&opts.dailyLimit, "daily-limit", cfg.DailyLimit, "per-day request budget")
	fullScan.Flags().IntVar(&opts.limitMargin, "limit-margin", cfg.LimitMargin, "requests kept unspent below the daily limit")

	root.AddCommand(listRefs, fullScan)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Run failed")
		os.Exit(1)
	}
}

// clientConfig assembles the catalog client configuration shared by all
// commands. The limiter is global: spacing and the concurrency cap
// apply to every call regardless of traversal level.
func clientConfig(opts *options) fipe.Config {
	cfg := fipe.DefaultConfig()
	cfg.Token = opts.token
	cfg.Timeout = opts.timeout
	cfg.Retry = fipe.RetryConfig{MaxRetries: opts.retries, BackoffBase: opts.backoff}
	cfg.Limiter = ratelimit.New(opts.rateDelay, opts.workers)
	cfg.Cache = listingCache(opts)
	return cfg
}

// listingCache picks the cache backend: Redis when configured, the
// local filesystem otherwise, none when both are disabled.
func listingCache(opts *options) cache.Store {
	if opts.redisURL != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.redisURL})
		return cache.NewRedisStore(client, 0)
	}
	if opts.cacheDir != "" {
		return cache.NewFSStore(opts.cacheDir)
	}
	return nil
}

func runExport(ctx context.Context, opts *options) error {
	if opts.vehicleType == "" || opts.out == "" {
		return fmt.Errorf("usage: --type {cars,motorcycles,trucks} --out OUT [flags]")
	}
	vt, err := fipe.ParseVehicleType(opts.vehicleType)
	if err != nil {
		return err
	}

	client := fipe.New(clientConfig(opts))
	sink, err := export.NewCSVSink(opts.out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	exporter := export.NewExporter(client, sink, export.Options{
		Type:      vt,
		Reference: opts.reference,
		MaxBrands: opts.maxBrands,
		MaxModels: opts.maxModels,
		Workers:   opts.workers,
	})

	summary, runErr := exporter.Run(ctx)
	if closeErr := sink.Close(); closeErr != nil && runErr == nil {
		runErr = fmt.Errorf("flush output: %w", closeErr)
	}
	if summary != nil {
		log.Info().
			Str("out", opts.out).
			Int("rows", summary.Rows).
			Int("skipped", len(summary.Skipped)).
			Msg("CSV written")
		for _, skip := range summary.Skipped {
			log.Warn().
				Str("path", skip.Path).
				Str("error_class", string(skip.Class)).
				Msg(skip.Reason)
		}
	}
	return runErr
}

func runListReferences(ctx context.Context, opts *options) error {
	client := fipe.New(clientConfig(opts))
	refs, err := client.ListReferences(ctx)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		log.Info().Msg("No references returned (check the token)")
		return nil
	}
	fmt.Println("code,month")
	for _, r := range refs {
		fmt.Printf("%s,%s\n", r.Code, r.Month)
	}
	return nil
}

func runFullScan(ctx context.Context, opts *options) error {
	scanner := fullscan.NewScanner(clientConfig(opts), fullscan.Config{
		OutDir:      opts.fullScanDir,
		DailyLimit:  opts.dailyLimit,
		LimitMargin: opts.limitMargin,
		Reference:   opts.reference,
	})
	return scanner.Run(ctx)
}

// observabilityRouter exposes liveness and Prometheus metrics.
func observabilityRouter() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// startObservability serves the observability endpoints for
// long-running scans.
func startObservability(addr string) {
	r := observabilityRouter()

	go func() {
		log.Info().Str("addr", addr).Msg("Observability server listening")
		if err := http.ListenAndServe(addr, r); err != nil {
			log.Error().Err(err).Msg("Observability server failed")
		}
	}()
}
