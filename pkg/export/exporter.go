package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fipe-crawler/pkg/fipe"
)

// Prometheus metrics for the export run.
var (
	fipeRowsExportedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fipe_rows_exported_total",
		Help: "Total rows written to the export sink by vehicle type",
	}, []string{"type"})

	fipeNodesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fipe_nodes_skipped_total",
		Help: "Total traversal nodes skipped after terminal failures, by error class",
	}, []string{"error_class"})
)

// Options configures one export run. The zero values of the truncation
// limits mean "no limit".
type Options struct {
	// Type is the catalog subtree to walk.
	Type fipe.VehicleType

	// Reference pins the pricing epoch. Empty or "latest" resolves to
	// the most recent published reference.
	Reference string

	// MaxBrands truncates the brand list by position, keeping API order.
	MaxBrands int

	// MaxModels truncates each brand's model list by position.
	MaxModels int

	// Workers bounds concurrent price fetches. Listing calls are always
	// sequential; price lookups dominate the call count.
	Workers int
}

// SkippedNode records one node-local terminal failure.
type SkippedNode struct {
	Path   string
	Class  fipe.ErrorClass
	Reason string
}

// Summary is the outcome of a run: rows written, the reference used,
// and every skipped node with its cause. Rows are never dropped
// silently.
type Summary struct {
	Reference fipe.Reference
	Rows      int
	Skipped   []SkippedNode
}

// Exporter walks brand, model, year option and price for one vehicle
// type and streams rows to the sink in depth-first order.
type Exporter struct {
	client *fipe.Client
	sink   Sink
	opts   Options
	logger zerolog.Logger
}

// NewExporter creates an exporter over the given client and sink.
func NewExporter(client *fipe.Client, sink Sink, opts Options) *Exporter {
	return &Exporter{
		client: client,
		sink:   sink,
		opts:   opts,
		logger: log.With().Str("component", "exporter").Str("type", string(opts.Type)).Logger(),
	}
}

// Run executes the traversal. It returns the partial summary alongside
// the error when the run aborts (unauthorized credential, cancelled
// context or sink failure); node-local failures only land in
// Summary.Skipped.
func (e *Exporter) Run(ctx context.Context) (*Summary, error) {
	ref, err := e.resolveReference(ctx)
	if err != nil {
		return nil, err
	}
	refCode := string(ref.Code)
	summary := &Summary{Reference: ref}

	brands, err := e.client.ListBrands(ctx, e.opts.Type, refCode)
	if err != nil {
		return summary, fmt.Errorf("list brands: %w", err)
	}
	if e.opts.MaxBrands > 0 && len(brands) > e.opts.MaxBrands {
		brands = brands[:e.opts.MaxBrands]
	}
	e.logger.Info().Str("reference", refCode).Int("brands", len(brands)).Msg("Starting export")

	for bi, brand := range brands {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		e.logger.Info().
			Int("index", bi+1).
			Int("total", len(brands)).
			Str("brand", fmt.Sprintf("%s(%s)", brand.Name, brand.Code)).
			Msg("Brand")

		models, err := e.client.ListModels(ctx, e.opts.Type, brand.Code, refCode)
		if err != nil {
			if abortErr := e.skipOrAbort(summary, string(brand.Code), err); abortErr != nil {
				return summary, abortErr
			}
			continue
		}
		if e.opts.MaxModels > 0 && len(models) > e.opts.MaxModels {
			models = models[:e.opts.MaxModels]
		}

		for _, model := range models {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			years, err := e.client.ListYears(ctx, e.opts.Type, brand.Code, model.Code, refCode)
			if err != nil {
				path := fmt.Sprintf("%s/%s", brand.Code, model.Code)
				if abortErr := e.skipOrAbort(summary, path, err); abortErr != nil {
					return summary, abortErr
				}
				continue
			}
			e.logger.Debug().
				Str("model", fmt.Sprintf("%s(%s)", model.Name, model.Code)).
				Int("years", len(years)).
				Msg("Model")
			if len(years) == 0 {
				// A model with no year options contributes zero rows.
				continue
			}

			results := e.fetchLeaves(ctx, refCode, brand, model, years)
			for i, res := range results {
				if !res.done {
					continue
				}
				if res.err != nil {
					if isCancellation(res.err) {
						// Not a node failure; Run reports ctx.Err() below.
						continue
					}
					path := fmt.Sprintf("%s/%s/%s", brand.Code, model.Code, years[i].Code)
					if abortErr := e.skipOrAbort(summary, path, res.err); abortErr != nil {
						return summary, abortErr
					}
					continue
				}
				if err := e.sink.Write(NewRow(e.opts.Type, brand, model, years[i], res.snapshot)); err != nil {
					return summary, fmt.Errorf("write row: %w", err)
				}
				summary.Rows++
				fipeRowsExportedTotal.WithLabelValues(string(e.opts.Type)).Inc()
			}
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
		}
	}

	e.logger.Info().
		Int("rows", summary.Rows).
		Int("skipped", len(summary.Skipped)).
		Msg("Export complete")
	return summary, nil
}

// resolveReference pins the reference for the whole run. A caller-
// supplied code is trusted as-is (past references stay queryable);
// otherwise the most recent published reference wins.
func (e *Exporter) resolveReference(ctx context.Context) (fipe.Reference, error) {
	if e.opts.Reference != "" && e.opts.Reference != "latest" {
		return fipe.Reference{Code: fipe.Code(e.opts.Reference)}, nil
	}
	ref, err := e.client.ResolveReference(ctx, "")
	if err != nil {
		return fipe.Reference{}, fmt.Errorf("resolve reference: %w", err)
	}
	e.logger.Info().
		Str("reference", string(ref.Code)).
		Str("month", ref.Month).
		Msg("Using latest reference")
	return ref, nil
}

// isCancellation reports whether a leaf failed only because the run
// context ended while it was in flight.
func isCancellation(err error) bool {
	return errors.Is(err, fipe.ErrContextCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// skipOrAbort records a node-local failure, or returns the error when
// it must abort the whole run. Unauthorized is run-aborting: every
// subsequent call would fail identically.
func (e *Exporter) skipOrAbort(summary *Summary, path string, err error) error {
	if fipe.IsUnauthorized(err) {
		return err
	}
	class := fipe.ClassOf(err)
	summary.Skipped = append(summary.Skipped, SkippedNode{
		Path:   path,
		Class:  class,
		Reason: err.Error(),
	})
	fipeNodesSkippedTotal.WithLabelValues(string(class)).Inc()
	e.logger.Warn().
		Str("path", path).
		Str("error_class", string(class)).
		Err(err).
		Msg("Skipping node after terminal failure")
	return nil
}
