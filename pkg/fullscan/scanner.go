package fullscan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fipe-crawler/pkg/export"
	"fipe-crawler/pkg/fipe"
	"fipe-crawler/pkg/ratelimit"
)

// Config holds the full-scan settings.
type Config struct {
	// OutDir receives one CSV per vehicle type (cars.csv, ...).
	OutDir string

	// DailyLimit is the per-day call budget; LimitMargin keeps the last
	// calls of the day unspent.
	DailyLimit  int
	LimitMargin int

	// Reference pins the pricing epoch; empty or "latest" resolves to
	// the most recent one (and is then kept in the checkpoint so the
	// whole scan uses one epoch even across days).
	Reference string

	// StatePath overrides the checkpoint location (default
	// DefaultStatePath).
	StatePath string
}

// Scanner walks cars, motorcycles and trucks sequentially under the
// daily budget. Price fetches are sequential here: the bottleneck is
// the daily budget, not latency.
type Scanner struct {
	clientCfg fipe.Config
	cfg       Config
	logger    zerolog.Logger
}

// NewScanner creates a scanner. The client is built per run because the
// daily budget depends on checkpoint state loaded at run time.
func NewScanner(clientCfg fipe.Config, cfg Config) *Scanner {
	if cfg.OutDir == "" {
		cfg.OutDir = "full_scan"
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 500
	}
	if cfg.LimitMargin < 0 {
		cfg.LimitMargin = 0
	}
	return &Scanner{
		clientCfg: clientCfg,
		cfg:       cfg,
		logger:    log.With().Str("component", "fullscan").Logger(),
	}
}

// Run executes (or resumes) the scan. Budget exhaustion is not an
// error: the checkpoint is saved and Run returns nil so the caller can
// retry on a later day. Only unauthorized credentials, sink failures
// and cancellation surface as errors.
func (s *Scanner) Run(ctx context.Context) (runErr error) {
	state := NewStateManager(s.cfg.StatePath)
	cp, err := state.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Discarding unreadable checkpoint")
		cp = nil
	}

	today := ratelimit.TodayKey()
	used := 0
	resume := Checkpoint{}
	ref := s.cfg.Reference
	if cp != nil {
		resume = *cp
		if cp.Date == today {
			used = cp.Used
		}
		if ref == "" || ref == "latest" {
			ref = cp.Reference
		}
	}

	budget := ratelimit.NewBudget(s.cfg.DailyLimit, s.cfg.LimitMargin, used, today)
	clientCfg := s.clientCfg
	clientCfg.Budget = budget
	client := fipe.New(clientCfg)

	if ref == "" || ref == "latest" {
		resolved, err := client.ResolveReference(ctx, "")
		if err != nil {
			if errors.Is(err, ratelimit.ErrBudgetExhausted) {
				return s.pause(state, &resume, budget, ref)
			}
			return fmt.Errorf("resolve reference: %w", err)
		}
		ref = string(resolved.Code)
		s.logger.Info().Str("reference", ref).Str("month", resolved.Month).Msg("Using latest reference")
	}

	s.logger.Info().
		Str("reference", ref).
		Str("out_dir", s.cfg.OutDir).
		Int("limit", budget.Limit()).
		Str("date", today).
		Int("type_index", resume.TypeIndex).
		Int("brand_index", resume.BrandIndex).
		Int("model_index", resume.ModelIndex).
		Int("year_index", resume.YearIndex).
		Int("used", used).
		Msg("Starting full scan")

	// Rows sit in the csv.Writer buffer until Close flushes them, while
	// the checkpoint has already advanced past them. A flush failure
	// must therefore surface, or a resume would never re-fetch the rows
	// it lost.
	sinks := map[fipe.VehicleType]*export.CSVSink{}
	defer func() {
		for vt, sink := range sinks {
			if err := sink.Close(); err != nil {
				s.logger.Error().Err(err).Str("type", string(vt)).Msg("Sink close failed")
				if runErr == nil {
					runErr = fmt.Errorf("close %s sink: %w", vt, err)
				}
			}
		}
	}()

	sinkFor := func(vt fipe.VehicleType) (*export.CSVSink, error) {
		if sink, ok := sinks[vt]; ok {
			return sink, nil
		}
		sink, err := export.OpenAppendCSVSink(filepath.Join(s.cfg.OutDir, string(vt)+".csv"))
		if err != nil {
			return nil, err
		}
		sinks[vt] = sink
		return sink, nil
	}

	save := func(ti, bi, mi, yi int) {
		err := state.Save(&Checkpoint{
			Date:       today,
			Used:       budget.Used(),
			TypeIndex:  ti,
			BrandIndex: bi,
			ModelIndex: mi,
			YearIndex:  yi,
			Reference:  ref,
			OutDir:     s.cfg.OutDir,
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("Checkpoint save failed")
		}
	}

	rows, skipped := 0, 0
	cur := resume

	for ti := resume.TypeIndex; ti < len(fipe.AllVehicleTypes); ti++ {
		atType := ti == resume.TypeIndex
		cur.TypeIndex = ti
		if !atType {
			// Deeper indices from the previous subtree must not leak
			// into a checkpoint saved while listing this one.
			cur.BrandIndex, cur.ModelIndex, cur.YearIndex = 0, 0, 0
		}
		vt := fipe.AllVehicleTypes[ti]

		brands, err := client.ListBrands(ctx, vt, ref)
		if term := s.classify(err, state, &cur, budget, ref, today); term != nil {
			return s.unwrapPause(term)
		} else if err != nil {
			skipped++
			continue
		}
		bStart := startIndex(atType, resume.BrandIndex)
		s.logger.Info().Str("type", string(vt)).Int("brands", len(brands)).Int("start_brand_index", bStart).Msg("Type")

		for bi := bStart; bi < len(brands); bi++ {
			atBrand := atType && bi == resume.BrandIndex
			cur.BrandIndex = bi
			if !atBrand {
				cur.ModelIndex, cur.YearIndex = 0, 0
			}
			brand := brands[bi]

			models, err := client.ListModels(ctx, vt, brand.Code, ref)
			if term := s.classify(err, state, &cur, budget, ref, today); term != nil {
				return s.unwrapPause(term)
			} else if err != nil {
				skipped++
				continue
			}
			mStart := startIndex(atBrand, resume.ModelIndex)
			s.logger.Info().
				Str("brand", fmt.Sprintf("%s(%s)", brand.Name, brand.Code)).
				Int("models", len(models)).
				Int("start_model_index", mStart).
				Msg("Brand")

			for mi := mStart; mi < len(models); mi++ {
				atModel := atBrand && mi == resume.ModelIndex
				cur.ModelIndex = mi
				if !atModel {
					cur.YearIndex = 0
				}
				model := models[mi]

				years, err := client.ListYears(ctx, vt, brand.Code, model.Code, ref)
				if term := s.classify(err, state, &cur, budget, ref, today); term != nil {
					return s.unwrapPause(term)
				} else if err != nil {
					skipped++
					continue
				}
				yStart := startIndex(atModel, resume.YearIndex)

				for yi := yStart; yi < len(years); yi++ {
					cur.YearIndex = yi
					if ctx.Err() != nil {
						save(ti, bi, mi, yi)
						return ctx.Err()
					}

					snap, err := client.GetPrice(ctx, vt, brand.Code, model.Code, years[yi].Code, ref)
					if term := s.classify(err, state, &cur, budget, ref, today); term != nil {
						return s.unwrapPause(term)
					} else if err != nil {
						skipped++
						continue
					}

					sink, err := sinkFor(vt)
					if err != nil {
						save(ti, bi, mi, yi)
						return fmt.Errorf("open sink: %w", err)
					}
					if err := sink.Write(export.NewRow(vt, brand, model, years[yi], snap)); err != nil {
						save(ti, bi, mi, yi)
						return fmt.Errorf("write row: %w", err)
					}
					rows++
					save(ti, bi, mi, yi+1)
				}
				save(ti, bi, mi+1, 0)
			}
			save(ti, bi+1, 0, 0)
		}
		save(ti+1, 0, 0, 0)
	}

	if err := state.Clear(); err != nil {
		s.logger.Warn().Err(err).Msg("Checkpoint clear failed")
	}
	s.logger.Info().
		Int("rows", rows).
		Int("skipped", skipped).
		Int("used", budget.Used()).
		Int("limit", budget.Limit()).
		Str("out_dir", s.cfg.OutDir).
		Msg("Full scan complete")
	return nil
}

// errPaused marks a clean budget pause internally; Run converts it to nil.
var errPaused = errors.New("full scan paused")

// classify decides what a call failure means for the scan: nil error
// passes through, budget exhaustion pauses (checkpoint saved),
// unauthorized aborts, anything else is node-local (caller skips).
func (s *Scanner) classify(err error, state *StateManager, cur *Checkpoint, budget *ratelimit.Budget, ref, today string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ratelimit.ErrBudgetExhausted):
		cur.Date = today
		cur.Used = budget.Used()
		cur.Reference = ref
		cur.OutDir = s.cfg.OutDir
		if saveErr := state.Save(cur); saveErr != nil {
			s.logger.Error().Err(saveErr).Msg("Checkpoint save failed on pause")
		}
		s.logger.Info().
			Int("used", budget.Used()).
			Int("limit", budget.Limit()).
			Msg("Daily budget margin reached, pausing until tomorrow")
		return errPaused
	case fipe.IsUnauthorized(err):
		return err
	default:
		s.logger.Warn().Err(err).Msg("Skipping node after terminal failure")
		return nil
	}
}

// unwrapPause turns the internal pause marker into a clean nil return.
func (s *Scanner) unwrapPause(err error) error {
	if errors.Is(err, errPaused) {
		return nil
	}
	return err
}

// pause saves the checkpoint when the budget dies before the scan loop
// even starts (e.g. during reference resolution).
func (s *Scanner) pause(state *StateManager, cur *Checkpoint, budget *ratelimit.Budget, ref string) error {
	cur.Date = budget.DateKey()
	cur.Used = budget.Used()
	cur.Reference = ref
	cur.OutDir = s.cfg.OutDir
	if err := state.Save(cur); err != nil {
		s.logger.Error().Err(err).Msg("Checkpoint save failed on pause")
	}
	s.logger.Info().Int("used", budget.Used()).Msg("Daily budget margin reached before scan start")
	return nil
}

// startIndex returns the resume index when the current node is the
// checkpointed one, zero otherwise.
func startIndex(atResumePoint bool, idx int) int {
	if atResumePoint {
		return idx
	}
	return 0
}
