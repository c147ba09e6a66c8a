// Package pipeline drives the gap monitor: the live evaluation cycle, the
// historical backfill, the retention sweep, and the scheduler that runs them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spreadwatch/internal/align"
	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/metrics"
	"github.com/alanyoungcy/spreadwatch/internal/notify"
)

// Skip reasons reported per instrument.
const (
	SkipInsufficientLegs = "insufficient_legs"
	SkipDeadline         = "deadline"
	SkipPersistFailed    = "persist_failed"
)

const cycleLockKey = "evaluate_cycle"

// InstrumentLister returns the ranked instruments as of a moment.
type InstrumentLister interface {
	ActiveInstruments(ctx context.Context, asOf time.Time) ([]domain.Instrument, error)
}

// AlertEvaluator checks an observation against its baseline.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, obs domain.GapObservation, instrumentName string) ([]domain.Alert, error)
}

// Notifier raises operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// EvaluatorConfig tunes one live cycle.
type EvaluatorConfig struct {
	// Lookback is the tick window fetched per leg.
	Lookback     time.Duration
	CycleTimeout time.Duration
	Concurrency  int
	LockTTL      time.Duration
	Location     *time.Location
}

// CycleReport summarises one evaluation cycle.
type CycleReport struct {
	StartedAt    time.Time      `json:"started_at"`
	Instruments  int            `json:"instruments"`
	Processed    int            `json:"processed"`
	Observations int            `json:"observations"`
	AlertsFired  int            `json:"alerts_fired"`
	Skipped      map[string]int `json:"skipped"`
	Duration     time.Duration  `json:"duration"`
}

// Evaluator runs the live ingestion and alert pass.
type Evaluator struct {
	instruments InstrumentLister
	ticks       domain.TickSource
	aligner     *align.Engine
	gaps        domain.GapStore
	alerts      AlertEvaluator
	lock        domain.LockManager
	notifier    Notifier
	cfg         EvaluatorConfig
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewEvaluator wires an Evaluator. lock and notifier may be nil; a nil m
// records to a private registry.
func NewEvaluator(
	instruments InstrumentLister,
	ticks domain.TickSource,
	aligner *align.Engine,
	gaps domain.GapStore,
	alerts AlertEvaluator,
	lock domain.LockManager,
	notifier Notifier,
	cfg EvaluatorConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Evaluator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Evaluator{
		instruments: instruments,
		ticks:       ticks,
		aligner:     aligner,
		gaps:        gaps,
		alerts:      alerts,
		lock:        lock,
		notifier:    notifier,
		cfg:         cfg,
		metrics:     m,
		logger:      logger.With(slog.String("component", "evaluator")),
		now:         time.Now,
	}
}

// instrumentResult is the outcome of one instrument within a cycle.
type instrumentResult struct {
	skip         string
	observations int
	alerts       int
	err          error
}

// EvaluateCycle fetches the latest ticks of every active instrument, stores
// one gap observation per instrument and raises alerts. Fetch failures make
// the leg absent. Persistence failures are joined into the returned error
// without stopping other instruments. Instruments not started before the
// cycle deadline are skipped.
func (e *Evaluator) EvaluateCycle(ctx context.Context) (CycleReport, error) {
	start := e.now()
	report := CycleReport{StartedAt: start, Skipped: make(map[string]int)}

	if e.lock != nil {
		unlock, err := e.lock.Acquire(ctx, cycleLockKey, e.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				e.metrics.CyclesTotal.WithLabelValues("locked").Inc()
			} else {
				e.metrics.CyclesTotal.WithLabelValues("error").Inc()
			}
			return report, fmt.Errorf("pipeline: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	cycleCtx := ctx
	if e.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, e.cfg.CycleTimeout)
		defer cancel()
	}

	instruments, err := e.instruments.ActiveInstruments(cycleCtx, start)
	if err != nil {
		e.metrics.CyclesTotal.WithLabelValues("error").Inc()
		e.escalate(ctx, notify.EventCycleFailed, "Evaluation cycle failed", err)
		return report, fmt.Errorf("pipeline: list instruments: %w", err)
	}
	report.Instruments = len(instruments)

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(e.cfg.Concurrency)

	for _, inst := range instruments {
		g.Go(func() error {
			var res instrumentResult
			if cycleCtx.Err() != nil {
				res.skip = SkipDeadline
			} else {
				res = e.evaluateInstrument(ctx, cycleCtx, inst)
			}

			mu.Lock()
			defer mu.Unlock()
			if res.skip != "" {
				report.Skipped[res.skip]++
				e.metrics.InstrumentsSkipped.WithLabelValues(res.skip).Inc()
			} else {
				report.Processed++
			}
			report.Observations += res.observations
			report.AlertsFired += res.alerts
			if res.err != nil {
				errs = append(errs, res.err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = e.now().Sub(start)
	e.metrics.CycleDuration.Observe(report.Duration.Seconds())

	if n := report.Skipped[SkipDeadline]; n > 0 {
		e.logger.WarnContext(ctx, "cycle deadline reached",
			slog.Int("skipped", n),
			slog.String("error", domain.ErrCycleDeadline.Error()),
		)
	}

	cycleErr := errors.Join(errs...)
	result := "ok"
	if cycleErr != nil {
		result = "error"
	}
	e.metrics.CyclesTotal.WithLabelValues(result).Inc()

	e.logger.InfoContext(ctx, "cycle complete",
		slog.Int("instruments", report.Instruments),
		slog.Int("processed", report.Processed),
		slog.Int("observations", report.Observations),
		slog.Int("alerts", report.AlertsFired),
		slog.Any("skipped", report.Skipped),
		slog.Duration("duration", report.Duration),
	)
	if cycleErr != nil {
		return report, fmt.Errorf("pipeline: cycle: %w", cycleErr)
	}
	return report, nil
}

// evaluateInstrument fetches under cycleCtx and persists under ctx so a
// deadline hit mid-instrument does not abandon a computed observation.
func (e *Evaluator) evaluateInstrument(ctx, cycleCtx context.Context, inst domain.Instrument) instrumentResult {
	to := e.now()
	from := to.Add(-e.cfg.Lookback)

	series, present := e.fetchSeries(cycleCtx, inst, from, to)
	if present < 2 {
		if cycleCtx.Err() != nil {
			return instrumentResult{skip: SkipDeadline}
		}
		e.logger.WarnContext(ctx, "not enough legs with ticks",
			slog.Int64("instrument_id", inst.ID),
			slog.String("instrument", inst.Name),
			slog.Int("legs", present),
		)
		return instrumentResult{skip: SkipInsufficientLegs}
	}

	points := e.aligner.Align(series, align.ModeLive)
	if len(points) == 0 {
		e.logger.WarnContext(ctx, "no aligned ticks",
			slog.Int64("instrument_id", inst.ID),
			slog.String("instrument", inst.Name),
		)
		return instrumentResult{skip: SkipInsufficientLegs}
	}

	obs, err := align.ComputeGap(inst.ID, points[len(points)-1], e.cfg.Location)
	if err != nil {
		e.logger.WarnContext(ctx, "gap not derivable",
			slog.Int64("instrument_id", inst.ID),
			slog.String("error", err.Error()),
		)
		return instrumentResult{skip: SkipInsufficientLegs}
	}

	if err := e.gaps.Upsert(ctx, obs); err != nil {
		e.logger.ErrorContext(ctx, "upsert gap observation failed",
			slog.Int64("instrument_id", inst.ID),
			slog.String("error", err.Error()),
		)
		return instrumentResult{skip: SkipPersistFailed, err: err}
	}
	e.metrics.ObservationsUpserted.Inc()

	res := instrumentResult{observations: 1}
	fired, err := e.alerts.Evaluate(ctx, obs, inst.Name)
	res.alerts = len(fired)
	if err != nil {
		e.logger.ErrorContext(ctx, "alert evaluation failed",
			slog.Int64("instrument_id", inst.ID),
			slog.String("error", err.Error()),
		)
		res.err = err
	}
	return res
}

// fetchSeries loads each leg's ticks. A failed fetch leaves the leg absent.
// It returns the series and the number of legs that have ticks.
func (e *Evaluator) fetchSeries(ctx context.Context, inst domain.Instrument, from, to time.Time) (domain.LegSeries, int) {
	var series domain.LegSeries
	present := 0
	for _, leg := range inst.Legs {
		if ctx.Err() != nil {
			break
		}
		ticks, err := e.ticks.FetchTicks(ctx, leg.Symbol, from, to)
		if err != nil {
			e.metrics.FetchErrors.Inc()
			e.logger.WarnContext(ctx, "fetch ticks failed, leg treated as absent",
				slog.Int64("instrument_id", inst.ID),
				slog.String("leg", leg.Rank.String()),
				slog.String("symbol", leg.Symbol),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, domain.ErrAuthExhausted) {
				e.escalate(ctx, notify.EventAuthExhausted, "Vendor authentication failing", err)
			}
			continue
		}
		if len(ticks) > 0 {
			present++
		}
		series.Set(leg.Rank, ticks)
	}
	return series, present
}

func (e *Evaluator) escalate(ctx context.Context, event, title string, cause error) {
	if e.notifier == nil {
		return
	}
	// Detached from the cycle deadline.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := e.notifier.Notify(nctx, event, title, cause.Error()); err != nil {
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
