package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/align"
	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/metrics"
)

// Session is a daily trading window in a time zone.
type Session struct {
	Location *time.Location
	// Start and End are offsets from local midnight.
	Start time.Duration
	End   time.Duration
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Bounds returns the session window on the given local day.
func (s Session) Bounds(day time.Time) (time.Time, time.Time) {
	local := day.In(s.loc())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc())
	return midnight.Add(s.Start), midnight.Add(s.End)
}

// Contains reports whether t falls on a weekday inside the session window,
// both ends inclusive.
func (s Session) Contains(t time.Time) bool {
	local := t.In(s.loc())
	if !tradingDay(local) {
		return false
	}
	open, closeAt := s.Bounds(local)
	return !local.Before(open) && !local.After(closeAt)
}

func (s Session) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func tradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// BackfillReport summarises a backfill run.
type BackfillReport struct {
	Days         int `json:"days"`
	Instruments  int `json:"instruments"`
	Observations int `json:"observations"`
	Failed       int `json:"failed"`
}

// Backfiller reconstructs historical gap observations from full-session
// ticks. It never raises alerts.
type Backfiller struct {
	instruments InstrumentLister
	ticks       domain.TickSource
	aligner     *align.Engine
	gaps        domain.GapStore
	audit       domain.AuditStore
	session     Session
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewBackfiller wires a Backfiller. audit may be nil; a nil m records to a
// private registry.
func NewBackfiller(
	instruments InstrumentLister,
	ticks domain.TickSource,
	aligner *align.Engine,
	gaps domain.GapStore,
	audit domain.AuditStore,
	session Session,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Backfiller {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Backfiller{
		instruments: instruments,
		ticks:       ticks,
		aligner:     aligner,
		gaps:        gaps,
		audit:       audit,
		session:     session,
		metrics:     m,
		logger:      logger.With(slog.String("component", "backfill")),
	}
}

// Backfill processes every weekday in [from, to]. For each instrument-day it
// aligns the session's ticks in sampling mode and upserts the sampled
// observations. Failures of one instrument-day are joined into the returned
// error and do not stop the run.
func (b *Backfiller) Backfill(ctx context.Context, from, to time.Time) (BackfillReport, error) {
	var report BackfillReport
	var errs []error

	loc := b.session.loc()
	day := from.In(loc)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	last := to.In(loc)

	seen := make(map[int64]bool)
	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !tradingDay(day) {
			continue
		}

		instruments, err := b.instruments.ActiveInstruments(ctx, day)
		if err != nil {
			return report, fmt.Errorf("pipeline: backfill %s: %w", day.Format(time.DateOnly), err)
		}
		report.Days++

		for _, inst := range instruments {
			seen[inst.ID] = true
			n, err := b.backfillDay(ctx, inst, day)
			if err != nil {
				report.Failed++
				errs = append(errs, err)
				b.logger.ErrorContext(ctx, "backfill instrument-day failed",
					slog.Int64("instrument_id", inst.ID),
					slog.String("date", day.Format(time.DateOnly)),
					slog.String("error", err.Error()),
				)
				continue
			}
			report.Observations += n
		}
		b.logger.InfoContext(ctx, "backfilled day",
			slog.String("date", day.Format(time.DateOnly)),
			slog.Int("instruments", len(instruments)),
		)
	}
	report.Instruments = len(seen)

	if b.audit != nil {
		detail := map[string]any{
			"from":         from.Format(time.DateOnly),
			"to":           to.Format(time.DateOnly),
			"days":         report.Days,
			"observations": report.Observations,
			"failed":       report.Failed,
		}
		if err := b.audit.Log(ctx, "backfill.completed", detail); err != nil {
			b.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return report, fmt.Errorf("pipeline: backfill: %w", err)
	}
	return report, nil
}

func (b *Backfiller) backfillDay(ctx context.Context, inst domain.Instrument, day time.Time) (int, error) {
	open, closeAt := b.session.Bounds(day)

	var series domain.LegSeries
	for _, leg := range inst.Legs {
		ticks, err := b.ticks.FetchTicks(ctx, leg.Symbol, open, closeAt)
		if err != nil {
			b.metrics.FetchErrors.Inc()
			b.logger.WarnContext(ctx, "fetch ticks failed, leg treated as absent",
				slog.Int64("instrument_id", inst.ID),
				slog.String("symbol", leg.Symbol),
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			continue
		}
		series.Set(leg.Rank, ticks)
	}

	points := b.aligner.Align(series, align.ModeBackfill)

	// Points sharing a minute collapse onto one row; keep the latest.
	bySlot := make(map[string]int)
	var batch []domain.GapObservation
	for _, p := range points {
		obs, err := align.ComputeGap(inst.ID, p, b.session.loc())
		if err != nil {
			continue
		}
		if i, ok := bySlot[obs.TimeSlot]; ok {
			batch[i] = obs
			continue
		}
		bySlot[obs.TimeSlot] = len(batch)
		batch = append(batch, obs)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	if err := b.gaps.UpsertBatch(ctx, batch); err != nil {
		return 0, fmt.Errorf("instrument %d %s: %w", inst.ID, day.Format(time.DateOnly), err)
	}
	b.metrics.ObservationsUpserted.Add(float64(len(batch)))
	return len(batch), nil
}
