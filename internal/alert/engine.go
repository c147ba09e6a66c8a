package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/metrics"
	"github.com/google/uuid"
)

// BaselineReader looks up the baseline for an instrument's time slot.
type BaselineReader interface {
	Get(instrumentID int64, slot string) (domain.BaselineEntry, bool)
}

// Sink accepts alerts for asynchronous delivery. Emit must not block.
type Sink interface {
	Emit(a domain.Alert)
}

// Engine compares observations with baselines and persists alerts.
type Engine struct {
	baselines BaselineReader
	configs   *ConfigResolver
	cooldown  *Cooldown
	store     domain.AlertStore
	sink      Sink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine wires an alert engine. A nil m records to a private registry.
func NewEngine(
	baselines BaselineReader,
	configs *ConfigResolver,
	cooldown *Cooldown,
	store domain.AlertStore,
	sink Sink,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Engine{
		baselines: baselines,
		configs:   configs,
		cooldown:  cooldown,
		store:     store,
		sink:      sink,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// WarmStart seeds the cooldown tracker with alerts triggered within the
// lookback so a restart does not re-fire alerts still cooling down.
func (e *Engine) WarmStart(ctx context.Context, lookback time.Duration) error {
	recent, err := e.store.LatestTriggered(ctx, e.now().Add(-lookback))
	if err != nil {
		return fmt.Errorf("alert: warm start: %w", err)
	}
	e.cooldown.Seed(recent)
	e.logger.Info("alert: cooldown warm start", slog.Int("keys", len(recent)))
	return nil
}

// Evaluate checks both gaps of obs against the slot baseline. Each alert
// that passes the threshold and cooldown is persisted, recorded, and handed
// to the sink. A failed insert skips that alert and is returned joined.
func (e *Engine) Evaluate(ctx context.Context, obs domain.GapObservation, instrumentName string) ([]domain.Alert, error) {
	base, ok := e.baselines.Get(obs.InstrumentID, obs.TimeSlot)
	if !ok {
		return nil, nil
	}
	th := e.configs.Resolve(ctx, obs.InstrumentID)

	checks := []struct {
		typ      domain.AlertType
		current  *float64
		baseline *float64
	}{
		{domain.AlertGap1, obs.Gap1, base.Gap1},
		{domain.AlertGap2, obs.Gap2, base.Gap2},
	}

	var fired []domain.Alert
	var errs []error
	for _, c := range checks {
		if c.current == nil || c.baseline == nil {
			continue
		}
		dev := Deviation(*c.current, *c.baseline)
		if dev < th.ThresholdPct {
			continue
		}

		now := e.now()
		if e.cooldown.Suppressed(obs.InstrumentID, c.typ, now, th.Cooldown) {
			e.metrics.AlertsSuppressed.WithLabelValues(string(c.typ)).Inc()
			e.logger.Debug("alert: suppressed by cooldown",
				slog.Int64("instrument_id", obs.InstrumentID),
				slog.String("alert_type", string(c.typ)),
				slog.Float64("deviation_pct", dev),
			)
			continue
		}

		a := domain.Alert{
			ID:             uuid.NewString(),
			InstrumentID:   obs.InstrumentID,
			InstrumentName: instrumentName,
			TimeSlot:       obs.TimeSlot,
			Type:           c.typ,
			CurrentValue:   *c.current,
			BaselineValue:  *c.baseline,
			DeviationPct:   RoundPercent(dev),
			TriggeredAt:    now,
		}
		if err := e.store.Insert(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("alert: persist %s for instrument %d: %w", c.typ, obs.InstrumentID, err))
			continue
		}
		e.cooldown.Record(obs.InstrumentID, c.typ, now)
		e.metrics.AlertsFired.WithLabelValues(string(c.typ)).Inc()
		e.logger.Info("alert: triggered",
			slog.String("id", a.ID),
			slog.String("instrument", instrumentName),
			slog.String("alert_type", string(c.typ)),
			slog.String("time_slot", a.TimeSlot),
			slog.Float64("current", a.CurrentValue),
			slog.Float64("baseline", a.BaselineValue),
			slog.Float64("deviation_pct", a.DeviationPct),
		)
		e.sink.Emit(a)
		fired = append(fired, a)
	}
	return fired, errors.Join(errs...)
}
