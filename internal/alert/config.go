package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

// Thresholds is the effective alerting rule for one instrument.
type Thresholds struct {
	ThresholdPct float64
	Cooldown     time.Duration
}

// ConfigResolver resolves per-instrument rules: instrument override, then
// the global rule, then built-in defaults, field by field. Resolved rules
// are cached until Reload.
type ConfigResolver struct {
	store    domain.AlertConfigStore
	defaults Thresholds
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[int64]Thresholds
}

// NewConfigResolver returns a resolver falling back to defaults.
func NewConfigResolver(store domain.AlertConfigStore, defaults Thresholds, logger *slog.Logger) *ConfigResolver {
	return &ConfigResolver{
		store:    store,
		defaults: defaults,
		logger:   logger,
		cache:    make(map[int64]Thresholds),
	}
}

// Resolve returns the effective rule for instrumentID. Store failures fall
// back to defaults and are not cached.
func (r *ConfigResolver) Resolve(ctx context.Context, instrumentID int64) Thresholds {
	r.mu.RLock()
	th, ok := r.cache[instrumentID]
	r.mu.RUnlock()
	if ok {
		return th
	}

	th = r.defaults
	cacheable := true

	global, err := r.store.GlobalConfig(ctx)
	switch {
	case err == nil:
		th = overlay(th, global)
	case !errors.Is(err, domain.ErrNotFound):
		cacheable = false
		r.logger.Warn("alert: global config lookup failed, using defaults",
			slog.String("error", err.Error()),
		)
	}

	inst, err := r.store.InstrumentConfig(ctx, instrumentID)
	switch {
	case err == nil:
		th = overlay(th, inst)
	case !errors.Is(err, domain.ErrNotFound):
		cacheable = false
		r.logger.Warn("alert: instrument config lookup failed",
			slog.Int64("instrument_id", instrumentID),
			slog.String("error", err.Error()),
		)
	}

	if cacheable {
		r.mu.Lock()
		r.cache[instrumentID] = th
		r.mu.Unlock()
	}
	return th
}

// Reload drops every cached rule so the next Resolve reads the store.
func (r *ConfigResolver) Reload() {
	r.mu.Lock()
	r.cache = make(map[int64]Thresholds)
	r.mu.Unlock()
	r.logger.Info("alert: config cache cleared")
}

// overlay applies the set fields of an active rule on top of th.
func overlay(th Thresholds, cfg domain.AlertConfig) Thresholds {
	if !cfg.Active {
		return th
	}
	if cfg.ThresholdPct > 0 {
		th.ThresholdPct = cfg.ThresholdPct
	}
	if cfg.CooldownMinutes > 0 {
		th.Cooldown = time.Duration(cfg.CooldownMinutes) * time.Minute
	}
	return th
}
