// Package baseline keeps an in-memory snapshot of historical mean gaps,
// rebuilt periodically from the time-series store.
package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Source aggregates stored observations into per-slot means.
type Source interface {
	AggregateBaselines(ctx context.Context, from, to time.Time) ([]domain.BaselineEntry, error)
}

// Config bounds the history used to build baselines.
type Config struct {
	// MinDays is the fewest distinct dates a slot needs to get a baseline.
	MinDays int
	// MaxDays is the lookback window in calendar days.
	MaxDays  int
	Location *time.Location
}

// Window returns (minDays, maxDays) with misordered values swapped and
// both clamped to at least one day.
func (c Config) Window() (int, int) {
	lo, hi := c.MinDays, c.MaxDays
	if lo > hi {
		lo, hi = hi, lo
	}
	return max(lo, 1), max(hi, 1)
}

type key struct {
	instrumentID int64
	slot         string
}

type snapshot struct {
	entries map[key]domain.BaselineEntry
	builtAt time.Time
}

// Cache serves baseline lookups from an immutable snapshot that Refresh
// replaces atomically. Readers never see a partially built snapshot.
type Cache struct {
	src     Source
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	snap  atomic.Pointer[snapshot]
	group singleflight.Group
	now   func() time.Time
}

// NewCache returns an empty cache. Call Refresh before serving lookups. A
// nil m records to a private registry.
func NewCache(src Source, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Cache {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	c := &Cache{
		src:     src,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	c.snap.Store(&snapshot{entries: map[key]domain.BaselineEntry{}})
	return c
}

// Get returns the baseline for an instrument's time slot.
func (c *Cache) Get(instrumentID int64, slot string) (domain.BaselineEntry, bool) {
	e, ok := c.snap.Load().entries[key{instrumentID, slot}]
	return e, ok
}

// Len returns the number of entries in the current snapshot.
func (c *Cache) Len() int {
	return len(c.snap.Load().entries)
}

// BuiltAt returns when the current snapshot was built; zero before the
// first successful refresh.
func (c *Cache) BuiltAt() time.Time {
	return c.snap.Load().builtAt
}

// Refresh rebuilds the snapshot from the store and swaps it in. Concurrent
// callers share one rebuild. On failure the previous snapshot stays live.
func (c *Cache) Refresh(ctx context.Context) (int, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.rebuild(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (c *Cache) rebuild(ctx context.Context) (int, error) {
	minDays, maxDays := c.cfg.Window()
	now := c.now().In(c.cfg.Location)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.cfg.Location)
	from := to.AddDate(0, 0, -maxDays)

	rows, err := c.src.AggregateBaselines(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("baseline: aggregate %s..%s: %w",
			from.Format(time.DateOnly), to.Format(time.DateOnly), err)
	}

	entries := make(map[key]domain.BaselineEntry, len(rows))
	thin := 0
	for _, r := range rows {
		if r.SampleDays < minDays {
			thin++
			continue
		}
		entries[key{r.InstrumentID, r.TimeSlot}] = r
	}

	c.snap.Store(&snapshot{entries: entries, builtAt: c.now()})
	c.metrics.BaselineEntries.Set(float64(len(entries)))
	c.logger.Info("baseline: snapshot refreshed",
		slog.Int("entries", len(entries)),
		slog.Int("below_min_days", thin),
		slog.String("from", from.Format(time.DateOnly)),
		slog.String("to", to.Format(time.DateOnly)),
	)
	return len(entries), nil
}
