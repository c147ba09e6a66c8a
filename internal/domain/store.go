package domain

import (
	"context"
	"time"
)

// GapStore persists gap observations in the time-series table.
type GapStore interface {
	// Upsert inserts or replaces the row keyed by (instrument, date, time slot).
	Upsert(ctx context.Context, obs GapObservation) error
	UpsertBatch(ctx context.Context, obs []GapObservation) error
	// AggregateBaselines averages gaps per (instrument, time slot) over
	// observations dated within [from, to].
	AggregateBaselines(ctx context.Context, from, to time.Time) ([]BaselineEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]GapObservation, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertStore persists triggered alerts.
type AlertStore interface {
	Insert(ctx context.Context, alert Alert) error
	// LatestTriggered returns the most recent alert per (instrument, alert
	// type) triggered at or after since.
	LatestTriggered(ctx context.Context, since time.Time) ([]Alert, error)
}

// AlertConfigStore reads alerting rules.
type AlertConfigStore interface {
	// InstrumentConfig returns ErrNotFound when no override exists.
	InstrumentConfig(ctx context.Context, instrumentID int64) (AlertConfig, error)
	// GlobalConfig returns ErrNotFound when no global rule exists.
	GlobalConfig(ctx context.Context) (AlertConfig, error)
}

// LegDirectory lists the contracts of every active instrument.
type LegDirectory interface {
	ListActiveLegs(ctx context.Context) ([]LegListing, error)
}

// TickSource fetches a contract's ticks over a time range, oldest first.
type TickSource interface {
	FetchTicks(ctx context.Context, symbol string, from, to time.Time) ([]Tick, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only log of operator-visible actions
// (backfills, retention sweeps, manual triggers).
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, since time.Time, limit int) ([]AuditEntry, error)
}
