package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/metrics"
	"github.com/alanyoungcy/spreadwatch/internal/notify"
)

const retentionLockKey = "retention_sweep"

// SweepReport summarises a retention sweep.
type SweepReport struct {
	Cutoff   time.Time `json:"cutoff"`
	Archived int64     `json:"archived"`
	Deleted  int64     `json:"deleted"`
}

// Retention deletes gap observations older than the retention window,
// exporting them to cold storage first when an archiver is configured.
type Retention struct {
	gaps     domain.GapStore
	archiver domain.Archiver
	audit    domain.AuditStore
	lock     domain.LockManager
	notifier Notifier
	days     int
	loc      *time.Location
	lockTTL  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetention creates a Retention. archiver, audit, lock and notifier may
// be nil; a nil m records to a private registry.
func NewRetention(
	gaps domain.GapStore,
	archiver domain.Archiver,
	audit domain.AuditStore,
	lock domain.LockManager,
	notifier Notifier,
	days int,
	loc *time.Location,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Retention {
	if loc == nil {
		loc = time.UTC
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Retention{
		gaps:     gaps,
		archiver: archiver,
		audit:    audit,
		lock:     lock,
		notifier: notifier,
		days:     days,
		loc:      loc,
		lockTTL:  30 * time.Minute,
		metrics:  m,
		logger:   logger.With(slog.String("component", "retention")),
		now:      time.Now,
	}
}

// Cutoff returns the first date kept: local midnight, days ago.
func (r *Retention) Cutoff() time.Time {
	local := r.now().In(r.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
	return today.AddDate(0, 0, -r.days)
}

// Sweep archives then deletes every observation dated before the cutoff.
// Nothing is deleted when archiving fails.
func (r *Retention) Sweep(ctx context.Context) (SweepReport, error) {
	report, err := r.sweep(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "retention sweep failed", slog.String("error", err.Error()))
		if r.notifier != nil {
			if nerr := r.notifier.Notify(ctx, notify.EventSweepFailed, "Retention sweep failed", err.Error()); nerr != nil {
				r.logger.WarnContext(ctx, "notification failed", slog.String("error", nerr.Error()))
			}
		}
	}
	return report, err
}

func (r *Retention) sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Cutoff: r.Cutoff()}

	if r.lock != nil {
		unlock, err := r.lock.Acquire(ctx, retentionLockKey, r.lockTTL)
		if err != nil {
			return report, fmt.Errorf("pipeline: acquire retention lock: %w", err)
		}
		defer unlock()
	}

	r.logger.InfoContext(ctx, "starting retention sweep",
		slog.Time("cutoff", report.Cutoff),
		slog.Int("retention_days", r.days),
	)

	if r.archiver != nil {
		n, err := r.archiver.ArchiveGapObservations(ctx, report.Cutoff)
		if err != nil {
			return report, fmt.Errorf("pipeline: archive gap observations before %s: %w",
				report.Cutoff.Format(time.DateOnly), err)
		}
		report.Archived = n
		r.metrics.RowsArchived.Add(float64(n))
	}

	deleted, err := r.gaps.DeleteBefore(ctx, report.Cutoff)
	if err != nil {
		return report, fmt.Errorf("pipeline: delete gap observations before %s: %w",
			report.Cutoff.Format(time.DateOnly), err)
	}
	report.Deleted = deleted

	if r.audit != nil {
		detail := map[string]any{
			"cutoff":   report.Cutoff.Format(time.DateOnly),
			"archived": report.Archived,
			"deleted":  report.Deleted,
		}
		if err := r.audit.Log(ctx, "retention.sweep", detail); err != nil {
			r.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	r.logger.InfoContext(ctx, "retention sweep complete",
		slog.Int64("archived", report.Archived),
		slog.Int64("deleted", report.Deleted),
	)
	return report, nil
}
