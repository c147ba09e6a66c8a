package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

// CycleRunner runs one evaluation cycle.
type CycleRunner interface {
	EvaluateCycle(ctx context.Context) (CycleReport, error)
}

// BaselineRefresher rebuilds the baseline cache.
type BaselineRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Sweeper runs a retention sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (SweepReport, error)
}

// SchedulerConfig holds the scheduler timing.
type SchedulerConfig struct {
	CycleInterval time.Duration
	Session       Session
	BaselineCron  Schedule
	RetentionCron Schedule
}

// Scheduler drives the monitor: evaluation cycles on an interval during the
// trading session, baseline refreshes on start and on a cron, and retention
// sweeps on a cron.
type Scheduler struct {
	cycle     CycleRunner
	baselines BaselineRefresher
	sweeper   Sweeper
	cfg       SchedulerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a Scheduler. sweeper may be nil.
func NewScheduler(
	cycle CycleRunner,
	baselines BaselineRefresher,
	sweeper Sweeper,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cycle:     cycle,
		baselines: baselines,
		sweeper:   sweeper,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "scheduler")),
		now:       time.Now,
	}
}

// Run starts every loop as a goroutine in an errgroup and blocks until ctx
// is cancelled or a loop fails.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		slog.Duration("cycle_interval", s.cfg.CycleInterval),
		slog.String("baseline_cron", s.cfg.BaselineCron.String()),
		slog.String("retention_cron", s.cfg.RetentionCron.String()),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.runCycles(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("cycle loop: %w", err)
	})

	g.Go(func() error {
		s.refreshBaselines(ctx)
		err := s.runCron(ctx, "baseline_refresh", s.cfg.BaselineCron, s.refreshBaselines)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("baseline cron: %w", err)
	})

	if s.sweeper != nil {
		g.Go(func() error {
			err := s.runCron(ctx, "retention_sweep", s.cfg.RetentionCron, func(ctx context.Context) {
				// Sweep logs and notifies on failure.
				_, _ = s.sweeper.Sweep(ctx)
			})
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("retention cron: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("scheduler stopped cleanly")
	return nil
}

// runCycles evaluates immediately and then on every tick inside the session.
func (s *Scheduler) runCycles(ctx context.Context) error {
	s.tryCycle(ctx)

	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tryCycle(ctx)
		}
	}
}

func (s *Scheduler) tryCycle(ctx context.Context) {
	if !s.cfg.Session.Contains(s.now()) {
		s.logger.Debug("outside trading session, cycle skipped")
		return
	}
	if _, err := s.cycle.EvaluateCycle(ctx); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Info("cycle running on another replica, skipped")
			return
		}
		s.logger.Error("cycle failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) refreshBaselines(ctx context.Context) {
	n, err := s.baselines.Refresh(ctx)
	if err != nil {
		s.logger.Error("baseline refresh failed, keeping previous snapshot",
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("baselines refreshed", slog.Int("entries", n))
}

// runCron calls fn at each matching minute until ctx is cancelled. Times are
// evaluated in the session's time zone.
func (s *Scheduler) runCron(ctx context.Context, name string, sched Schedule, fn func(context.Context)) error {
	for {
		next, err := sched.Next(s.now().In(s.cfg.Session.loc()))
		if err != nil {
			return err
		}

		wait := next.Sub(s.now())
		s.logger.Info("waiting for next cron trigger",
			slog.String("job", name),
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			fn(ctx)
		}
	}
}
