package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spreadwatch/internal/alert"
	"github.com/alanyoungcy/spreadwatch/internal/align"
	"github.com/alanyoungcy/spreadwatch/internal/baseline"
	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/pipeline"
	"github.com/alanyoungcy/spreadwatch/internal/server"
	"github.com/alanyoungcy/spreadwatch/internal/server/handler"
	"github.com/alanyoungcy/spreadwatch/internal/server/ws"
	"github.com/alanyoungcy/spreadwatch/internal/service"
)

// monitor holds the domain components shared by the modes.
type monitor struct {
	session     pipeline.Session
	instruments *service.InstrumentService
	aligner     *align.Engine
	baselines   *baseline.Cache
	configs     *alert.ConfigResolver
	retention   *pipeline.Retention
}

func (a *App) buildMonitor(deps *Dependencies) (*monitor, error) {
	loc := a.cfg.Location()
	start, err := pipeline.ParseClock(a.cfg.Schedule.SessionStart)
	if err != nil {
		return nil, fmt.Errorf("session start: %w", err)
	}
	end, err := pipeline.ParseClock(a.cfg.Schedule.SessionEnd)
	if err != nil {
		return nil, fmt.Errorf("session end: %w", err)
	}

	return &monitor{
		session:     pipeline.Session{Location: loc, Start: start, End: end},
		instruments: service.NewInstrumentService(deps.LegDirectory, loc, a.logger),
		aligner: align.NewEngine(align.Config{
			Tolerance: a.cfg.Alignment.Tolerance.Duration,
			MinVolume: a.cfg.Alignment.MinVolume,
			SampleCap: a.cfg.Alignment.SampleCap,
		}, nil),
		baselines: baseline.NewCache(deps.GapStore, baseline.Config{
			MinDays:  a.cfg.Baseline.MinDays,
			MaxDays:  a.cfg.Baseline.MaxDays,
			Location: loc,
		}, deps.Metrics, a.logger),
		configs: alert.NewConfigResolver(deps.AlertConfigStore, alert.Thresholds{
			ThresholdPct: a.cfg.Alert.ThresholdPct,
			Cooldown:     time.Duration(a.cfg.Alert.CooldownMinutes) * time.Minute,
		}, a.logger),
		retention: pipeline.NewRetention(
			deps.GapStore, deps.Archiver, deps.AuditStore, deps.LockManager, deps.Notifier,
			a.cfg.Retention.Days, loc, deps.Metrics, a.logger,
		),
	}, nil
}

// LiveMode runs the scheduled evaluation cycles, baseline refreshes, and
// retention sweeps, delivers alerts to the signal bus, and serves the
// operations API when enabled.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	m, err := a.buildMonitor(deps)
	if err != nil {
		return fmt.Errorf("live mode: %w", err)
	}
	baselineCron, err := pipeline.ParseCron(a.cfg.Baseline.RefreshCron)
	if err != nil {
		return fmt.Errorf("live mode: baseline cron: %w", err)
	}
	retentionCron, err := pipeline.ParseCron(a.cfg.Retention.Cron)
	if err != nil {
		return fmt.Errorf("live mode: retention cron: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	emitter := alert.NewEmitter(deps.SignalBus, a.cfg.Alert.EmitBuffer, deps.Metrics, a.logger)
	g.Go(func() error {
		return emitter.Run(ctx)
	})

	engine := alert.NewEngine(m.baselines, m.configs, alert.NewCooldown(), deps.AlertStore, emitter, deps.Metrics, a.logger)
	if err := engine.WarmStart(ctx, a.cfg.Alert.WarmLookback.Duration); err != nil {
		a.logger.WarnContext(ctx, "cooldown warm start failed, starting cold",
			slog.String("error", err.Error()),
		)
	}

	evaluator := pipeline.NewEvaluator(
		m.instruments, deps.Ticks, m.aligner, deps.GapStore, engine,
		deps.LockManager, deps.Notifier,
		pipeline.EvaluatorConfig{
			Lookback:     a.cfg.Alignment.LiveLookback.Duration,
			CycleTimeout: a.cfg.Schedule.CycleTimeout.Duration,
			Concurrency:  a.cfg.Schedule.Concurrency,
			LockTTL:      a.cfg.Schedule.LockTTL.Duration,
			Location:     m.session.Location,
		},
		deps.Metrics, a.logger,
	)
	cycle := newPublishingCycle(evaluator, deps.SignalBus, a.logger)

	scheduler := pipeline.NewScheduler(cycle, m.baselines, m.retention, pipeline.SchedulerConfig{
		CycleInterval: a.cfg.Schedule.CycleInterval.Duration,
		Session:       m.session,
		BaselineCron:  baselineCron,
		RetentionCron: retentionCron,
	}, a.logger)
	g.Go(func() error {
		return scheduler.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, m, cycle)
	}

	return g.Wait()
}

// BackfillMode rebuilds gap observations for the configured date range and
// exits.
func (a *App) BackfillMode(ctx context.Context, deps *Dependencies) error {
	m, err := a.buildMonitor(deps)
	if err != nil {
		return fmt.Errorf("backfill mode: %w", err)
	}
	from, to, err := a.cfg.BackfillRange(m.session.Location)
	if err != nil {
		return fmt.Errorf("backfill mode: %w", err)
	}
	a.logger.InfoContext(ctx, "starting backfill mode",
		slog.String("from", from.Format(time.DateOnly)),
		slog.String("to", to.Format(time.DateOnly)),
	)

	backfiller := pipeline.NewBackfiller(
		m.instruments, deps.Ticks, m.aligner, deps.GapStore, deps.AuditStore,
		m.session, deps.Metrics, a.logger,
	)
	report, err := backfiller.Backfill(ctx, from, to)
	a.logger.InfoContext(ctx, "backfill finished",
		slog.Int("days", report.Days),
		slog.Int("observations", report.Observations),
		slog.Int("failed", report.Failed),
	)
	if err != nil {
		return fmt.Errorf("backfill mode: %w", err)
	}
	return nil
}

// RefreshMode rebuilds the baseline snapshot once and exits. It is useful to
// check the baseline query against a populated store.
func (a *App) RefreshMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting refresh mode")
	m, err := a.buildMonitor(deps)
	if err != nil {
		return fmt.Errorf("refresh mode: %w", err)
	}
	n, err := m.baselines.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh mode: %w", err)
	}
	a.logger.InfoContext(ctx, "baselines refreshed", slog.Int("entries", n))
	return nil
}

// SweepMode runs one retention sweep and exits.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")
	m, err := a.buildMonitor(deps)
	if err != nil {
		return fmt.Errorf("sweep mode: %w", err)
	}
	report, err := m.retention.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep mode: %w", err)
	}
	a.logger.InfoContext(ctx, "sweep finished",
		slog.Time("cutoff", report.Cutoff),
		slog.Int64("archived", report.Archived),
		slog.Int64("deleted", report.Deleted),
	)
	return nil
}

// startHTTPServer serves health, metrics, operator triggers, and the alert
// stream until ctx is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	m *monitor,
	cycle *publishingCycle,
) {
	startedAt := time.Now().UTC()
	hub := ws.NewHub(deps.SignalBus, func() map[string]any {
		status := map[string]any{
			"mode":             a.cfg.Mode,
			"started_at":       startedAt.Format(time.RFC3339),
			"baseline_entries": m.baselines.Len(),
		}
		if last, ok := cycle.Last(); ok {
			status["last_cycle"] = last
		}
		return status
	}, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	checks := make(map[string]handler.Checker, len(deps.Checks))
	for name, fn := range deps.Checks {
		checks[name] = fn
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, checks, m.baselines, a.logger),
		Ops:    handler.NewOpsHandler(cycle, m.baselines, m.configs, deps.AuditStore,
			a.cfg.Schedule.CycleTimeout.Duration, a.logger),
	}, hub, deps.Registry, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// publishingCycle runs evaluation cycles and publishes each report on the
// status channel.
type publishingCycle struct {
	inner  pipeline.CycleRunner
	bus    domain.SignalBus
	logger *slog.Logger

	mu   sync.RWMutex
	last *pipeline.CycleReport
}

func newPublishingCycle(inner pipeline.CycleRunner, bus domain.SignalBus, logger *slog.Logger) *publishingCycle {
	return &publishingCycle{inner: inner, bus: bus, logger: logger}
}

// EvaluateCycle runs one cycle. Cycles that never started (lock held or no
// instruments listed) are not published.
func (p *publishingCycle) EvaluateCycle(ctx context.Context) (pipeline.CycleReport, error) {
	report, err := p.inner.EvaluateCycle(ctx)
	if report.Instruments == 0 {
		return report, err
	}

	p.mu.Lock()
	p.last = &report
	p.mu.Unlock()

	data, merr := json.Marshal(map[string]any{
		"type":    "cycle_report",
		"payload": report,
	})
	if merr == nil {
		if perr := p.bus.Publish(ctx, ws.ChannelStatus, data); perr != nil {
			p.logger.WarnContext(ctx, "publish cycle report failed",
				slog.String("error", perr.Error()),
			)
		}
	}
	return report, err
}

// Last returns the most recent published report.
func (p *publishingCycle) Last() (pipeline.CycleReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return pipeline.CycleReport{}, false
	}
	return *p.last, true
}
