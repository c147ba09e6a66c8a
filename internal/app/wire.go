package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/spreadwatch/internal/blob/s3"
	"github.com/alanyoungcy/spreadwatch/internal/cache/redis"
	"github.com/alanyoungcy/spreadwatch/internal/config"
	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/metrics"
	"github.com/alanyoungcy/spreadwatch/internal/notify"
	"github.com/alanyoungcy/spreadwatch/internal/platform/vendor"
	"github.com/alanyoungcy/spreadwatch/internal/ratelimit"
	"github.com/alanyoungcy/spreadwatch/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Stores
	GapStore         domain.GapStore
	AlertStore       domain.AlertStore
	AlertConfigStore domain.AlertConfigStore
	LegDirectory     domain.LegDirectory
	AuditStore       domain.AuditStore

	// Caches
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Vendor (live and backfill only)
	Ticks domain.TickSource

	// Blob storage (when s3.enabled)
	Archiver domain.Archiver

	Notifier *notify.Notifier

	// Checks are the dependency probes served by the health endpoint.
	Checks map[string]func(ctx context.Context) error
}

// needsVendor returns true for modes that fetch ticks.
func needsVendor(mode string) bool {
	return mode == config.ModeLive || mode == config.ModeBackfill
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps := &Dependencies{
		Registry: reg,
		Metrics:  metrics.New(reg),
		Checks:   make(map[string]func(ctx context.Context) error),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:             cfg.Database.DSN,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.PoolMaxConns,
		MinConns:        cfg.Database.PoolMinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime.Duration,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Checks["postgres"] = pgClient.Ping

	if cfg.Database.RunMigrations {
		applied, err := pgClient.RunMigrations(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.InfoContext(ctx, "applied migrations", slog.Any("files", applied))
		}
	}

	pool := pgClient.Pool()
	deps.GapStore = postgres.NewGapStore(pool)
	deps.AlertStore = postgres.NewAlertStore(pool)
	deps.AlertConfigStore = postgres.NewAlertConfigStore(pool)
	deps.LegDirectory = postgres.NewLegStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		MaxRetries:  cfg.Redis.MaxRetries,
		TLSEnabled:  cfg.Redis.TLSEnabled,
		DialTimeout: cfg.Redis.DialTimeout.Duration,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Checks["redis"] = redisClient.Ping

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Vendor tick source ---
	if needsVendor(cfg.Mode) {
		gate := newCallGate(cfg.RateLimit, redisClient, deps.Metrics)
		deps.Ticks = vendor.NewClient(vendor.Config{
			BaseURL:         cfg.Vendor.BaseURL,
			APIKey:          cfg.Vendor.APIKey,
			APISecret:       cfg.Vendor.APISecret,
			AccessToken:     cfg.Vendor.AccessToken,
			Timeout:         cfg.Vendor.Timeout.Duration,
			MaxAuthAttempts: cfg.Vendor.MaxAuthAttempts,
			AuthBackoff:     cfg.Vendor.AuthBackoff.Duration,
		}, gate, logger)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Checks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.GapStore, deps.AuditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Throttle.Duration, logger)

	return deps, cleanup, nil
}

// rateWindows converts the configured budgets, skipping disabled ones.
func rateWindows(cfg config.RateLimitConfig) []ratelimit.Window {
	var out []ratelimit.Window
	for _, w := range []ratelimit.Window{
		{Span: time.Second, Limit: cfg.PerSecond},
		{Span: time.Minute, Limit: cfg.PerMinute},
		{Span: time.Hour, Limit: cfg.PerHour},
	} {
		if w.Limit > 0 {
			out = append(out, w)
		}
	}
	return out
}

// newCallGate picks the in-process or Redis-backed vendor budget.
func newCallGate(cfg config.RateLimitConfig, rc *redis.Client, m *metrics.Metrics) domain.CallGate {
	windows := rateWindows(cfg)
	if cfg.Backend == config.RateLimitRedis {
		return &observedGate{
			gate:    redis.NewRateLimiter(rc, "vendor", windows),
			observe: func(d time.Duration) { m.RateLimitWait.Observe(d.Seconds()) },
		}
	}
	return ratelimit.New(windows, ratelimit.WithWaitObserver(func(d time.Duration) {
		m.RateLimitWait.Observe(d.Seconds())
	}))
}

// observedGate reports how long each Wait blocked.
type observedGate struct {
	gate    domain.CallGate
	observe func(time.Duration)
}

func (g *observedGate) Wait(ctx context.Context) error {
	start := time.Now()
	err := g.gate.Wait(ctx)
	g.observe(time.Since(start))
	return err
}
