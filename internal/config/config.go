// Package config defines the top-level configuration for spreadwatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SPREADWATCH_* environment variables.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Vendor    VendorConfig    `toml:"vendor"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Alignment AlignmentConfig `toml:"alignment"`
	Baseline  BaselineConfig  `toml:"baseline"`
	Alert     AlertConfig     `toml:"alert"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	Retention RetentionConfig `toml:"retention"`
	Backfill  BackfillConfig  `toml:"backfill"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime Duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	DialTimeout Duration `toml:"dial_timeout"`
}

// S3Config holds S3-compatible object storage parameters. Archiving is off
// unless Enabled is set.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// VendorConfig holds the tick-history API endpoint and credentials.
type VendorConfig struct {
	BaseURL         string   `toml:"base_url"`
	APIKey          string   `toml:"api_key"`
	APISecret       string   `toml:"api_secret"`
	AccessToken     string   `toml:"access_token"`
	Timeout         Duration `toml:"timeout"`
	MaxAuthAttempts int      `toml:"max_auth_attempts"`
	AuthBackoff     Duration `toml:"auth_backoff"`
}

// RateLimitConfig selects the call budget backend and its limits.
type RateLimitConfig struct {
	// Backend is "memory" (one process) or "redis" (shared across replicas).
	Backend   string `toml:"backend"`
	PerSecond int    `toml:"per_second"`
	PerMinute int    `toml:"per_minute"`
	PerHour   int    `toml:"per_hour"`
}

// AlignmentConfig holds leg alignment tunables.
type AlignmentConfig struct {
	Tolerance Duration `toml:"tolerance"`
	MinVolume int64    `toml:"min_volume"`
	SampleCap int      `toml:"sample_cap"`
	// LiveLookback is how far back a live cycle fetches ticks per leg.
	LiveLookback Duration `toml:"live_lookback"`
}

// BaselineConfig holds the baseline window and refresh schedule.
type BaselineConfig struct {
	MinDays     int    `toml:"min_days"`
	MaxDays     int    `toml:"max_days"`
	RefreshCron string `toml:"refresh_cron"`
}

// AlertConfig holds the fallback threshold and cooldown used when no stored
// rule applies.
type AlertConfig struct {
	ThresholdPct    float64  `toml:"threshold_pct"`
	CooldownMinutes int      `toml:"cooldown_minutes"`
	EmitBuffer      int      `toml:"emit_buffer"`
	WarmLookback    Duration `toml:"warm_lookback"`
}

// ScheduleConfig holds the live cycle driver settings.
type ScheduleConfig struct {
	Timezone      string   `toml:"timezone"`
	SessionStart  string   `toml:"session_start"`
	SessionEnd    string   `toml:"session_end"`
	CycleInterval Duration `toml:"cycle_interval"`
	CycleTimeout  Duration `toml:"cycle_timeout"`
	Concurrency   int      `toml:"concurrency"`
	LockTTL       Duration `toml:"lock_ttl"`
}

// RetentionConfig holds the gap observation sweep settings.
type RetentionConfig struct {
	Days int    `toml:"days"`
	Cron string `toml:"cron"`
}

// BackfillConfig holds the one-shot backfill range. Dates are YYYY-MM-DD.
type BackfillConfig struct {
	From string `toml:"from"`
	To   string `toml:"to"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Throttle          Duration `toml:"throttle"`
}

// Duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "spreadwatch",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: Duration{time.Hour},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: Duration{5 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "spreadwatch-archive",
			ForcePathStyle: true,
		},
		Vendor: VendorConfig{
			BaseURL:         "https://api.kite.trade",
			Timeout:         Duration{15 * time.Second},
			MaxAuthAttempts: 3,
			AuthBackoff:     Duration{time.Second},
		},
		RateLimit: RateLimitConfig{
			Backend:   RateLimitMemory,
			PerSecond: 5,
			PerMinute: 300,
			PerHour:   18000,
		},
		Alignment: AlignmentConfig{
			Tolerance:    Duration{15 * time.Second},
			MinVolume:    10,
			SampleCap:    30,
			LiveLookback: Duration{5 * time.Minute},
		},
		Baseline: BaselineConfig{
			MinDays:     1,
			MaxDays:     20,
			RefreshCron: "30 8 * * 1-5",
		},
		Alert: AlertConfig{
			ThresholdPct:    15,
			CooldownMinutes: 30,
			EmitBuffer:      256,
			WarmLookback:    Duration{24 * time.Hour},
		},
		Schedule: ScheduleConfig{
			Timezone:      "Asia/Kolkata",
			SessionStart:  "09:15",
			SessionEnd:    "15:30",
			CycleInterval: Duration{5 * time.Minute},
			CycleTimeout:  Duration{4 * time.Minute},
			Concurrency:   4,
			LockTTL:       Duration{5 * time.Minute},
		},
		Retention: RetentionConfig{
			Days: 20,
			Cron: "0 2 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events:   []string{"auth_exhausted", "cycle_failed", "sweep_failed"},
			Throttle: Duration{15 * time.Minute},
		},
		Mode:     ModeLive,
		LogLevel: "info",
	}
}

// Operating modes.
const (
	ModeLive     = "live"
	ModeBackfill = "backfill"
	ModeRefresh  = "refresh"
	ModeSweep    = "sweep"
)

// Rate limit backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeLive:     true,
	ModeBackfill: true,
	ModeRefresh:  true,
	ModeSweep:    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Location loads the schedule time zone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BackfillRange parses the backfill dates in loc.
func (c *Config) BackfillRange(loc *time.Location) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(time.DateOnly, c.Backfill.From, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backfill.from: %w", err)
	}
	to, err := time.ParseInLocation(time.DateOnly, c.Backfill.To, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backfill.to: %w", err)
	}
	return from, to, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, backfill, refresh, sweep)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Vendor
	if c.Vendor.BaseURL == "" {
		errs = append(errs, "vendor: base_url must not be empty")
	}
	if c.Vendor.AccessToken == "" && (c.Vendor.APIKey == "" || c.Vendor.APISecret == "") {
		if mode == ModeLive || mode == ModeBackfill {
			errs = append(errs, "vendor: access_token or api_key and api_secret are required for mode "+c.Mode)
		}
	}
	if c.Vendor.MaxAuthAttempts < 1 {
		errs = append(errs, "vendor: max_auth_attempts must be >= 1")
	}

	// Rate limit
	switch c.RateLimit.Backend {
	case RateLimitMemory, RateLimitRedis:
	default:
		errs = append(errs, fmt.Sprintf("rate_limit: unknown backend %q (valid: memory, redis)", c.RateLimit.Backend))
	}
	if c.RateLimit.PerSecond < 1 || c.RateLimit.PerMinute < 1 || c.RateLimit.PerHour < 1 {
		errs = append(errs, "rate_limit: per_second, per_minute and per_hour must be >= 1")
	}

	// Alignment
	if c.Alignment.Tolerance.Duration <= 0 {
		errs = append(errs, "alignment: tolerance must be > 0")
	}
	if c.Alignment.MinVolume < 0 {
		errs = append(errs, "alignment: min_volume must be >= 0")
	}
	if c.Alignment.SampleCap < 1 {
		errs = append(errs, "alignment: sample_cap must be >= 1")
	}
	if c.Alignment.LiveLookback.Duration <= 0 {
		errs = append(errs, "alignment: live_lookback must be > 0")
	}

	// Baseline
	if c.Baseline.MinDays < 1 || c.Baseline.MaxDays < 1 {
		errs = append(errs, "baseline: min_days and max_days must be >= 1")
	}
	if err := checkCron(c.Baseline.RefreshCron); err != nil {
		errs = append(errs, "baseline: refresh_cron: "+err.Error())
	}

	// Alert
	if c.Alert.ThresholdPct <= 0 {
		errs = append(errs, "alert: threshold_pct must be > 0")
	}
	if c.Alert.CooldownMinutes < 0 {
		errs = append(errs, "alert: cooldown_minutes must be >= 0")
	}

	// Schedule
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("schedule: unknown timezone %q", c.Schedule.Timezone))
	}
	start, errStart := time.Parse("15:04", c.Schedule.SessionStart)
	end, errEnd := time.Parse("15:04", c.Schedule.SessionEnd)
	if errStart != nil || errEnd != nil {
		errs = append(errs, "schedule: session_start and session_end must be HH:MM")
	} else if !start.Before(end) {
		errs = append(errs, "schedule: session_start must be before session_end")
	}
	if c.Schedule.CycleInterval.Duration <= 0 {
		errs = append(errs, "schedule: cycle_interval must be > 0")
	}
	if c.Schedule.CycleTimeout.Duration <= 0 {
		errs = append(errs, "schedule: cycle_timeout must be > 0")
	}
	if c.Schedule.Concurrency < 1 {
		errs = append(errs, "schedule: concurrency must be >= 1")
	}

	// Retention
	if c.Retention.Days < 1 {
		errs = append(errs, "retention: days must be >= 1")
	}
	if err := checkCron(c.Retention.Cron); err != nil {
		errs = append(errs, "retention: cron: "+err.Error())
	}

	// Backfill
	if mode == "backfill" {
		from, to, err := c.BackfillRange(time.UTC)
		if err != nil {
			errs = append(errs, "backfill: "+err.Error())
		} else if to.Before(from) {
			errs = append(errs, "backfill: to must not be before from")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// checkCron does a shape check of a 5-field cron expression. The scheduler
// parses the fields fully.
func checkCron(expr string) error {
	if n := len(strings.Fields(expr)); n != 5 {
		return fmt.Errorf("expected 5 fields, got %d", n)
	}
	return nil
}
