package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SPREADWATCH_* environment variable overrides, and
// returns the final Config. A missing file is not an error; defaults and the
// environment are used alone. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SPREADWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "SPREADWATCH_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "SPREADWATCH_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SPREADWATCH_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SPREADWATCH_DATABASE_NAME")
	setStr(&cfg.Database.User, "SPREADWATCH_DATABASE_USER")
	setStr(&cfg.Database.Password, "SPREADWATCH_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SPREADWATCH_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "SPREADWATCH_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SPREADWATCH_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SPREADWATCH_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SPREADWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SPREADWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SPREADWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SPREADWATCH_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "SPREADWATCH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SPREADWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SPREADWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SPREADWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "SPREADWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SPREADWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SPREADWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SPREADWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SPREADWATCH_S3_FORCE_PATH_STYLE")

	// ── Vendor ──
	setStr(&cfg.Vendor.BaseURL, "SPREADWATCH_VENDOR_BASE_URL")
	setStr(&cfg.Vendor.APIKey, "SPREADWATCH_VENDOR_API_KEY")
	setStr(&cfg.Vendor.APISecret, "SPREADWATCH_VENDOR_API_SECRET")
	setStr(&cfg.Vendor.AccessToken, "SPREADWATCH_VENDOR_ACCESS_TOKEN")
	setDuration(&cfg.Vendor.Timeout, "SPREADWATCH_VENDOR_TIMEOUT")
	setInt(&cfg.Vendor.MaxAuthAttempts, "SPREADWATCH_VENDOR_MAX_AUTH_ATTEMPTS")

	// ── Rate limit ──
	setStr(&cfg.RateLimit.Backend, "SPREADWATCH_RATE_LIMIT_BACKEND")
	setInt(&cfg.RateLimit.PerSecond, "SPREADWATCH_RATE_LIMIT_PER_SECOND")
	setInt(&cfg.RateLimit.PerMinute, "SPREADWATCH_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.RateLimit.PerHour, "SPREADWATCH_RATE_LIMIT_PER_HOUR")

	// ── Alignment ──
	setDuration(&cfg.Alignment.Tolerance, "SPREADWATCH_ALIGNMENT_TOLERANCE")
	setInt64(&cfg.Alignment.MinVolume, "SPREADWATCH_ALIGNMENT_MIN_VOLUME")
	setInt(&cfg.Alignment.SampleCap, "SPREADWATCH_ALIGNMENT_SAMPLE_CAP")
	setDuration(&cfg.Alignment.LiveLookback, "SPREADWATCH_ALIGNMENT_LIVE_LOOKBACK")

	// ── Baseline ──
	setInt(&cfg.Baseline.MinDays, "SPREADWATCH_BASELINE_MIN_DAYS")
	setInt(&cfg.Baseline.MaxDays, "SPREADWATCH_BASELINE_MAX_DAYS")
	setStr(&cfg.Baseline.RefreshCron, "SPREADWATCH_BASELINE_REFRESH_CRON")

	// ── Alert ──
	setFloat64(&cfg.Alert.ThresholdPct, "SPREADWATCH_ALERT_THRESHOLD_PCT")
	setInt(&cfg.Alert.CooldownMinutes, "SPREADWATCH_ALERT_COOLDOWN_MINUTES")

	// ── Schedule ──
	setStr(&cfg.Schedule.Timezone, "SPREADWATCH_SCHEDULE_TIMEZONE")
	setStr(&cfg.Schedule.SessionStart, "SPREADWATCH_SCHEDULE_SESSION_START")
	setStr(&cfg.Schedule.SessionEnd, "SPREADWATCH_SCHEDULE_SESSION_END")
	setDuration(&cfg.Schedule.CycleInterval, "SPREADWATCH_SCHEDULE_CYCLE_INTERVAL")
	setDuration(&cfg.Schedule.CycleTimeout, "SPREADWATCH_SCHEDULE_CYCLE_TIMEOUT")
	setInt(&cfg.Schedule.Concurrency, "SPREADWATCH_SCHEDULE_CONCURRENCY")

	// ── Retention ──
	setInt(&cfg.Retention.Days, "SPREADWATCH_RETENTION_DAYS")
	setStr(&cfg.Retention.Cron, "SPREADWATCH_RETENTION_CRON")

	// ── Backfill ──
	setStr(&cfg.Backfill.From, "SPREADWATCH_BACKFILL_FROM")
	setStr(&cfg.Backfill.To, "SPREADWATCH_BACKFILL_TO")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SPREADWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SPREADWATCH_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SPREADWATCH_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SPREADWATCH_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SPREADWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SPREADWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SPREADWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SPREADWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SPREADWATCH_MODE")
	setStr(&cfg.LogLevel, "SPREADWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
