package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

// AlertConfigStore implements domain.AlertConfigStore on alert_configs.
type AlertConfigStore struct {
	pool *pgxpool.Pool
}

// NewAlertConfigStore creates a new AlertConfigStore backed by the given connection pool.
func NewAlertConfigStore(pool *pgxpool.Pool) *AlertConfigStore {
	return &AlertConfigStore{pool: pool}
}

var _ domain.AlertConfigStore = (*AlertConfigStore)(nil)

const alertConfigCols = `instrument_id, threshold_pct, cooldown_minutes, active, updated_at`

// InstrumentConfig returns the override for one instrument.
func (s *AlertConfigStore) InstrumentConfig(ctx context.Context, instrumentID int64) (domain.AlertConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+alertConfigCols+` FROM alert_configs WHERE instrument_id = $1`, instrumentID)
	cfg, err := scanAlertConfig(row)
	if err != nil {
		return domain.AlertConfig{}, fmt.Errorf("postgres: alert config for %d: %w", instrumentID, err)
	}
	return cfg, nil
}

// GlobalConfig returns the rule with no instrument.
func (s *AlertConfigStore) GlobalConfig(ctx context.Context) (domain.AlertConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+alertConfigCols+` FROM alert_configs WHERE instrument_id IS NULL`)
	cfg, err := scanAlertConfig(row)
	if err != nil {
		return domain.AlertConfig{}, fmt.Errorf("postgres: global alert config: %w", err)
	}
	return cfg, nil
}

func scanAlertConfig(row pgx.Row) (domain.AlertConfig, error) {
	var cfg domain.AlertConfig
	var threshold *float64
	var cooldown *int32
	if err := row.Scan(&cfg.InstrumentID, &threshold, &cooldown, &cfg.Active, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AlertConfig{}, domain.ErrNotFound
		}
		return domain.AlertConfig{}, err
	}
	if threshold != nil {
		cfg.ThresholdPct = *threshold
	}
	if cooldown != nil {
		cfg.CooldownMinutes = int(*cooldown)
	}
	return cfg, nil
}
