package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

// AlertStore implements domain.AlertStore on the spread_alerts table.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

var _ domain.AlertStore = (*AlertStore)(nil)

// Insert persists a triggered alert.
func (s *AlertStore) Insert(ctx context.Context, a domain.Alert) error {
	const query = `
		INSERT INTO spread_alerts (
			id, instrument_id, instrument_name, time_slot, alert_type,
			current_value, baseline_value, deviation_percent, triggered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.InstrumentID, a.InstrumentName, a.TimeSlot, string(a.Type),
		a.CurrentValue, a.BaselineValue, a.DeviationPct, a.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert alert %s: %w", a.ID, err)
	}
	return nil
}

// LatestTriggered returns the newest alert per (instrument, alert type)
// triggered at or after since.
func (s *AlertStore) LatestTriggered(ctx context.Context, since time.Time) ([]domain.Alert, error) {
	const query = `
		SELECT DISTINCT ON (instrument_id, alert_type)
			id::text, instrument_id, instrument_name, time_slot, alert_type,
			current_value, baseline_value, deviation_percent, triggered_at
		FROM spread_alerts
		WHERE triggered_at >= $1
		ORDER BY instrument_id, alert_type, triggered_at DESC`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var typ string
		if err := rows.Scan(
			&a.ID, &a.InstrumentID, &a.InstrumentName, &a.TimeSlot, &typ,
			&a.CurrentValue, &a.BaselineValue, &a.DeviationPct, &a.TriggeredAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		a.Type = domain.AlertType(typ)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: latest alerts rows: %w", err)
	}
	return out, nil
}
