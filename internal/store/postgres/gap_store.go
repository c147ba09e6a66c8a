package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

// Querier is the part of *pgxpool.Pool the gap store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// GapStore implements domain.GapStore on the gap_observations table.
type GapStore struct {
	pool Querier
}

// NewGapStore creates a new GapStore backed by the given connection pool.
func NewGapStore(pool Querier) *GapStore {
	return &GapStore{pool: pool}
}

var _ domain.GapStore = (*GapStore)(nil)

const gapUpsertQuery = `
	INSERT INTO gap_observations (
		instrument_id, obs_date, time_slot,
		gap_1, gap_2, price_1, price_2, price_3, observed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (instrument_id, obs_date, time_slot) DO UPDATE SET
		gap_1 = EXCLUDED.gap_1,
		gap_2 = EXCLUDED.gap_2,
		price_1 = EXCLUDED.price_1,
		price_2 = EXCLUDED.price_2,
		price_3 = EXCLUDED.price_3,
		observed_at = EXCLUDED.observed_at,
		updated_at = NOW()`

const gapSelectCols = `instrument_id, obs_date, time_slot,
	gap_1, gap_2, price_1, price_2, price_3, observed_at`

func gapArgs(o domain.GapObservation) []any {
	return []any{
		o.InstrumentID, o.Date, o.TimeSlot,
		o.Gap1, o.Gap2, o.Price1, o.Price2, o.Price3, o.ObservedAt,
	}
}

// Upsert writes one observation, replacing any row with the same key.
func (s *GapStore) Upsert(ctx context.Context, obs domain.GapObservation) error {
	if _, err := s.pool.Exec(ctx, gapUpsertQuery, gapArgs(obs)...); err != nil {
		return fmt.Errorf("postgres: upsert gap %d %s %s: %w",
			obs.InstrumentID, obs.Date.Format(time.DateOnly), obs.TimeSlot, err)
	}
	return nil
}

// UpsertBatch writes many observations in one round trip.
func (s *GapStore) UpsertBatch(ctx context.Context, obs []domain.GapObservation) error {
	if len(obs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(gapUpsertQuery, gapArgs(o)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range obs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert gap batch item %d: %w", i, err)
		}
	}
	return nil
}

// AggregateBaselines averages both gaps per (instrument, time slot) over
// rows dated in [from, to]. AVG skips NULL gaps, so a slot whose gap was
// never derivable yields a nil mean.
func (s *GapStore) AggregateBaselines(ctx context.Context, from, to time.Time) ([]domain.BaselineEntry, error) {
	const query = `
		SELECT instrument_id, time_slot,
			AVG(gap_1), AVG(gap_2),
			MAX(obs_date), COUNT(DISTINCT obs_date)
		FROM gap_observations
		WHERE obs_date >= $1 AND obs_date <= $2
		GROUP BY instrument_id, time_slot`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: aggregate baselines: %w", err)
	}
	defer rows.Close()

	var out []domain.BaselineEntry
	for rows.Next() {
		var e domain.BaselineEntry
		var days int64
		if err := rows.Scan(&e.InstrumentID, &e.TimeSlot, &e.Gap1, &e.Gap2, &e.BaselineDate, &days); err != nil {
			return nil, fmt.Errorf("postgres: scan baseline: %w", err)
		}
		e.SampleDays = int(days)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: aggregate baselines rows: %w", err)
	}
	return out, nil
}

// ListBefore returns observations dated strictly before the given day,
// oldest first.
func (s *GapStore) ListBefore(ctx context.Context, before time.Time) ([]domain.GapObservation, error) {
	query := `SELECT ` + gapSelectCols + ` FROM gap_observations
		WHERE obs_date < $1 ORDER BY obs_date, instrument_id, time_slot`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list gaps before: %w", err)
	}
	defer rows.Close()

	var out []domain.GapObservation
	for rows.Next() {
		var o domain.GapObservation
		if err := rows.Scan(
			&o.InstrumentID, &o.Date, &o.TimeSlot,
			&o.Gap1, &o.Gap2, &o.Price1, &o.Price2, &o.Price3, &o.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan gap: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteBefore deletes observations dated strictly before the given day.
func (s *GapStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM gap_observations WHERE obs_date < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete gaps before: %w", err)
	}
	return tag.RowsAffected(), nil
}
