package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

// LegStore implements domain.LegDirectory over instruments and their legs.
type LegStore struct {
	pool *pgxpool.Pool
}

// NewLegStore creates a new LegStore backed by the given connection pool.
func NewLegStore(pool *pgxpool.Pool) *LegStore {
	return &LegStore{pool: pool}
}

var _ domain.LegDirectory = (*LegStore)(nil)

// ListActiveLegs returns every contract of every active instrument.
func (s *LegStore) ListActiveLegs(ctx context.Context) ([]domain.LegListing, error) {
	const query = `
		SELECT l.instrument_id, i.name, l.symbol, l.contract_id, l.expiry
		FROM instrument_legs l
		JOIN instruments i ON i.id = l.instrument_id
		WHERE i.active
		ORDER BY l.instrument_id, l.expiry, l.symbol`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active legs: %w", err)
	}
	defer rows.Close()

	var out []domain.LegListing
	for rows.Next() {
		var l domain.LegListing
		if err := rows.Scan(&l.InstrumentID, &l.InstrumentName, &l.Symbol, &l.ContractID, &l.Expiry); err != nil {
			return nil, fmt.Errorf("postgres: scan leg: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active legs rows: %w", err)
	}
	return out, nil
}
