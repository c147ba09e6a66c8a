package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

// InstrumentService turns the leg directory into ranked instruments.
type InstrumentService struct {
	legs   domain.LegDirectory
	loc    *time.Location
	logger *slog.Logger
}

// NewInstrumentService creates an InstrumentService. Expiry comparisons are
// made in loc.
func NewInstrumentService(legs domain.LegDirectory, loc *time.Location, logger *slog.Logger) *InstrumentService {
	if loc == nil {
		loc = time.UTC
	}
	return &InstrumentService{legs: legs, loc: loc, logger: logger}
}

// ActiveInstruments returns every instrument with its unexpired legs ranked
// near/next/far as of asOf, ordered by instrument ID.
func (s *InstrumentService) ActiveInstruments(ctx context.Context, asOf time.Time) ([]domain.Instrument, error) {
	listings, err := s.legs.ListActiveLegs(ctx)
	if err != nil {
		return nil, fmt.Errorf("instrument_service: list legs: %w", err)
	}

	byID := make(map[int64][]domain.LegListing)
	names := make(map[int64]string)
	for _, l := range listings {
		byID[l.InstrumentID] = append(byID[l.InstrumentID], l)
		names[l.InstrumentID] = l.InstrumentName
	}

	out := make([]domain.Instrument, 0, len(byID))
	for id, ls := range byID {
		inst := domain.Instrument{ID: id, Name: names[id], Legs: RankLegs(ls, asOf.In(s.loc))}
		if len(inst.Legs) == 0 {
			s.logger.WarnContext(ctx, "instrument_service: no live contracts",
				slog.Int64("instrument_id", id),
				slog.String("instrument", inst.Name),
			)
			continue
		}
		out = append(out, inst)
	}
	slices.SortFunc(out, func(a, b domain.Instrument) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// RankLegs drops contracts that expired before asOf's date and ranks the
// three soonest as near, next and far. Ties on expiry order by symbol.
func RankLegs(listings []domain.LegListing, asOf time.Time) []domain.Leg {
	today := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())

	live := make([]domain.LegListing, 0, len(listings))
	for _, l := range listings {
		exp := time.Date(l.Expiry.Year(), l.Expiry.Month(), l.Expiry.Day(), 0, 0, 0, 0, asOf.Location())
		if exp.Before(today) {
			continue
		}
		live = append(live, l)
	}
	slices.SortFunc(live, func(a, b domain.LegListing) int {
		if c := a.Expiry.Compare(b.Expiry); c != 0 {
			return c
		}
		switch {
		case a.Symbol < b.Symbol:
			return -1
		case a.Symbol > b.Symbol:
			return 1
		}
		return 0
	})

	ranks := []domain.LegRank{domain.LegNear, domain.LegNext, domain.LegFar}
	legs := make([]domain.Leg, 0, len(ranks))
	for i, l := range live {
		if i >= len(ranks) {
			break
		}
		legs = append(legs, domain.Leg{
			Rank:       ranks[i],
			Symbol:     l.Symbol,
			ContractID: l.ContractID,
			Expiry:     l.Expiry,
		})
	}
	return legs
}
