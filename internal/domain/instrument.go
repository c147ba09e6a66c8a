package domain

import "time"

// LegRank is a contract's position in an instrument's expiry ladder.
type LegRank int

const (
	LegNear LegRank = iota
	LegNext
	LegFar
)

// String returns the lower-case rank name.
func (r LegRank) String() string {
	switch r {
	case LegNear:
		return "near"
	case LegNext:
		return "next"
	case LegFar:
		return "far"
	default:
		return "unknown"
	}
}

// Leg is one futures contract on an instrument.
type Leg struct {
	Rank       LegRank
	Symbol     string
	ContractID int64
	Expiry     time.Time
}

// Instrument is an underlying with up to three ranked legs, ordered near to far.
type Instrument struct {
	ID   int64
	Name string
	Legs []Leg
}

// Leg returns the leg with the given rank, if the instrument has one.
func (i Instrument) Leg(rank LegRank) (Leg, bool) {
	for _, l := range i.Legs {
		if l.Rank == rank {
			return l, true
		}
	}
	return Leg{}, false
}

// LegListing is an unranked contract row as held by the leg directory.
type LegListing struct {
	InstrumentID   int64
	InstrumentName string
	Symbol         string
	ContractID     int64
	Expiry         time.Time
}
