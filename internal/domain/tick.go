package domain

import "time"

// Tick is one trade print of a single contract.
type Tick struct {
	Timestamp    time.Time
	Price        float64
	Volume       int64
	Bid          float64
	Ask          float64
	OpenInterest int64
}

// LegSeries holds the time-ordered ticks of each leg of one instrument.
// A nil or empty slice means the leg is absent.
type LegSeries struct {
	Near []Tick
	Next []Tick
	Far  []Tick
}

// Get returns the series for the given rank.
func (s LegSeries) Get(rank LegRank) []Tick {
	switch rank {
	case LegNear:
		return s.Near
	case LegNext:
		return s.Next
	case LegFar:
		return s.Far
	}
	return nil
}

// Set replaces the series for the given rank.
func (s *LegSeries) Set(rank LegRank, ticks []Tick) {
	switch rank {
	case LegNear:
		s.Near = ticks
	case LegNext:
		s.Next = ticks
	case LegFar:
		s.Far = ticks
	}
}

// AlignedPoint is a set of same-moment ticks across legs. Nil legs did not
// participate in any gap for this point.
type AlignedPoint struct {
	Near *Tick
	Next *Tick
	Far  *Tick
}
