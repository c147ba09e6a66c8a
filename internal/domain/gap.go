package domain

import "time"

// GapObservation is one computed spread sample, keyed by
// (InstrumentID, Date, TimeSlot). Nil gaps were not derivable.
type GapObservation struct {
	InstrumentID int64
	Date         time.Time
	TimeSlot     string
	Gap1         *float64
	Gap2         *float64
	Price1       *float64
	Price2       *float64
	Price3       *float64
	ObservedAt   time.Time
}

// BaselineEntry is the historical mean gap for one (instrument, time slot).
type BaselineEntry struct {
	InstrumentID int64
	TimeSlot     string
	Gap1         *float64
	Gap2         *float64
	BaselineDate time.Time
	SampleDays   int
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
