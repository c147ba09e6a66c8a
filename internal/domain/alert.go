package domain

import "time"

// AlertType names which gap deviated.
type AlertType string

const (
	AlertGap1 AlertType = "gap_1"
	AlertGap2 AlertType = "gap_2"
)

// Alert is a persisted deviation event.
type Alert struct {
	ID             string
	InstrumentID   int64
	InstrumentName string
	TimeSlot       string
	Type           AlertType
	CurrentValue   float64
	BaselineValue  float64
	DeviationPct   float64
	TriggeredAt    time.Time
}

// AlertConfig is an alerting rule row. A nil InstrumentID marks the global
// rule. Zero ThresholdPct or CooldownMinutes means "not set at this level".
type AlertConfig struct {
	InstrumentID    *int64
	ThresholdPct    float64
	CooldownMinutes int
	Active          bool
	UpdatedAt       time.Time
}
