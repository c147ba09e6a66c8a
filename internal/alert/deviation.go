// Package alert decides when a gap has moved far enough from its baseline
// to notify, and delivers the resulting alerts.
package alert

import (
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Deviation returns |current - baseline| / |baseline| * 100. A zero or
// non-finite input yields 0.
func Deviation(current, baseline float64) float64 {
	if baseline == 0 || !finite(current) || !finite(baseline) {
		return 0
	}
	c := decimal.NewFromFloat(current)
	b := decimal.NewFromFloat(baseline)
	return c.Sub(b).Abs().Div(b.Abs()).Mul(hundred).InexactFloat64()
}

// RoundPercent rounds a deviation to two decimals for storage.
func RoundPercent(v float64) float64 {
	if !finite(v) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
