package alert

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviation(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		baseline float64
		want     float64
	}{
		{"double", 2, 1, 100},
		{"negative baseline", -1, -2, 50},
		{"unchanged", 3.5, 3.5, 0},
		{"sign flip", -1, 1, 200},
		{"zero baseline", 5, 0, 0},
		{"nan current", math.NaN(), 1, 0},
		{"inf baseline", 1, math.Inf(1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Deviation(tt.current, tt.baseline), 1e-9)
		})
	}
}

func TestDeviation_SymmetricAroundBaseline(t *testing.T) {
	b := 4.0
	for _, d := range []float64{0.1, 1, 2.5, 10} {
		assert.InDelta(t, Deviation(b+d, b), Deviation(b-d, b), 1e-9)
	}
}

func TestDeviation_NeverNegative(t *testing.T) {
	for _, c := range []float64{-10, -1, 0, 1, 10} {
		for _, b := range []float64{-3, -0.5, 0.5, 3} {
			assert.GreaterOrEqual(t, Deviation(c, b), 0.0)
		}
	}
}

func TestRoundPercent(t *testing.T) {
	assert.InDelta(t, 33.33, RoundPercent(100.0/3), 1e-9)
	assert.InDelta(t, 66.67, RoundPercent(200.0/3), 1e-9)
	assert.InDelta(t, 15.0, RoundPercent(15), 1e-9)
	assert.Zero(t, RoundPercent(math.NaN()))
}
