package align

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeGap_AllLegs(t *testing.T) {
	near := at(0, 100, 20)
	next := at(2*time.Second, 102, 20)
	far := at(time.Second, 101, 20)

	obs, err := ComputeGap(7, domain.AlignedPoint{Near: &near, Next: &next, Far: &far}, time.UTC)
	require.NoError(t, err)

	require.NotNil(t, obs.Gap1)
	require.NotNil(t, obs.Gap2)
	assert.InDelta(t, 2.0, *obs.Gap1, 1e-9)
	assert.InDelta(t, -1.0, *obs.Gap2, 1e-9)
	assert.Equal(t, int64(7), obs.InstrumentID)
	assert.Equal(t, base.Add(2*time.Second), obs.ObservedAt)
	assert.Equal(t, "04:00", obs.TimeSlot)
	assert.InDelta(t, 100.0, *obs.Price1, 1e-9)
	assert.InDelta(t, 102.0, *obs.Price2, 1e-9)
	assert.InDelta(t, 101.0, *obs.Price3, 1e-9)
}

func TestComputeGap_OnlyGap2(t *testing.T) {
	next := at(0, 50, 20)
	far := at(0, 49.5, 20)

	obs, err := ComputeGap(1, domain.AlignedPoint{Next: &next, Far: &far}, time.UTC)
	require.NoError(t, err)
	assert.Nil(t, obs.Gap1)
	assert.Nil(t, obs.Price1)
	require.NotNil(t, obs.Gap2)
	assert.InDelta(t, -0.5, *obs.Gap2, 1e-9)
}

func TestComputeGap_InsufficientLegs(t *testing.T) {
	near := at(0, 100, 20)
	_, err := ComputeGap(1, domain.AlignedPoint{Near: &near}, time.UTC)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientLegs))
}

func TestComputeGap_SlotAndDateInLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	near := domain.Tick{Timestamp: time.Date(2024, 3, 4, 20, 45, 30, 0, time.UTC), Price: 10, Volume: 20}
	next := near
	next.Price = 11

	obs, err := ComputeGap(1, domain.AlignedPoint{Near: &near, Next: &next}, loc)
	require.NoError(t, err)
	assert.Equal(t, "02:15", obs.TimeSlot)
	assert.Equal(t, 5, obs.Date.Day())
	assert.Equal(t, time.March, obs.Date.Month())
}
