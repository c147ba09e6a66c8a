package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine *Engine
	store  *fakeAlertStore
	sink   *recordingSink
	clock  time.Time
}

func newEngineFixture(baselines fakeBaselines) *engineFixture {
	f := &engineFixture{
		store: &fakeAlertStore{},
		sink:  &recordingSink{},
		clock: time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
	}
	resolver := NewConfigResolver(&fakeConfigStore{}, defaultThresholds, discardLogger())
	f.engine = NewEngine(baselines, resolver, NewCooldown(), f.store, f.sink, metrics.NewUnregistered(), discardLogger())
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func observation(gap1, gap2 *float64) domain.GapObservation {
	return domain.GapObservation{InstrumentID: 42, TimeSlot: "09:30", Gap1: gap1, Gap2: gap2}
}

func TestEvaluate_BothGapsDeviate(t *testing.T) {
	f := newEngineFixture(fakeBaselines{
		"09:30": {InstrumentID: 42, TimeSlot: "09:30", Gap1: domain.Float(1.0), Gap2: domain.Float(-2.0)},
	})

	// near=100, next=102, far=101
	alerts, err := f.engine.Evaluate(context.Background(), observation(domain.Float(2), domain.Float(-1)), "NIFTY")
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	assert.Equal(t, domain.AlertGap1, alerts[0].Type)
	assert.InDelta(t, 100.0, alerts[0].DeviationPct, 1e-9)
	assert.Equal(t, domain.AlertGap2, alerts[1].Type)
	assert.InDelta(t, 50.0, alerts[1].DeviationPct, 1e-9)
	assert.Equal(t, "NIFTY", alerts[0].InstrumentName)
	assert.NotEmpty(t, alerts[0].ID)

	assert.Len(t, f.store.inserted, 2)
	assert.Len(t, f.sink.alerts, 2)
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	f := newEngineFixture(fakeBaselines{"09:30": {Gap1: domain.Float(10)}})

	alerts, err := f.engine.Evaluate(context.Background(), observation(domain.Float(11.4), nil), "X")
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// Exactly at the threshold fires.
	alerts, err = f.engine.Evaluate(context.Background(), observation(domain.Float(11.5), nil), "X")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestEvaluate_NoBaseline(t *testing.T) {
	f := newEngineFixture(fakeBaselines{})
	alerts, err := f.engine.Evaluate(context.Background(), observation(domain.Float(100), domain.Float(100)), "X")
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, f.store.inserted)
}

func TestEvaluate_ZeroBaselineNeverAlerts(t *testing.T) {
	f := newEngineFixture(fakeBaselines{"09:30": {Gap1: domain.Float(0)}})
	alerts, err := f.engine.Evaluate(context.Background(), observation(domain.Float(50), nil), "X")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestEvaluate_CooldownSuppressesRepeat(t *testing.T) {
	f := newEngineFixture(fakeBaselines{"09:30": {Gap1: domain.Float(1)}})
	ctx := context.Background()
	obs := observation(domain.Float(3), nil)

	alerts, err := f.engine.Evaluate(ctx, obs, "X")
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	f.clock = f.clock.Add(29 * time.Minute)
	alerts, err = f.engine.Evaluate(ctx, obs, "X")
	require.NoError(t, err)
	assert.Empty(t, alerts)

	f.clock = f.clock.Add(time.Minute)
	alerts, err = f.engine.Evaluate(ctx, obs, "X")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Len(t, f.store.inserted, 2)
}

func TestEvaluate_PersistFailureDoesNotStartCooldown(t *testing.T) {
	f := newEngineFixture(fakeBaselines{"09:30": {Gap1: domain.Float(1)}})
	ctx := context.Background()
	obs := observation(domain.Float(3), nil)

	f.store.err = errors.New("insert failed")
	alerts, err := f.engine.Evaluate(ctx, obs, "X")
	require.Error(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, f.sink.alerts)

	f.store.err = nil
	alerts, err = f.engine.Evaluate(ctx, obs, "X")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestWarmStart_SeedsCooldown(t *testing.T) {
	f := newEngineFixture(fakeBaselines{"09:30": {Gap1: domain.Float(1)}})
	f.store.recent = []domain.Alert{
		{InstrumentID: 42, Type: domain.AlertGap1, TriggeredAt: f.clock.Add(-10 * time.Minute)},
	}
	ctx := context.Background()
	require.NoError(t, f.engine.WarmStart(ctx, time.Hour))

	alerts, err := f.engine.Evaluate(ctx, observation(domain.Float(3), nil), "X")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestNewEngine_NilMetrics(t *testing.T) {
	resolver := NewConfigResolver(&fakeConfigStore{}, defaultThresholds, discardLogger())
	sink := &recordingSink{}
	engine := NewEngine(fakeBaselines{"09:30": {Gap1: domain.Float(1)}}, resolver, NewCooldown(),
		&fakeAlertStore{}, sink, nil, discardLogger())

	alerts, err := engine.Evaluate(context.Background(), observation(domain.Float(3), nil), "X")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Len(t, sink.alerts, 1)
}
