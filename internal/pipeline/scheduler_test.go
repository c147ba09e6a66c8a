package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

type countingCycle struct {
	calls atomic.Int32
	err   error
}

func (c *countingCycle) EvaluateCycle(context.Context) (CycleReport, error) {
	c.calls.Add(1)
	return CycleReport{}, c.err
}

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) Refresh(context.Context) (int, error) {
	c.calls.Add(1)
	return 42, c.err
}

func testSchedulerConfig(t *testing.T) SchedulerConfig {
	t.Helper()
	baseline, err := ParseCron("30 8 * * 1-5")
	require.NoError(t, err)
	retention, err := ParseCron("0 2 * * *")
	require.NoError(t, err)
	return SchedulerConfig{
		CycleInterval: 10 * time.Millisecond,
		Session:       utcSession(),
		BaselineCron:  baseline,
		RetentionCron: retention,
	}
}

func runScheduler(t *testing.T, s *Scheduler, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, s.Run(ctx))
}

func TestScheduler_CyclesInsideSession(t *testing.T) {
	cycle := &countingCycle{}
	refresher := &countingRefresher{}
	s := NewScheduler(cycle, refresher, nil, testSchedulerConfig(t), discardLogger())
	s.now = func() time.Time { return time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC) }

	runScheduler(t, s, 100*time.Millisecond)

	assert.GreaterOrEqual(t, cycle.calls.Load(), int32(2))
	// Refreshed once on start; the cron is hours away.
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestScheduler_NoCyclesOutsideSession(t *testing.T) {
	cycle := &countingCycle{}
	refresher := &countingRefresher{}
	s := NewScheduler(cycle, refresher, nil, testSchedulerConfig(t), discardLogger())
	s.now = func() time.Time { return time.Date(2024, 3, 9, 11, 0, 0, 0, time.UTC) }

	runScheduler(t, s, 50*time.Millisecond)

	assert.Zero(t, cycle.calls.Load())
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestScheduler_CycleAndRefreshErrorsDoNotStop(t *testing.T) {
	cycle := &countingCycle{err: domain.ErrLockHeld}
	refresher := &countingRefresher{err: errors.New("db down")}
	s := NewScheduler(cycle, refresher, nil, testSchedulerConfig(t), discardLogger())
	s.now = func() time.Time { return time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC) }

	runScheduler(t, s, 60*time.Millisecond)
	assert.GreaterOrEqual(t, cycle.calls.Load(), int32(2))
}

func TestScheduler_RunCronFires(t *testing.T) {
	sched, err := ParseCron("* * * * *")
	require.NoError(t, err)

	s := NewScheduler(&countingCycle{}, &countingRefresher{}, nil, testSchedulerConfig(t), discardLogger())
	// The fake clock sits just before a minute boundary, so the timer fires
	// almost immediately.
	s.now = func() time.Time { return time.Date(2024, 3, 4, 11, 0, 59, 990_000_000, time.UTC) }

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var fired atomic.Int32
	err = s.runCron(ctx, "test", sched, func(context.Context) { fired.Add(1) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, fired.Load(), int32(1))
}
