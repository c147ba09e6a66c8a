package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadwatch/internal/config"
	"github.com/alanyoungcy/spreadwatch/internal/metrics"
	"github.com/alanyoungcy/spreadwatch/internal/pipeline"
	"github.com/alanyoungcy/spreadwatch/internal/ratelimit"
	"github.com/alanyoungcy/spreadwatch/internal/server/ws"
)

type recordingBus struct {
	published map[string][][]byte
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

type scriptedCycle struct {
	report pipeline.CycleReport
	err    error
}

func (s scriptedCycle) EvaluateCycle(context.Context) (pipeline.CycleReport, error) {
	return s.report, s.err
}

func TestPublishingCycle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := &recordingBus{}
	inner := scriptedCycle{report: pipeline.CycleReport{
		StartedAt:   time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC),
		Instruments: 2,
		Processed:   2,
		Skipped:     map[string]int{},
	}}
	p := newPublishingCycle(inner, bus, logger)

	_, ok := p.Last()
	assert.False(t, ok)

	report, err := p.EvaluateCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)

	require.Len(t, bus.published[ws.ChannelStatus], 1)
	var msg struct {
		Type    string               `json:"type"`
		Payload pipeline.CycleReport `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(bus.published[ws.ChannelStatus][0], &msg))
	assert.Equal(t, "cycle_report", msg.Type)
	assert.Equal(t, 2, msg.Payload.Instruments)

	last, ok := p.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last.Processed)
}

func TestPublishingCycle_SkipsCyclesThatNeverStarted(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := &recordingBus{}
	p := newPublishingCycle(scriptedCycle{
		report: pipeline.CycleReport{Skipped: map[string]int{}},
		err:    errors.New("pipeline: acquire cycle lock: lock held"),
	}, bus, logger)

	_, err := p.EvaluateCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, bus.published)
	_, ok := p.Last()
	assert.False(t, ok)
}

func TestRateWindows(t *testing.T) {
	got := rateWindows(config.RateLimitConfig{PerSecond: 5, PerMinute: 0, PerHour: 18000})
	assert.Equal(t, []ratelimit.Window{
		{Span: time.Second, Limit: 5},
		{Span: time.Hour, Limit: 18000},
	}, got)
}

func TestNewCallGate_Memory(t *testing.T) {
	gate := newCallGate(config.RateLimitConfig{
		Backend:   config.RateLimitMemory,
		PerSecond: 5,
		PerMinute: 300,
		PerHour:   18000,
	}, nil, metrics.NewUnregistered())

	_, isMemory := gate.(*ratelimit.Limiter)
	assert.True(t, isMemory)
	require.NoError(t, gate.Wait(context.Background()))
}

func TestNeedsVendor(t *testing.T) {
	assert.True(t, needsVendor(config.ModeLive))
	assert.True(t, needsVendor(config.ModeBackfill))
	assert.False(t, needsVendor(config.ModeRefresh))
	assert.False(t, needsVendor(config.ModeSweep))
}
