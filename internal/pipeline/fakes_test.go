package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/align"
	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAligner() *align.Engine {
	return align.NewEngine(align.DefaultConfig(), rand.New(rand.NewPCG(1, 2)))
}

func instrument(id int64, name string, symbols ...string) domain.Instrument {
	inst := domain.Instrument{ID: id, Name: name}
	for i, s := range symbols {
		inst.Legs = append(inst.Legs, domain.Leg{Rank: domain.LegRank(i), Symbol: s})
	}
	return inst
}

type fakeLister struct {
	instruments []domain.Instrument
	err         error
	calls       int
	asOf        []time.Time
}

func (f *fakeLister) ActiveInstruments(_ context.Context, asOf time.Time) ([]domain.Instrument, error) {
	f.calls++
	f.asOf = append(f.asOf, asOf)
	return f.instruments, f.err
}

type fakeTicks struct {
	mu     sync.Mutex
	ticks  map[string][]domain.Tick
	errs   map[string]error
	block  bool
	called []string
}

func (f *fakeTicks) FetchTicks(ctx context.Context, symbol string, from, to time.Time) ([]domain.Tick, error) {
	f.mu.Lock()
	f.called = append(f.called, symbol)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	var out []domain.Tick
	for _, t := range f.ticks[symbol] {
		if !t.Timestamp.Before(from) && !t.Timestamp.After(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

type gapKey struct {
	id   int64
	date string
	slot string
}

type fakeGaps struct {
	mu         sync.Mutex
	rows       map[gapKey]domain.GapObservation
	failFor    map[int64]bool
	batches    int
	deleteErr  error
	deleted    []time.Time
	deletedCnt int64
}

func newFakeGaps() *fakeGaps {
	return &fakeGaps{rows: make(map[gapKey]domain.GapObservation), failFor: make(map[int64]bool)}
}

func (f *fakeGaps) Upsert(_ context.Context, obs domain.GapObservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[obs.InstrumentID] {
		return fmt.Errorf("upsert %d: %w", obs.InstrumentID, errors.New("connection reset"))
	}
	f.rows[gapKey{obs.InstrumentID, obs.Date.Format(time.DateOnly), obs.TimeSlot}] = obs
	return nil
}

func (f *fakeGaps) UpsertBatch(ctx context.Context, obs []domain.GapObservation) error {
	f.mu.Lock()
	f.batches++
	f.mu.Unlock()
	for _, o := range obs {
		if err := f.Upsert(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeGaps) AggregateBaselines(context.Context, time.Time, time.Time) ([]domain.BaselineEntry, error) {
	return nil, nil
}

func (f *fakeGaps) ListBefore(context.Context, time.Time) ([]domain.GapObservation, error) {
	return nil, nil
}

func (f *fakeGaps) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.deleted = append(f.deleted, before)
	return f.deletedCnt, f.deleteErr
}

func (f *fakeGaps) get(id int64, date, slot string) (domain.GapObservation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[gapKey{id, date, slot}]
	return o, ok
}

type fakeAlerts struct {
	mu    sync.Mutex
	seen  []domain.GapObservation
	fire  int
	err   error
	names []string
}

func (f *fakeAlerts) Evaluate(_ context.Context, obs domain.GapObservation, name string) ([]domain.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, obs)
	f.names = append(f.names, name)
	return make([]domain.Alert, f.fire), f.err
}

type fakeLock struct {
	err      error
	acquired []string
	released int
}

func (f *fakeLock) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired = append(f.acquired, key)
	return func() { f.released++ }, nil
}

type notification struct {
	event, title, message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, event, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{event, title, message})
	return nil
}

type fakeArchiver struct {
	n      int64
	err    error
	before []time.Time
}

func (f *fakeArchiver) ArchiveGapObservations(_ context.Context, before time.Time) (int64, error) {
	f.before = append(f.before, before)
	return f.n, f.err
}

type fakeAudit struct {
	events  []string
	details []map[string]any
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	f.details = append(f.details, detail)
	return nil
}

func (f *fakeAudit) List(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return nil, nil
}
