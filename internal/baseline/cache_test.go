package baseline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	rows     []domain.BaselineEntry
	err      error
	calls    atomic.Int32
	from, to time.Time
	block    chan struct{}
}

func (f *fakeSource) AggregateBaselines(_ context.Context, from, to time.Time) ([]domain.BaselineEntry, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.from, f.to = from, to
	return f.rows, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(id int64, slot string, gap1 float64, days int) domain.BaselineEntry {
	return domain.BaselineEntry{InstrumentID: id, TimeSlot: slot, Gap1: domain.Float(gap1), SampleDays: days}
}

func TestRefresh_FiltersByMinDays(t *testing.T) {
	src := &fakeSource{rows: []domain.BaselineEntry{
		entry(1, "09:30", 1.5, 5),
		entry(1, "09:31", 2.0, 2),
		entry(2, "09:30", -1.0, 3),
	}}
	c := NewCache(src, Config{MinDays: 3, MaxDays: 20}, metrics.NewUnregistered(), discardLogger())

	n, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, c.Len())

	e, ok := c.Get(1, "09:30")
	require.True(t, ok)
	assert.InDelta(t, 1.5, *e.Gap1, 1e-9)

	_, ok = c.Get(1, "09:31")
	assert.False(t, ok)
	_, ok = c.Get(3, "09:30")
	assert.False(t, ok)
}

func TestRefresh_QueriesLookbackWindow(t *testing.T) {
	src := &fakeSource{}
	loc := time.FixedZone("IST", 5*3600+1800)
	c := NewCache(src, Config{MinDays: 25, MaxDays: 5, Location: loc}, nil, discardLogger())
	c.now = func() time.Time { return time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC) }

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	// Misordered bounds are swapped, so the window is 25 days.
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, loc), src.to)
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, loc), src.from)
}

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	src := &fakeSource{rows: []domain.BaselineEntry{entry(1, "10:00", 0.5, 4)}}
	c := NewCache(src, Config{MinDays: 1, MaxDays: 20}, nil, discardLogger())
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("connection refused")
	src.mu.Unlock()

	_, err = c.Refresh(context.Background())
	require.Error(t, err)
	_, ok := c.Get(1, "10:00")
	assert.True(t, ok)
}

func TestRefresh_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	oldRows := []domain.BaselineEntry{entry(1, "09:30", 1, 5), entry(1, "09:31", 1, 5)}
	newRows := []domain.BaselineEntry{entry(1, "09:30", 2, 5), entry(1, "09:31", 2, 5)}

	src := &fakeSource{rows: oldRows}
	c := NewCache(src, Config{MinDays: 1, MaxDays: 20}, nil, discardLogger())
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.rows = newRows
	src.mu.Unlock()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := c.snap.Load()
				a := snap.entries[key{1, "09:30"}]
				b := snap.entries[key{1, "09:31"}]
				assert.Equal(t, *a.Gap1, *b.Gap1)
			}
		}()
	}

	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	close(stop)
	wg.Wait()

	e, ok := c.Get(1, "09:31")
	require.True(t, ok)
	assert.InDelta(t, 2.0, *e.Gap1, 1e-9)
}

func TestRefresh_CollapsesConcurrentCalls(t *testing.T) {
	src := &fakeSource{rows: []domain.BaselineEntry{entry(1, "09:30", 1, 5)}, block: make(chan struct{})}
	c := NewCache(src, Config{MinDays: 1, MaxDays: 20}, nil, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Refresh(context.Background())
			assert.NoError(t, err)
		}()
	}
	// Give the callers time to join the in-flight rebuild.
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.block)
	wg.Wait()

	assert.LessOrEqual(t, src.calls.Load(), int32(5))
	assert.Equal(t, 1, c.Len())
}

func TestGet_EmptyBeforeRefresh(t *testing.T) {
	c := NewCache(&fakeSource{}, Config{}, nil, discardLogger())
	_, ok := c.Get(1, "09:30")
	assert.False(t, ok)
	assert.True(t, c.BuiltAt().IsZero())
}
