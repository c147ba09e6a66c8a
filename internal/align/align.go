// Package align pairs ticks across an instrument's legs so that gaps are
// only ever computed from prices observed at (nearly) the same moment.
package align

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

// Mode selects between live and backfill alignment.
type Mode int

const (
	// ModeLive aligns only the latest liquid tick of each leg.
	ModeLive Mode = iota
	// ModeBackfill aligns full series and samples the result.
	ModeBackfill
)

// Config holds the alignment tunables.
type Config struct {
	Tolerance time.Duration
	MinVolume int64
	SampleCap int
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		Tolerance: 15 * time.Second,
		MinVolume: 10,
		SampleCap: 30,
	}
}

// Engine aligns leg series. Safe for concurrent use.
type Engine struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine returns an engine. A nil rng gets a randomly seeded source.
func NewEngine(cfg Config, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{cfg: cfg, rng: rng}
}

// Config returns the engine's tunables.
func (e *Engine) Config() Config { return e.cfg }

// Align returns accepted points in ascending time order. Live mode yields at
// most one point; backfill mode yields at most SampleCap points.
func (e *Engine) Align(series domain.LegSeries, mode Mode) []domain.AlignedPoint {
	if mode == ModeLive {
		series = domain.LegSeries{
			Near: e.latestLiquid(series.Near),
			Next: e.latestLiquid(series.Next),
			Far:  e.latestLiquid(series.Far),
		}
	}

	points := e.pair(series, domain.LegNear)
	if len(points) == 0 && len(series.Near) > 0 {
		// Near traded but never lined up with next; gap_2 may still be derivable.
		points = e.pair(series, domain.LegNext)
	}

	if mode == ModeBackfill && e.cfg.SampleCap > 0 && len(points) > e.cfg.SampleCap {
		points = e.sample(points)
	}
	sort.SliceStable(points, func(i, j int) bool {
		return pointTime(points[i]).Before(pointTime(points[j]))
	})
	return points
}

// pair walks the anchor leg (near, or next when near is absent) and matches
// each liquid anchor tick against the closest tick of the other legs.
func (e *Engine) pair(s domain.LegSeries, anchorRank domain.LegRank) []domain.AlignedPoint {
	anchor := s.Near
	if anchorRank == domain.LegNext || len(anchor) == 0 {
		anchorRank = domain.LegNext
		anchor = s.Next
	}

	var out []domain.AlignedPoint
	for i := range anchor {
		a := &anchor[i]
		if a.Volume < e.cfg.MinVolume {
			continue
		}

		var p domain.AlignedPoint
		if anchorRank == domain.LegNear {
			p.Near = a
			p.Next = e.closest(s.Next, a.Timestamp)
		} else {
			p.Next = a
		}
		p.Far = e.closest(s.Far, a.Timestamp)

		if p, ok := e.accept(p); ok {
			out = append(out, p)
		}
	}
	return out
}

// accept keeps only the legs that enable a gap and rejects the point when
// neither gap is derivable.
func (e *Engine) accept(p domain.AlignedPoint) (domain.AlignedPoint, bool) {
	gap1 := p.Near != nil && p.Next != nil &&
		e.liquid(p.Near) && e.liquid(p.Next)
	gap2 := p.Next != nil && p.Far != nil &&
		e.liquid(p.Next) && e.liquid(p.Far) &&
		absDuration(p.Next.Timestamp.Sub(p.Far.Timestamp)) <= e.cfg.Tolerance

	if !gap1 && !gap2 {
		return domain.AlignedPoint{}, false
	}
	if !gap1 {
		p.Near = nil
	}
	if !gap2 {
		p.Far = nil
	}
	return p, true
}

func (e *Engine) liquid(t *domain.Tick) bool {
	return t.Volume >= e.cfg.MinVolume
}

// closest returns the tick nearest to at, or nil when the nearest one is
// farther than the tolerance. Ties resolve to the earlier tick.
func (e *Engine) closest(ticks []domain.Tick, at time.Time) *domain.Tick {
	if len(ticks) == 0 {
		return nil
	}
	idx := sort.Search(len(ticks), func(i int) bool {
		return !ticks[i].Timestamp.Before(at)
	})

	best := -1
	var bestDiff time.Duration
	for _, c := range []int{idx - 1, idx} {
		if c < 0 || c >= len(ticks) {
			continue
		}
		d := absDuration(ticks[c].Timestamp.Sub(at))
		if best == -1 || d < bestDiff {
			best, bestDiff = c, d
		}
	}
	if best == -1 || bestDiff > e.cfg.Tolerance {
		return nil
	}
	return &ticks[best]
}

// latestLiquid returns a one-element series holding the newest tick that
// meets the volume threshold.
func (e *Engine) latestLiquid(ticks []domain.Tick) []domain.Tick {
	for i := len(ticks) - 1; i >= 0; i-- {
		if ticks[i].Volume >= e.cfg.MinVolume {
			return ticks[i : i+1]
		}
	}
	return nil
}

// sample picks SampleCap points uniformly without replacement.
func (e *Engine) sample(points []domain.AlignedPoint) []domain.AlignedPoint {
	e.mu.Lock()
	perm := e.rng.Perm(len(points))
	e.mu.Unlock()

	out := make([]domain.AlignedPoint, 0, e.cfg.SampleCap)
	for _, i := range perm[:e.cfg.SampleCap] {
		out = append(out, points[i])
	}
	return out
}

// pointTime is the latest timestamp among the point's legs.
func pointTime(p domain.AlignedPoint) time.Time {
	var t time.Time
	for _, tick := range []*domain.Tick{p.Near, p.Next, p.Far} {
		if tick != nil && tick.Timestamp.After(t) {
			t = tick.Timestamp
		}
	}
	return t
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
