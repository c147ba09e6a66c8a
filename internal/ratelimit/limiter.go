// Package ratelimit enforces the vendor's layered call budgets in process.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Window is one budget: at most Limit calls within any trailing Span.
type Window struct {
	Span  time.Duration
	Limit int
}

// DefaultWindows are the vendor's published limits.
var DefaultWindows = []Window{
	{Span: time.Second, Limit: 5},
	{Span: time.Minute, Limit: 300},
	{Span: time.Hour, Limit: 18000},
}

// waitBuffer is added to every computed wait so the freed slot has
// definitely aged out by the time the caller retries.
const waitBuffer = 100 * time.Millisecond

type window struct {
	Window
	calls []time.Time // oldest first
}

// Limiter tracks recent call times per window and blocks callers until every
// window has room. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows []*window

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	observe func(time.Duration)
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithWaitObserver reports how long each WaitForSlot call blocked.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *Limiter) { l.observe = fn }
}

// New returns a limiter enforcing all windows at once. With no windows it
// uses DefaultWindows.
func New(windows []Window, opts ...Option) *Limiter {
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	l := &Limiter{
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, w := range windows {
		l.windows = append(l.windows, &window{Window: w})
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CanMakeRequest reports whether a call would be admitted right now. It does
// not record a call.
func (l *Limiter) CanMakeRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneLocked(now)
	return l.waitLocked(now) == 0
}

// GetWaitTime returns how long a caller would have to wait for a slot, or 0.
func (l *Limiter) GetWaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneLocked(now)
	return l.waitLocked(now)
}

// WaitForSlot blocks until every window admits a call, then records it.
func (l *Limiter) WaitForSlot(ctx context.Context) error {
	start := l.now()
	for {
		l.mu.Lock()
		now := l.now()
		l.pruneLocked(now)
		wait := l.waitLocked(now)
		if wait == 0 {
			for _, w := range l.windows {
				w.calls = append(w.calls, now)
			}
			l.mu.Unlock()
			if l.observe != nil {
				l.observe(now.Sub(start))
			}
			return nil
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("ratelimit: wait for slot: %w", err)
		}
	}
}

// Wait is WaitForSlot; it lets the limiter act as a domain.CallGate.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.WaitForSlot(ctx)
}

// pruneLocked drops calls that have aged out of their window.
func (l *Limiter) pruneLocked(now time.Time) {
	for _, w := range l.windows {
		i := 0
		for i < len(w.calls) && now.Sub(w.calls[i]) >= w.Span {
			i++
		}
		if i > 0 {
			n := copy(w.calls, w.calls[i:])
			w.calls = w.calls[:n]
		}
	}
}

// waitLocked returns 0 when all windows have room. Otherwise it returns the
// longest time until a violated window frees a slot, plus waitBuffer.
func (l *Limiter) waitLocked(now time.Time) time.Duration {
	var longest time.Duration
	violated := false
	for _, w := range l.windows {
		if w.Limit <= 0 || len(w.calls) < w.Limit {
			continue
		}
		violated = true
		oldest := w.calls[len(w.calls)-w.Limit]
		if d := oldest.Add(w.Span).Sub(now); d > longest {
			longest = d
		}
	}
	if !violated {
		return 0
	}
	return longest + waitBuffer
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
