package alert

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConfigStore struct {
	mu        sync.Mutex
	global    *domain.AlertConfig
	overrides map[int64]domain.AlertConfig
	err       error
	lookups   int
}

func (f *fakeConfigStore) InstrumentConfig(_ context.Context, id int64) (domain.AlertConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return domain.AlertConfig{}, f.err
	}
	cfg, ok := f.overrides[id]
	if !ok {
		return domain.AlertConfig{}, domain.ErrNotFound
	}
	return cfg, nil
}

func (f *fakeConfigStore) GlobalConfig(context.Context) (domain.AlertConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.AlertConfig{}, f.err
	}
	if f.global == nil {
		return domain.AlertConfig{}, domain.ErrNotFound
	}
	return *f.global, nil
}

type fakeAlertStore struct {
	mu       sync.Mutex
	inserted []domain.Alert
	err      error
	recent   []domain.Alert
}

func (f *fakeAlertStore) Insert(_ context.Context, a domain.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, a)
	return nil
}

func (f *fakeAlertStore) LatestTriggered(context.Context, time.Time) ([]domain.Alert, error) {
	return f.recent, nil
}

type fakeBaselines map[string]domain.BaselineEntry

func (f fakeBaselines) Get(_ int64, slot string) (domain.BaselineEntry, bool) {
	e, ok := f[slot]
	return e, ok
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (s *recordingSink) Emit(a domain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

type fakePublisher struct {
	mu       sync.Mutex
	channel  string
	payloads [][]byte
	got      chan struct{}
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	p.channel = channel
	p.payloads = append(p.payloads, payload)
	p.mu.Unlock()
	if p.got != nil {
		p.got <- struct{}{}
	}
	return nil
}
