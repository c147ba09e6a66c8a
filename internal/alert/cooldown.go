package alert

import (
	"sync"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

type cooldownKey struct {
	instrumentID int64
	alertType    domain.AlertType
}

// Cooldown remembers the last alert per (instrument, alert type).
type Cooldown struct {
	mu   sync.Mutex
	last map[cooldownKey]time.Time
}

// NewCooldown returns an empty tracker.
func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[cooldownKey]time.Time)}
}

// Suppressed reports whether an alert at now falls inside the window of
// the previous one.
func (c *Cooldown) Suppressed(instrumentID int64, typ domain.AlertType, now time.Time, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[cooldownKey{instrumentID, typ}]
	return ok && now.Before(last.Add(window))
}

// Record marks an alert as sent at the given time. Older times never
// overwrite newer ones.
func (c *Cooldown) Record(instrumentID int64, typ domain.AlertType, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cooldownKey{instrumentID, typ}
	if prev, ok := c.last[k]; !ok || at.After(prev) {
		c.last[k] = at
	}
}

// Seed warms the tracker from persisted alerts.
func (c *Cooldown) Seed(alerts []domain.Alert) {
	for _, a := range alerts {
		c.Record(a.InstrumentID, a.Type, a.TriggeredAt)
	}
}

// Len returns the number of tracked keys.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
