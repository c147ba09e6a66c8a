package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/metrics"
)

// Channel is the pub/sub channel alerts are published on.
const Channel = "ch:alert"

const publishTimeout = 5 * time.Second

// Publisher is the subset of domain.SignalBus the emitter needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Emitter delivers alerts to the signal bus from a buffered queue so the
// evaluation loop never waits on delivery.
type Emitter struct {
	pub     Publisher
	queue   chan domain.Alert
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEmitter returns an emitter with the given queue size. A nil m records
// to a private registry.
func NewEmitter(pub Publisher, buffer int, m *metrics.Metrics, logger *slog.Logger) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Emitter{
		pub:     pub,
		queue:   make(chan domain.Alert, buffer),
		metrics: m,
		logger:  logger,
	}
}

// Emit queues an alert. When the queue is full the alert is dropped; it is
// already persisted.
func (e *Emitter) Emit(a domain.Alert) {
	select {
	case e.queue <- a:
	default:
		e.metrics.AlertsDropped.Inc()
		e.logger.Warn("alert: emitter queue full, dropping delivery",
			slog.String("id", a.ID),
			slog.Int64("instrument_id", a.InstrumentID),
		)
	}
}

// Run publishes queued alerts until ctx is cancelled.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-e.queue:
			e.publish(ctx, a)
		}
	}
}

func (e *Emitter) publish(ctx context.Context, a domain.Alert) {
	payload, err := json.Marshal(Payload(a))
	if err != nil {
		e.logger.Error("alert: marshal payload", slog.String("error", err.Error()))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := e.pub.Publish(pctx, Channel, payload); err != nil {
		e.logger.Warn("alert: publish failed",
			slog.String("id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Payload is the wire form of an alert on the signal bus.
func Payload(a domain.Alert) map[string]any {
	return map[string]any{
		"event":             "spread_alert",
		"id":                a.ID,
		"instrument_id":     a.InstrumentID,
		"instrument":        a.InstrumentName,
		"time_slot":         a.TimeSlot,
		"alert_type":        string(a.Type),
		"current_value":     a.CurrentValue,
		"baseline_value":    a.BaselineValue,
		"deviation_percent": a.DeviationPct,
		"triggered_at":      a.TriggeredAt.UTC().Format(time.RFC3339),
	}
}
