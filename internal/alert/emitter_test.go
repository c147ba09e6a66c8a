package alert

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_PublishesQueuedAlert(t *testing.T) {
	pub := &fakePublisher{got: make(chan struct{}, 1)}
	em := NewEmitter(pub, 4, metrics.NewUnregistered(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go em.Run(ctx)

	em.Emit(domain.Alert{
		ID:           "a-1",
		InstrumentID: 7,
		Type:         domain.AlertGap2,
		DeviationPct: 42.5,
		TriggeredAt:  time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
	})

	select {
	case <-pub.got:
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not published")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, Channel, pub.channel)
	var body map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &body))
	assert.Equal(t, "spread_alert", body["event"])
	assert.Equal(t, "gap_2", body["alert_type"])
	assert.Equal(t, 42.5, body["deviation_percent"])
	assert.Equal(t, "2024-03-04T09:30:00Z", body["triggered_at"])
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	m := metrics.NewUnregistered()
	em := NewEmitter(&fakePublisher{}, 2, m, discardLogger())

	for i := 0; i < 5; i++ {
		em.Emit(domain.Alert{ID: "x"})
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AlertsDropped))
}
