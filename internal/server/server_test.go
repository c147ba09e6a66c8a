package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/spreadwatch/internal/metrics"
	"github.com/alanyoungcy/spreadwatch/internal/pipeline"
	"github.com/alanyoungcy/spreadwatch/internal/server/handler"
)

type noopCycle struct{}

func (noopCycle) EvaluateCycle(context.Context) (pipeline.CycleReport, error) {
	return pipeline.CycleReport{Skipped: map[string]int{}}, nil
}

type noopRefresher struct{}

func (noopRefresher) Refresh(context.Context) (int, error) { return 0, nil }

type noopReloader struct{}

func (noopReloader) Reload() {}

func TestRouter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.CyclesTotal.WithLabelValues("ok").Inc()

	h := NewRouter(Config{APIKey: "secret"}, Handlers{
		Health: handler.NewHealthHandler("live", nil, nil, logger),
		Ops:    handler.NewOpsHandler(noopCycle{}, noopRefresher{}, noopReloader{}, nil, 0, logger),
	}, nil, reg, logger)

	do := func(method, path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/health", "").Code)

	rec := do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `spreadwatch_cycles_total{result="ok"} 1`)

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodPost, "/api/ops/cycle", "").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/api/ops/cycle", "secret").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(http.MethodGet, "/api/ops/cycle", "secret").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/api/ops/alert-config/reload", "secret").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/ws", "secret").Code)
}
