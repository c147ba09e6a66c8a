package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/pipeline"
)

// CycleRunner runs one evaluation cycle.
type CycleRunner interface {
	EvaluateCycle(ctx context.Context) (pipeline.CycleReport, error)
}

// BaselineRefresher rebuilds the baseline cache.
type BaselineRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// ConfigReloader drops cached alert thresholds.
type ConfigReloader interface {
	Reload()
}

// OpsHandler serves operator triggers.
type OpsHandler struct {
	cycle     CycleRunner
	baselines BaselineRefresher
	configs   ConfigReloader
	audit     domain.AuditStore
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewOpsHandler creates an OpsHandler. audit may be nil. cycleTimeout bounds
// a manually triggered cycle; zero leaves it unbounded.
func NewOpsHandler(
	cycle CycleRunner,
	baselines BaselineRefresher,
	configs ConfigReloader,
	audit domain.AuditStore,
	cycleTimeout time.Duration,
	logger *slog.Logger,
) *OpsHandler {
	return &OpsHandler{
		cycle:     cycle,
		baselines: baselines,
		configs:   configs,
		audit:     audit,
		timeout:   cycleTimeout,
		logger:    logger.With(slog.String("handler", "ops")),
		now:       time.Now,
	}
}

// RunCycle runs one evaluation cycle synchronously and returns its report.
// A cycle already running elsewhere yields 409. The cycle outlives the
// request: a client that disconnects does not cancel in-flight writes.
// POST /api/ops/cycle
func (h *OpsHandler) RunCycle(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "manual cycle requested")

	ctx := context.WithoutCancel(r.Context())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	report, err := h.cycle.EvaluateCycle(ctx)
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "a cycle is already running")
		return
	case err != nil && report.Instruments == 0:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.record(ctx, "ops.cycle", map[string]any{
		"processed":    report.Processed,
		"observations": report.Observations,
		"alerts":       report.AlertsFired,
	})

	body := map[string]any{"report": report}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

// RefreshBaselines rebuilds the baseline cache.
// POST /api/ops/baselines/refresh
func (h *OpsHandler) RefreshBaselines(w http.ResponseWriter, r *http.Request) {
	n, err := h.baselines.Refresh(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "baseline refresh failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.record(r.Context(), "ops.baselines_refresh", map[string]any{"entries": n})
	writeJSON(w, http.StatusOK, map[string]any{"entries": n})
}

// ReloadAlertConfig drops cached thresholds so the next evaluation reads the
// store again.
// POST /api/ops/alert-config/reload
func (h *OpsHandler) ReloadAlertConfig(w http.ResponseWriter, r *http.Request) {
	h.configs.Reload()
	h.record(r.Context(), "ops.alert_config_reload", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "reloaded",
		"reloaded_at": h.now().UTC().Format(time.RFC3339),
	})
}

// ListAudit returns recent operator actions.
// GET /api/ops/audit?since=24h&limit=50
func (h *OpsHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit log not configured")
		return
	}
	since, err := parseSince(r, h.now(), 24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be RFC3339 or a duration")
		return
	}
	entries, err := h.audit.List(r.Context(), since, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":         e.ID,
			"event":      e.Event,
			"detail":     e.Detail,
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *OpsHandler) record(ctx context.Context, event string, detail map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(ctx, event, detail); err != nil {
		h.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
