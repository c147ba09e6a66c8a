package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Checker probes one dependency.
type Checker func(ctx context.Context) error

// BaselineInfo reports the current baseline snapshot.
type BaselineInfo interface {
	Len() int
	BuiltAt() time.Time
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks    map[string]Checker
	baselines BaselineInfo
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. baselines may be nil.
func NewHealthHandler(mode string, checks map[string]Checker, baselines BaselineInfo, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		baselines: baselines,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthCheck runs every dependency check and reports 503 if any fails.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":         status,
		"mode":           h.mode,
		"dependencies":   deps,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.baselines != nil {
		body["baseline_entries"] = h.baselines.Len()
		if built := h.baselines.BuiltAt(); !built.IsZero() {
			body["baseline_built_at"] = built.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, code, body)
}
