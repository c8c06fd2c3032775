package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the combined component pings so a hung backend
// cannot stall load-balancer probes.
const healthCheckTimeout = 2 * time.Second

// Pinger is implemented by backing components (postgres, redis) that can
// verify their connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint with per-component status.
type HealthHandler struct {
	logger     *slog.Logger
	components map[string]Pinger
}

// NewHealthHandler creates a HealthHandler probing the given components.
// Components may be nil or empty; the process itself then reports ok.
func NewHealthHandler(logger *slog.Logger, components map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		logger:     logHandler(logger, "health"),
		components: components,
	}
}

// HealthCheck pings each backing component. Any failure degrades the overall
// status and the response code to 503, so load balancers stop routing here.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	components := make(map[string]string, len(h.components))
	for name, p := range h.components {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "component unhealthy",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
			components[name] = err.Error()
			status = "degraded"
		} else {
			components[name] = "ok"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	payload := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(components) > 0 {
		payload["components"] = components
	}
	writeJSON(w, code, payload)
}
