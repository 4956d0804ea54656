package handlers

import (
	"net/http"
	"time"

	domain "github.com/ambercart/api/internal/domain"
	"github.com/ambercart/api/internal/platform/httpx"
	"github.com/ambercart/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system  services.SystemService
	started time.Time
}

// NewHealthHandlers constructs the probe handlers. The system service is
// optional; without it readyz degrades to a liveness check.
func NewHealthHandlers(system services.SystemService) *HealthHandlers {
	return &HealthHandlers{
		system:  system,
		started: time.Now(),
	}
}

// Healthz answers as long as the process is serving requests.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteData(w, http.StatusOK, "ok", map[string]any{
		"status": string(domain.HealthStatusOK),
		"uptime": time.Since(h.started).String(),
	})
}

// Readyz collects dependency probes and reports aggregate readiness.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.Health(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", "health collection failed", http.StatusServiceUnavailable))
		return
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteData(w, status, string(report.Status), report)
}
