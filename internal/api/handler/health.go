package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/middleware"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/response"
)

// BackendPinger checks a server-side session backend.
type BackendPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	backend string
	pinger  BackendPinger
	version string
}

// NewHealthHandler creates a new HealthHandler. pinger is nil for the
// cookie backend, which has nothing to reach.
func NewHealthHandler(backend string, pinger BackendPinger, version string) *HealthHandler {
	return &HealthHandler{
		backend: backend,
		pinger:  pinger,
		version: version,
	}
}

type backendStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

type healthData struct {
	Status         string        `json:"status"`
	Version        string        `json:"version"`
	SessionBackend backendStatus `json:"sessionBackend"`
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	status := "healthy"
	connected := true
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			slog.Warn("session backend unreachable", "backend", h.backend, "error", err, "requestId", requestID)
			status = "degraded"
			connected = false
		}
	}

	data := healthData{
		Status:  status,
		Version: h.version,
		SessionBackend: backendStatus{
			Name:      h.backend,
			Connected: connected,
		},
	}

	response.Success(w, http.StatusOK, data, requestID)
}
