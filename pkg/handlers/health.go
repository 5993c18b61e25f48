package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/config"
	"github.com/sage-clinical/sage-engine/pkg/store"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
	StudyStore  string `json:"study_store"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg      *config.Config
	executor store.QueryExecutor
	logger   *zap.Logger
}

// NewHealthHandler creates a HealthHandler. executor may be nil in tests.
func NewHealthHandler(cfg *config.Config, executor store.QueryExecutor, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, executor: executor, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health. Returns a bare "ok" for liveness probes.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping. Returns service details plus the study store's
// reachability; a failing store degrades the status without failing the
// probe.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	storeStatus := "not_configured"
	status := "ok"
	if h.executor != nil {
		if err := h.executor.Ping(r.Context()); err != nil {
			h.logger.Warn("Study store ping failed", zap.Error(err))
			storeStatus = "unreachable"
			status = "degraded"
		} else {
			storeStatus = "ok"
		}
	}

	response := PingResponse{
		Status:      status,
		Version:     h.cfg.Version,
		Service:     "sage-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
		StudyStore:  storeStatus,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
