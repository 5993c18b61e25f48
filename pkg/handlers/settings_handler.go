package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/middleware"
	"github.com/sage-clinical/sage-engine/pkg/settings"
)

// SettingsHandler exposes the runtime settings store. Sensitive values are
// masked on every read path; only the write path accepts cleartext.
type SettingsHandler struct {
	service *settings.Service
	logger  *zap.Logger
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(service *settings.Service, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{service: service, logger: logger}
}

// RegisterRoutes registers the settings handler's routes on the given mux.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/settings", h.List)
	mux.HandleFunc("GET /api/settings/{key}", h.Get)
	mux.HandleFunc("PUT /api/settings/{key}", h.Set)
	mux.HandleFunc("GET /api/settings/{key}/history", h.History)
}

// List handles GET /api/settings.
func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]any{"settings": h.service.List()})
}

// Get handles GET /api/settings/{key}. Sensitive values come back masked.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	st, err := h.service.Get(key)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if settings.IsSensitive(key) {
		st.Value = settings.MaskedValue
	}
	_ = WriteJSON(w, http.StatusOK, st)
}

// setRequest is the PUT /api/settings/{key} body.
type setRequest struct {
	Value string `json:"value"`
}

// Set handles PUT /api/settings/{key}.
func (h *SettingsHandler) Set(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	changedBy := "unknown"
	if id, ok := middleware.IdentityFromContext(r.Context()); ok {
		changedBy = id.Username
	}

	if err := h.service.Set(r.Context(), key, req.Value, changedBy); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"key": key, "status": "updated"})
}

// History handles GET /api/settings/{key}/history.
func (h *SettingsHandler) History(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		limit = parsed
	}

	changes, err := h.service.History(r.Context(), key, limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"changes": changes})
}
