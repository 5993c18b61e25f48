package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/cache"
)

// CacheHandler exposes query-cache statistics and invalidation.
type CacheHandler struct {
	cache  *cache.QueryCache
	logger *zap.Logger
}

// NewCacheHandler creates a cache handler.
func NewCacheHandler(c *cache.QueryCache, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{cache: c, logger: logger}
}

// RegisterRoutes registers the cache handler's routes on the given mux.
func (h *CacheHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cache/stats", h.Stats)
	mux.HandleFunc("GET /api/cache/stats/detailed", h.DetailedStats)
	mux.HandleFunc("POST /api/cache/clear", h.Clear)
	mux.HandleFunc("POST /api/cache/cleanup", h.Cleanup)
	mux.HandleFunc("POST /api/cache/invalidate", h.Invalidate)
}

// Stats handles GET /api/cache/stats.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, h.cache.Stats())
}

// DetailedStats handles GET /api/cache/stats/detailed, listing per-entry
// metadata without exposing the cached answers.
func (h *CacheHandler) DetailedStats(w http.ResponseWriter, r *http.Request) {
	stats, entries := h.cache.DetailedStats()
	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"stats":   stats,
		"entries": entries,
	})
}

// Clear handles POST /api/cache/clear.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.RequireEnabled(); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	removed := h.cache.Clear()
	h.logger.Info("Cache cleared", zap.Int("removed", removed))
	_ = WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// Cleanup handles POST /api/cache/cleanup, dropping only expired entries.
func (h *CacheHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.RequireEnabled(); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	removed := h.cache.CleanupExpired()
	_ = WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// invalidateRequest is the POST /api/cache/invalidate body. With a question
// it drops that single entry; without one it drops the whole session.
type invalidateRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

// Invalidate handles POST /api/cache/invalidate.
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "A session_id is required")
		return
	}

	if req.Question != "" {
		removed := 0
		if h.cache.Invalidate(req.Question, req.SessionID) {
			removed = 1
		}
		_ = WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
		return
	}

	removed := h.cache.InvalidateSession(req.SessionID)
	_ = WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
