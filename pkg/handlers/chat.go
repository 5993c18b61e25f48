package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/middleware"
	"github.com/sage-clinical/sage-engine/pkg/models"
	"github.com/sage-clinical/sage-engine/pkg/pipeline"
)

// QuestionService answers one natural-language question. Satisfied by the
// pipeline; tests substitute a mock.
type QuestionService interface {
	Ask(ctx context.Context, q *models.Question) (*models.PipelineResult, error)
}

var _ QuestionService = (*pipeline.Pipeline)(nil)

// ChatMessageRequest is the POST /api/chat/message envelope. Message and
// Content are aliases; clients send one or the other.
type ChatMessageRequest struct {
	Message  string `json:"message"`
	Content  string `json:"content"`
	Metadata struct {
		SessionID string `json:"session_id"`
	} `json:"metadata"`
}

func (r *ChatMessageRequest) text() string {
	if strings.TrimSpace(r.Message) != "" {
		return r.Message
	}
	return r.Content
}

// ChatMetadata is the metadata block of the response envelope. PipelineUsed
// reports whether the answer came from the clinical SQL pipeline rather
// than the conversational path or the cache.
type ChatMetadata struct {
	PipelineUsed   bool                          `json:"pipeline_used"`
	CacheHit       bool                          `json:"cache_hit"`
	Intent         models.Intent                 `json:"intent"`
	Confidence     *models.ConfidenceScore       `json:"confidence,omitempty"`
	Methodology    *models.Methodology           `json:"methodology,omitempty"`
	SQL            string                        `json:"sql,omitempty"`
	RowCount       int                           `json:"row_count"`
	Warnings       []string                      `json:"warnings,omitempty"`
	TotalTimeMS    int64                         `json:"total_time_ms"`
	PipelineStages map[string]models.StageTiming `json:"pipeline_stages,omitempty"`
	Error          string                        `json:"error,omitempty"`
	ErrorStage     string                        `json:"error_stage,omitempty"`
}

// ChatMessageResponse is the outward answer envelope: the prose answer plus
// everything a reviewer needs to judge it.
type ChatMessageResponse struct {
	Success  bool         `json:"success"`
	Content  string       `json:"content"`
	Metadata ChatMetadata `json:"metadata"`
}

func toResponse(result *models.PipelineResult) *ChatMessageResponse {
	return &ChatMessageResponse{
		Success: result.Success,
		Content: result.Answer,
		Metadata: ChatMetadata{
			PipelineUsed:   result.PipelineUsed == models.PipelineClinicalSQL,
			CacheHit:       result.CacheHit,
			Intent:         result.Intent,
			Confidence:     result.Confidence,
			Methodology:    result.Methodology,
			SQL:            result.SQL,
			RowCount:       result.RowCount,
			Warnings:       result.Warnings,
			TotalTimeMS:    result.TotalTimeMS,
			PipelineStages: result.PipelineStages,
			Error:          result.Error,
			ErrorStage:     result.ErrorStage,
		},
	}
}

// ChatHandler turns chat messages into pipeline questions.
type ChatHandler struct {
	service QuestionService
	logger  *zap.Logger
}

// NewChatHandler creates a chat handler over the given question service.
func NewChatHandler(service QuestionService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{service: service, logger: logger}
}

// RegisterRoutes registers the chat handler's routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat/message", h.Message)
}

// Message handles POST /api/chat/message. A pipeline failure is still a 200:
// the result envelope carries success=false with a humanized answer. Only
// transport-level problems (bad request, overload) map to error statuses.
func (h *ChatHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	text := req.text()
	if strings.TrimSpace(text) == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "empty_question", "Message content is required")
		return
	}

	sessionID := req.Metadata.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	q := &models.Question{
		Text:      text,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	if id, ok := middleware.IdentityFromContext(r.Context()); ok {
		q.UserID = id.UserID
		q.Username = id.Username
	}
	q.ClientIP = clientIP(r)

	result, err := h.service.Ask(r.Context(), q)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, toResponse(result)); err != nil {
		h.logger.Error("Failed to encode chat response", zap.Error(err))
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
