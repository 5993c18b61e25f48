package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/audit"
	"github.com/sage-clinical/sage-engine/pkg/middleware"
)

// AuditHandler exposes the tamper-evident audit trail: listing, integrity
// verification, and electronic signatures.
type AuditHandler struct {
	store  *audit.Store
	logger *zap.Logger
}

// NewAuditHandler creates an audit handler over the given store.
func NewAuditHandler(store *audit.Store, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger}
}

// RegisterRoutes registers the audit handler's routes on the given mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/audit", h.List)
	mux.HandleFunc("GET /api/audit/verify", h.VerifyRange)
	mux.HandleFunc("GET /api/audit/{id}", h.Get)
	mux.HandleFunc("GET /api/audit/{id}/detail", h.Detail)
	mux.HandleFunc("GET /api/audit/{id}/verify", h.Verify)
	mux.HandleFunc("POST /api/audit/{id}/sign", h.Sign)
	mux.HandleFunc("GET /api/audit/{id}/signatures", h.Signatures)
	mux.HandleFunc("POST /api/audit/{id}/signatures/{sig_id}/verify", h.VerifySignature)
}

// List handles GET /api/audit with user_id / action / status / from / to /
// limit / offset query filters.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	events, err := h.store.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// Get handles GET /api/audit/{id}.
func (h *AuditHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	event, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, event)
}

// Detail handles GET /api/audit/{id}/detail, returning the full query
// provenance (prompt, SQL, confidence breakdown).
func (h *AuditHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.store.QueryDetail(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, detail)
}

// Verify handles GET /api/audit/{id}/verify, re-deriving the record's
// checksum.
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	report, err := h.store.VerifyIntegrity(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, report)
}

// VerifyRange handles GET /api/audit/verify over the same filters as List.
func (h *AuditHandler) VerifyRange(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	reports, err := h.store.VerifyRange(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	valid := 0
	for _, rep := range reports {
		if rep.IntegrityValid {
			valid++
		}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"checked": len(reports),
		"valid":   valid,
	})
}

// signRequest is the POST /api/audit/{id}/sign body.
type signRequest struct {
	Meaning string `json:"meaning"`
}

// Sign handles POST /api/audit/{id}/sign. The signer is the authenticated
// caller; the meaning ("reviewed", "approved") comes from the body.
func (h *AuditHandler) Sign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Meaning == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "A signature meaning is required")
		return
	}

	signer := "unknown"
	if identity, found := middleware.IdentityFromContext(r.Context()); found {
		signer = identity.Username
	}

	sig, err := h.store.Sign(r.Context(), id, signer, req.Meaning)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, sig)
}

// Signatures handles GET /api/audit/{id}/signatures.
func (h *AuditHandler) Signatures(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sigs, err := h.store.Signatures(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"signatures": sigs})
}

// VerifySignature handles POST /api/audit/{id}/signatures/{sig_id}/verify.
func (h *AuditHandler) VerifySignature(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sigID, err := uuid.Parse(r.PathValue("sig_id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid signature ID")
		return
	}

	if err := h.store.VerifySignature(r.Context(), id, sigID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"signature_valid": true})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid audit record ID")
		return uuid.Nil, false
	}
	return id, true
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		UserID: q.Get("user_id"),
		Action: q.Get("action"),
		Status: q.Get("status"),
	}

	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = time.Parse(time.RFC3339, v); err != nil {
			return f, err
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = time.Parse(time.RFC3339, v); err != nil {
			return f, err
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, err
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			return f, err
		}
	}
	return f, nil
}
