package middleware

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/logging"
	"github.com/sage-clinical/sage-engine/pkg/models"
)

// maxAuditedBodyBytes caps how much of a request body lands in the trail.
const maxAuditedBodyBytes = 4096

// Recorder is the slice of the audit store this interceptor writes to.
type Recorder interface {
	Record(ctx context.Context, e *models.AuditEvent) error
}

// AuditConfig controls the request-audit interceptor.
type AuditConfig struct {
	// ExcludedPaths are prefixes that never produce audit events, e.g.
	// health probes and the audit API itself.
	ExcludedPaths []string
	// LogRequestBody, when true, stores a redacted copy of the body.
	LogRequestBody bool
}

// RequestAuditor writes one audit event per non-excluded request. Bodies
// are redacted before storage; audit writes never fail the request.
type RequestAuditor struct {
	recorder Recorder
	cfg      AuditConfig
	logger   *zap.Logger
}

// NewRequestAuditor creates the request-audit interceptor.
func NewRequestAuditor(recorder Recorder, cfg AuditConfig, logger *zap.Logger) *RequestAuditor {
	return &RequestAuditor{recorder: recorder, cfg: cfg, logger: logger.Named("audit_mw")}
}

// Intercept returns the interceptor.
func (a *RequestAuditor) Intercept() Interceptor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.recorder == nil || a.excluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			var body string
			if a.cfg.LogRequestBody && r.Body != nil {
				body = a.captureBody(r)
			}

			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			e := &models.AuditEvent{
				Action:         models.AuditActionRequest,
				ResourceType:   "http",
				ResourceID:     r.URL.Path,
				Status:         statusLabel(wrapped.status),
				IP:             clientIP(r),
				Method:         r.Method,
				Path:           r.URL.Path,
				RequestBody:    body,
				ResponseStatus: wrapped.status,
				DurationMS:     time.Since(start).Milliseconds(),
			}
			if id, ok := IdentityFromContext(r.Context()); ok {
				e.UserID = id.UserID
				e.Username = id.Username
			}

			if err := a.recorder.Record(context.WithoutCancel(r.Context()), e); err != nil {
				a.logger.Error("Request audit write failed",
					zap.String("path", r.URL.Path),
					zap.Error(err))
			}
		})
	}
}

func (a *RequestAuditor) excluded(path string) bool {
	for _, prefix := range a.cfg.ExcludedPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// captureBody reads a bounded copy of the body, restores it for the
// handler, and redacts sensitive fields.
func (a *RequestAuditor) captureBody(r *http.Request) string {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxAuditedBodyBytes))
	if err != nil {
		return ""
	}
	rest, _ := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), bytes.NewReader(rest)))

	return logging.RedactBody(string(raw))
}

func statusLabel(status int) string {
	if status >= 400 {
		return models.AuditStatusError
	}
	return models.AuditStatusSuccess
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
