package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by the engine.
const (
	AuditActionLogin        = "LOGIN"
	AuditActionLogout       = "LOGOUT"
	AuditActionQueryStart   = "QUERY_START"
	AuditActionQuery        = "QUERY"
	AuditActionConversation = "CONVERSATION"
	AuditActionUpload       = "DATA_UPLOAD"
	AuditActionConfigChange = "CONFIG_CHANGE"
	AuditActionRequest      = "REQUEST"
)

// Audit statuses.
const (
	AuditStatusSuccess = "success"
	AuditStatusError   = "error"
	AuditStatusBlocked = "blocked"
)

// AuditEvent is one immutable line in the tamper-evident trail. Checksum is a
// SHA-256 over a canonical sorted subset of fields; the store never updates
// or deletes a record after insertion.
type AuditEvent struct {
	ID             uuid.UUID `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Action         string    `json:"action"`
	ResourceType   string    `json:"resource_type"`
	ResourceID     string    `json:"resource_id"`
	Status         string    `json:"status"`
	IP             string    `json:"ip,omitempty"`
	Method         string    `json:"method,omitempty"`
	Path           string    `json:"path,omitempty"`
	RequestBody    string    `json:"request_body,omitempty"` // redacted before storage
	ResponseStatus int       `json:"response_status,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	Checksum       string    `json:"checksum"`
}

// QueryAuditDetail captures the full provenance of one answered question,
// attached to its audit event.
type QueryAuditDetail struct {
	AuditID         uuid.UUID `json:"audit_id"`
	Question        string    `json:"question"`
	Prompt          string    `json:"prompt,omitempty"`
	SQL             string    `json:"sql,omitempty"`
	ConfidenceJSON  string    `json:"confidence_json,omitempty"`
	TablesAccessed  string    `json:"tables_accessed,omitempty"`
	ColumnsAccessed string    `json:"columns_accessed,omitempty"`
	RowCount        int       `json:"row_count"`
}

// ElectronicSignature attaches a {signer, meaning, timestamp} tuple to an
// audit record, 21 CFR Part 11 style. HMAC is computed over the tuple with a
// process-wide secret.
type ElectronicSignature struct {
	ID        uuid.UUID `json:"id"`
	AuditID   uuid.UUID `json:"audit_id"`
	Signer    string    `json:"signer"`
	Meaning   string    `json:"meaning"`
	Timestamp time.Time `json:"timestamp"`
	HMAC      string    `json:"hmac"`
}

// IntegrityReport is the result of re-deriving a stored record's checksum.
type IntegrityReport struct {
	AuditID        uuid.UUID `json:"audit_id"`
	IntegrityValid bool      `json:"integrity_valid"`
	Reason         string    `json:"reason,omitempty"`
}
