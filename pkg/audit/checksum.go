// Package audit provides the tamper-evident audit trail: append-only event
// records with per-record checksums, query provenance details, and 21 CFR
// Part 11 style electronic signatures, all stored in a local SQLite file.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

// ComputeChecksum derives the record checksum: SHA-256 over the canonical
// "key=value" lines of every stored field except the checksum itself, sorted
// by key. Any later change to a stored field breaks the checksum.
func ComputeChecksum(e *models.AuditEvent) string {
	fields := map[string]string{
		"id":              e.ID.String(),
		"timestamp":       e.Timestamp.UTC().Format(time.RFC3339Nano),
		"user_id":         e.UserID,
		"username":        e.Username,
		"action":          e.Action,
		"resource_type":   e.ResourceType,
		"resource_id":     e.ResourceID,
		"status":          e.Status,
		"ip":              e.IP,
		"method":          e.Method,
		"path":            e.Path,
		"request_body":    e.RequestBody,
		"response_status": fmt.Sprintf("%d", e.ResponseStatus),
		"duration_ms":     fmt.Sprintf("%d", e.DurationMS),
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(fields[k])
		sb.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// ComputeSignatureHMAC derives the HMAC-SHA256 over the signature tuple
// {signer, meaning, timestamp} with the process-wide signing secret.
func ComputeSignatureHMAC(secret, signer, meaning string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signer))
	mac.Write([]byte{0})
	mac.Write([]byte(meaning))
	mac.Write([]byte{0})
	mac.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureValid re-derives the HMAC and compares in constant time.
func SignatureValid(secret string, sig *models.ElectronicSignature) bool {
	expected := ComputeSignatureHMAC(secret, sig.Signer, sig.Meaning, sig.Timestamp)
	return hmac.Equal([]byte(expected), []byte(sig.HMAC))
}
