package models

import "time"

// Question is the raw user input entering the pipeline. It is created at
// ingress and never mutated afterwards.
type Question struct {
	Text      string    `json:"text"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	ClientIP  string    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Detection records a single pattern hit produced by the input sanitizer.
type Detection struct {
	Category string `json:"category"` // phi, sql_injection, prompt_injection, blocklist
	Pattern  string `json:"pattern"`  // name of the rule that fired
	Snippet  string `json:"snippet"`  // offending fragment, truncated
}

// SanitizationResult is the verdict of the security gate (pipeline stage 1).
type SanitizationResult struct {
	IsSafe        bool        `json:"is_safe"`
	SanitizedText string      `json:"sanitized_text"`
	BlockedReason string      `json:"blocked_reason,omitempty"`
	Detections    []Detection `json:"detections,omitempty"`
}
