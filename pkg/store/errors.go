package store

import (
	"context"
	"errors"
	"strings"
)

// Kind classifies an execution failure. Syntax and unknown-identifier
// failures are worth a self-correction round; timeouts and memory failures
// are terminal.
type Kind string

const (
	KindSyntax            Kind = "syntax"
	KindUnknownIdentifier Kind = "unknown_identifier"
	KindTimeout           Kind = "timeout"
	KindOutOfMemory       Kind = "out_of_memory"
	KindConnection        Kind = "connection"
	KindOther             Kind = "other"
)

// ExecError is a classified execution failure.
type ExecError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *ExecError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *ExecError) Unwrap() error {
	return e.Cause
}

// Correctable reports whether regenerating the SQL could plausibly fix the
// failure.
func (e *ExecError) Correctable() bool {
	return e.Kind == KindSyntax || e.Kind == KindUnknownIdentifier
}

// Classify maps a driver error onto an ExecError by message inspection.
// Adapters with typed driver errors pre-classify and bypass this.
func Classify(err error) *ExecError {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	kind := KindOther
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(lower, "statement timeout"),
		strings.Contains(lower, "canceling statement"),
		strings.Contains(lower, "query canceled"),
		strings.Contains(lower, "interrupted"):
		kind = KindTimeout
	case strings.Contains(lower, "out of memory"),
		strings.Contains(lower, "memory limit"):
		kind = KindOutOfMemory
	case strings.Contains(lower, "syntax error"),
		strings.Contains(lower, "parser error"),
		strings.Contains(lower, "parse error"):
		kind = KindSyntax
	case strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "binder error"),
		strings.Contains(lower, "catalog error"),
		strings.Contains(lower, "not found in from clause"),
		strings.Contains(lower, "no such table"),
		strings.Contains(lower, "no such column"),
		strings.Contains(lower, "referenced column"),
		strings.Contains(lower, "unknown column"):
		kind = KindUnknownIdentifier
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "bad connection"):
		kind = KindConnection
	}

	return &ExecError{Kind: kind, Message: msg, Cause: err}
}
