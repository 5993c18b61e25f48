package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies an LLM failure for the pipeline's propagation policy.
type ErrorType string

const (
	// ErrorTypeTimeout means the provider did not answer within the call timeout.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection means the provider could not be reached.
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuth means the API key was rejected.
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeModel means the provider answered with something unusable.
	ErrorTypeModel ErrorType = "model"
	// ErrorTypeRateLimit means the provider throttled the request.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeUnknown is everything else.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Error is a structured LLM error with classification.
type Error struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Cause     error
	Model     string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{Type: errType, Message: message, Retryable: retryable, Cause: cause}
}

// ClassifyError categorizes a raw provider error into a structured Error so
// the pipeline can inspect its type instead of matching strings itself.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTypeTimeout, "request timed out", true, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(ErrorTypeTimeout, "request cancelled", false, err)
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	switch {
	case strings.Contains(errStr, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key"):
		return NewError(ErrorTypeAuth, "authentication failed", false, err)

	case strings.Contains(lower, "model") &&
		(strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return NewError(ErrorTypeModel, "model not found", false, err)

	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return NewError(ErrorTypeTimeout, "request timed out", true, err)

	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection reset") || strings.Contains(lower, "broken pipe"):
		return NewError(ErrorTypeConnection, "connection failed", true, err)

	case strings.Contains(errStr, "429") || strings.Contains(lower, "rate limit"):
		return NewError(ErrorTypeRateLimit, "rate limited", true, err)

	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504"):
		return NewError(ErrorTypeConnection, "server error", true, err)
	}

	return NewError(ErrorTypeUnknown, "llm error", false, err)
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
