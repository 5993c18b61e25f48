package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrQuestionTooLong    = errors.New("question exceeds maximum length")
	ErrEmptyQuestion      = errors.New("question is empty")
	ErrUnknownTable       = errors.New("table not in registry")
	ErrNoTableForDomain   = errors.New("no available table for domain")
	ErrCacheDisabled      = errors.New("cache is disabled")
	ErrTooManyQueries     = errors.New("max concurrent queries reached")
	ErrSignatureMismatch  = errors.New("electronic signature verification failed")
	ErrChecksumMismatch   = errors.New("audit checksum mismatch")
	ErrSensitiveSetting   = errors.New("sensitive settings are not returned in cleartext")
	ErrUnknownProvider    = errors.New("unknown LLM provider")
	ErrMaintenanceMode    = errors.New("service is in maintenance mode")
)
