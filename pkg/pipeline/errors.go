package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sage-clinical/sage-engine/pkg/llm"
	"github.com/sage-clinical/sage-engine/pkg/models"
	"github.com/sage-clinical/sage-engine/pkg/store"
)

// StageError ties a failure to the pipeline stage that produced it and the
// taxonomy kind clients see.
type StageError struct {
	Stage string
	Kind  models.ErrorKind
	// Reason is safe, user-facing text. Empty means the standard message
	// for the kind.
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, kind models.ErrorKind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// llmErrorKind maps a transport/model failure onto the taxonomy.
func llmErrorKind(err error) models.ErrorKind {
	if errors.Is(err, context.Canceled) {
		return models.ErrCancelled
	}
	switch llm.GetErrorType(err) {
	case llm.ErrorTypeTimeout:
		return models.ErrLLMTimeout
	case llm.ErrorTypeConnection, llm.ErrorTypeRateLimit:
		return models.ErrLLMConnection
	default:
		return models.ErrLLMModel
	}
}

// execErrorKind maps a classified store failure onto the taxonomy. Every
// execution failure shares one outward kind; the distinction that matters
// internally is correctability, which the loop reads off the ExecError.
func execErrorKind(err error) models.ErrorKind {
	var execErr *store.ExecError
	if errors.As(err, &execErr) {
		return models.ErrSQLExecution
	}
	if errors.Is(err, context.Canceled) {
		return models.ErrCancelled
	}
	return models.ErrSQLExecution
}
