package models

// ErrorKind tags a failed PipelineResult with the failure class. These tags
// are stable API: clients and the audit trail key off them.
type ErrorKind string

const (
	ErrSanitization     ErrorKind = "sanitization_failure"
	ErrClassification   ErrorKind = "classification_failure"
	ErrEntityExtraction ErrorKind = "entity_extraction_failure"
	ErrTableResolution  ErrorKind = "table_resolution_failure"
	ErrPromptBuild      ErrorKind = "prompt_build_failure"
	ErrLLMTimeout       ErrorKind = "llm_timeout"
	ErrLLMConnection    ErrorKind = "llm_connection"
	ErrLLMModel         ErrorKind = "llm_model"
	ErrSQLValidation    ErrorKind = "sql_validation_failure"
	ErrSQLExecution     ErrorKind = "sql_execution_failure"
	ErrCancelled        ErrorKind = "cancellation"
	ErrInternal         ErrorKind = "internal"
)
