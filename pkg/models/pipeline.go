package models

// Stage names, in request order. They key PipelineResult.PipelineStages and
// name the first failing stage in ErrorStage.
const (
	StageSanitization    = "sanitization"
	StageCacheLookup     = "cache_lookup"
	StageClassification  = "classification"
	StageEntityExtraction = "entity_extraction"
	StageTableResolution = "table_resolution"
	StageContextBuild    = "context_build"
	StageSQLGeneration   = "sql_generation"
	StageSQLValidation   = "sql_validation"
	StageExecution       = "execution"
	StageScoring         = "scoring"
	StageFormatting      = "formatting"
	StageCancelled       = "cancelled"
)

// StageTiming records one stage's outcome in the response envelope.
type StageTiming struct {
	Success bool  `json:"success"`
	TimeMS  int64 `json:"time_ms"`
}

// Pipeline paths reported in PipelineResult.PipelineUsed.
const (
	PipelineClinicalSQL    = "clinical_sql"
	PipelineConversational = "conversational"
)

// Methodology names the table, population and assumptions behind an answer so
// a reviewer can judge trustworthiness.
type Methodology struct {
	TableUsed        string   `json:"table_used"`
	PopulationUsed   string   `json:"population_used"`
	PopulationFilter string   `json:"population_filter"`
	Assumptions      []string `json:"assumptions"`
}

// PipelineResult is the outward response for one question.
type PipelineResult struct {
	Success      bool                   `json:"success"`
	Query        string                 `json:"query"`
	Answer       string                 `json:"answer"`
	SQL          string                 `json:"sql,omitempty"`
	Data         *ExecutionResult       `json:"data,omitempty"`
	RowCount     int                    `json:"row_count"`
	Confidence   *ConfidenceScore       `json:"confidence"`
	Methodology  *Methodology           `json:"methodology,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
	Intent       Intent                 `json:"intent"`
	PipelineUsed string                 `json:"pipeline_used"`
	CacheHit     bool                   `json:"cache_hit"`
	PipelineStages map[string]StageTiming `json:"pipeline_stages,omitempty"`
	Error        string                 `json:"error,omitempty"`       // taxonomy tag
	ErrorStage   string                 `json:"error_stage,omitempty"` // first failing stage
	TotalTimeMS  int64                  `json:"total_time_ms"`
}
