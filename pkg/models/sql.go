package models

// GeneratedSQL is one raw SQL string produced by the language model.
// AttemptNumber starts at 1 and increments across self-correction rounds.
type GeneratedSQL struct {
	SQLText       string `json:"sql_text"`
	ModelID       string `json:"model_id"`
	LatencyMS     int64  `json:"latency_ms"`
	AttemptNumber int    `json:"attempt_number"`
}

// ValidationResult is the verdict of the static SQL gate. ValidatedSQL may
// differ from the input by an appended LIMIT clause.
type ValidationResult struct {
	IsValid         bool     `json:"is_valid"`
	ValidatedSQL    string   `json:"validated_sql"`
	Errors          []string `json:"errors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	TablesVerified  []string `json:"tables_verified,omitempty"`
	ColumnsVerified []string `json:"columns_verified,omitempty"`
}

// ExecutionResult is the runtime outcome of one query against the column
// store. Rows is a tabular value: one slice per row, positionally aligned
// with Columns.
type ExecutionResult struct {
	Success         bool     `json:"success"`
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int      `json:"row_count"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
	Error           string   `json:"error,omitempty"`
}

// ColumnIndex returns the position of a named column, or -1 when absent.
func (r *ExecutionResult) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the cell at (row, column name). The second return is false
// when the row or column does not exist.
func (r *ExecutionResult) Value(row int, column string) (any, bool) {
	idx := r.ColumnIndex(column)
	if idx < 0 || row < 0 || row >= len(r.Rows) {
		return nil, false
	}
	return r.Rows[row][idx], true
}
