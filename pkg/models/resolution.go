package models

// TableType distinguishes the two clinical schema families. ADaM is the
// analysis-ready derivative and is preferred whenever both forms exist.
type TableType string

const (
	TableTypeADaM TableType = "ADaM"
	TableTypeSDTM TableType = "SDTM"
)

// TableResolution is the clinical rules engine's decision: exactly one
// physical table and one population filter for the query.
type TableResolution struct {
	SelectedTable    string            `json:"selected_table"`
	TableType        TableType         `json:"table_type"`
	Domain           string            `json:"domain"`
	Population       string            `json:"population"`
	PopulationFilter string            `json:"population_filter"` // SQL fragment, empty for all-enrolled
	ColumnsResolved  map[string]string `json:"columns_resolved,omitempty"`
	FallbackUsed     bool              `json:"fallback_used"`
	SelectionReason  string            `json:"selection_reason"`

	// TableColumns is the full column list of the chosen table, for the prompt.
	TableColumns []string `json:"table_columns,omitempty"`

	// JoinTable/JoinOn are set when required columns are missing from the
	// chosen table and a sibling table provides them.
	JoinTable string `json:"join_table,omitempty"`
	JoinOn    string `json:"join_on,omitempty"`

	Assumptions []string `json:"assumptions,omitempty"`
}

// LLMContext is the assembled prompt package for SQL generation.
type LLMContext struct {
	SystemPrompt  string `json:"system_prompt"`
	SchemaContext string `json:"schema_context"`
	EntityContext string `json:"entity_context"`
	ClinicalRules string `json:"clinical_rules"`
	UserPrompt    string `json:"user_prompt"`
	TokenEstimate int    `json:"token_estimate"`
}

// FullPrompt concatenates the context sections in prompt order.
func (c *LLMContext) FullPrompt() string {
	out := ""
	for _, part := range []string{c.SchemaContext, c.EntityContext, c.ClinicalRules, c.UserPrompt} {
		if part == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += part
	}
	return out
}
