package respond

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

func TestFormatAnswer_Scalar(t *testing.T) {
	f := NewFormatter()

	exec := &models.ExecutionResult{
		Success:  true,
		Columns:  []string{"count(DISTINCT USUBJID)"},
		Rows:     [][]any{{int64(42)}},
		RowCount: 1,
	}

	answer := f.FormatAnswer("how many patients had headache", exec)
	assert.Equal(t, "The count is 42.", answer)
}

func TestFormatAnswer_ScalarAverage(t *testing.T) {
	f := NewFormatter()

	exec := &models.ExecutionResult{
		Success:  true,
		Columns:  []string{"avg(AGE)"},
		Rows:     [][]any{{54.237}},
		RowCount: 1,
	}

	answer := f.FormatAnswer("average age", exec)
	assert.Equal(t, "The average is 54.24.", answer)
}

func TestFormatAnswer_Empty(t *testing.T) {
	f := NewFormatter()

	exec := &models.ExecutionResult{Success: true, Columns: []string{"AEDECOD"}}
	answer := f.FormatAnswer("q", exec)
	assert.Contains(t, answer, "No matching records")
}

func TestFormatAnswer_Table(t *testing.T) {
	f := NewFormatter()

	exec := &models.ExecutionResult{
		Success: true,
		Columns: []string{"AEDECOD", "N"},
		Rows: [][]any{
			{"HEADACHE", int64(12)},
			{"NAUSEA", int64(8)},
		},
		RowCount: 2,
	}

	answer := f.FormatAnswer("q", exec)
	assert.Contains(t, answer, "Found 2 rows.")
	assert.Contains(t, answer, "| AEDECOD | N |")
	assert.Contains(t, answer, "| HEADACHE | 12 |")
	assert.Contains(t, answer, "| NAUSEA | 8 |")
}

func TestFormatAnswer_TableTruncated(t *testing.T) {
	f := NewFormatter()

	exec := &models.ExecutionResult{Success: true, Columns: []string{"USUBJID"}}
	for i := 0; i < 25; i++ {
		exec.Rows = append(exec.Rows, []any{"SUBJ"})
	}
	exec.RowCount = 25

	answer := f.FormatAnswer("q", exec)
	assert.Contains(t, answer, "Showing the first 10 of 25 rows.")
	assert.Equal(t, 10, strings.Count(answer, "| SUBJ |"))
}

func TestMethodology(t *testing.T) {
	f := NewFormatter()

	m := f.Methodology(&models.TableResolution{
		SelectedTable:    "ADAE",
		Population:       "safety",
		PopulationFilter: "SAFFL = 'Y'",
		Assumptions:      []string{"Adverse event counts use the safety population unless another population is requested."},
	})

	require.NotNil(t, m)
	assert.Equal(t, "ADAE", m.TableUsed)
	assert.Equal(t, "safety", m.PopulationUsed)
	assert.Equal(t, "SAFFL = 'Y'", m.PopulationFilter)
	assert.Len(t, m.Assumptions, 1)

	assert.Nil(t, f.Methodology(nil))
}

func TestHumanize_AllKindsCovered(t *testing.T) {
	kinds := []models.ErrorKind{
		models.ErrSanitization,
		models.ErrClassification,
		models.ErrEntityExtraction,
		models.ErrTableResolution,
		models.ErrPromptBuild,
		models.ErrLLMTimeout,
		models.ErrLLMConnection,
		models.ErrLLMModel,
		models.ErrSQLValidation,
		models.ErrSQLExecution,
		models.ErrCancelled,
		models.ErrInternal,
	}

	for _, kind := range kinds {
		h := Humanize(kind)
		assert.NotEmpty(t, h.Message, "kind %s", kind)
		// User-facing text never mentions SQL internals.
		assert.NotContains(t, strings.ToLower(h.Message), "syntax")
		assert.NotContains(t, h.Message, "SELECT")
	}
}

func TestHumanize_UnknownKind(t *testing.T) {
	h := Humanize(models.ErrorKind("bogus"))
	assert.Equal(t, Humanize(models.ErrInternal), h)
}

func TestHumanizeWithReason(t *testing.T) {
	h := HumanizeWithReason(models.ErrSanitization, "question contains SQL injection markers")
	assert.Equal(t, "question contains SQL injection markers", h.Message)
	assert.NotEmpty(t, h.Suggestion)
}
