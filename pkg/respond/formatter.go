// Package respond turns raw pipeline output into the answer a user reads:
// prose for scalars, markdown tables for tabular results, and humanized
// messages for failures that never leak SQL or internals.
package respond

import (
	"fmt"
	"strings"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

// maxInlineRows caps how many rows render in the answer table. Full data
// still ships in the response envelope.
const maxInlineRows = 10

// Formatter renders clinical answers.
type Formatter struct{}

// NewFormatter creates a formatter.
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatAnswer renders the answer text for a successful execution.
func (f *Formatter) FormatAnswer(question string, execution *models.ExecutionResult) string {
	switch {
	case execution == nil || execution.RowCount == 0:
		return "No matching records were found for this question."
	case execution.RowCount == 1 && len(execution.Columns) == 1:
		return scalarAnswer(execution)
	default:
		return tableAnswer(execution)
	}
}

// Methodology assembles the how-we-got-this block from the resolution.
func (f *Formatter) Methodology(resolution *models.TableResolution) *models.Methodology {
	if resolution == nil {
		return nil
	}
	return &models.Methodology{
		TableUsed:        resolution.SelectedTable,
		PopulationUsed:   strings.ReplaceAll(resolution.Population, "_", " "),
		PopulationFilter: resolution.PopulationFilter,
		Assumptions:      resolution.Assumptions,
	}
}

func scalarAnswer(execution *models.ExecutionResult) string {
	value := formatCell(execution.Rows[0][0])
	label := humanizeColumn(execution.Columns[0])
	if label == "" {
		return fmt.Sprintf("The answer is %s.", value)
	}
	return fmt.Sprintf("The %s is %s.", label, value)
}

func tableAnswer(execution *models.ExecutionResult) string {
	var sb strings.Builder
	shown := execution.RowCount
	if shown > maxInlineRows {
		shown = maxInlineRows
	}

	fmt.Fprintf(&sb, "Found %d rows.\n\n", execution.RowCount)
	sb.WriteString("| " + strings.Join(execution.Columns, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(execution.Columns)) + "\n")
	for _, row := range execution.Rows[:shown] {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if execution.RowCount > shown {
		fmt.Fprintf(&sb, "\nShowing the first %d of %d rows.", shown, execution.RowCount)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.2f", val)
	case float32:
		return formatCell(float64(val))
	default:
		return fmt.Sprintf("%v", val)
	}
}

// humanizeColumn turns a result column name into answer prose. Aggregate
// shapes like count(...) read as their function; CDISC codes read as-is.
func humanizeColumn(column string) string {
	lower := strings.ToLower(column)
	switch {
	case strings.HasPrefix(lower, "count"):
		return "count"
	case strings.HasPrefix(lower, "avg"), strings.HasPrefix(lower, "mean"):
		return "average"
	case strings.HasPrefix(lower, "sum"):
		return "total"
	case strings.HasPrefix(lower, "min"):
		return "minimum"
	case strings.HasPrefix(lower, "max"):
		return "maximum"
	case strings.HasPrefix(lower, "median"):
		return "median"
	default:
		return strings.ToLower(column)
	}
}
