// Package prompts assembles the model context for SQL generation: schema,
// resolved entities, and clinical rules, kept inside a token budget.
package prompts

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

// DefaultTokenBudget bounds the assembled prompt. Estimation is chars/4.
const DefaultTokenBudget = 1500

const systemPrompt = `You are a clinical data analyst writing SQL over CDISC study datasets.
Rules:
- Respond with exactly one SQL SELECT statement and nothing else.
- Use only the tables and columns listed in the schema.
- Never modify data: no INSERT, UPDATE, DELETE, DROP, CREATE, or ALTER.
- Filter coded clinical terms with the exact values given in the entity list.
- Count distinct subjects with COUNT(DISTINCT USUBJID) unless the question asks for event counts.`

// Builder assembles LLM contexts.
type Builder struct {
	catalog     *models.TableCatalog
	tokenBudget int
	logger      *zap.Logger
}

// NewBuilder creates a prompt builder over the table catalog.
func NewBuilder(catalog *models.TableCatalog, tokenBudget int, logger *zap.Logger) *Builder {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Builder{catalog: catalog, tokenBudget: tokenBudget, logger: logger.Named("prompts")}
}

// Build assembles the full generation context for a resolved question. When
// the estimate exceeds the budget, column descriptions are dropped first,
// then the join table's schema.
func (b *Builder) Build(question string, resolution *models.TableResolution, entities []models.EntityMatch) *models.LLMContext {
	ctx := &models.LLMContext{
		SystemPrompt:  systemPrompt,
		SchemaContext: b.schemaContext(resolution, true),
		EntityContext: entityContext(entities),
		ClinicalRules: clinicalRules(resolution),
		UserPrompt:    "Question: " + question,
	}
	ctx.TokenEstimate = estimateTokens(ctx)

	if ctx.TokenEstimate > b.tokenBudget {
		ctx.SchemaContext = b.schemaContext(resolution, false)
		ctx.TokenEstimate = estimateTokens(ctx)
	}
	if ctx.TokenEstimate > b.tokenBudget && resolution.JoinTable != "" {
		ctx.SchemaContext = b.singleTableSchema(resolution, false)
		ctx.TokenEstimate = estimateTokens(ctx)
		b.logger.Debug("Dropped join table schema to fit token budget",
			zap.Int("estimate", ctx.TokenEstimate))
	}
	return ctx
}

// BuildCorrection assembles the self-correction context: the original
// context plus the failing SQL and the database error.
func (b *Builder) BuildCorrection(base *models.LLMContext, failedSQL, dbError string, attempt int) *models.LLMContext {
	correction := fmt.Sprintf(
		"Your previous SQL failed.\nAttempt %d SQL:\n%s\n\nDatabase error:\n%s\n\nWrite a corrected SELECT statement that avoids this error. Respond with the SQL only.",
		attempt, failedSQL, dbError)

	ctx := &models.LLMContext{
		SystemPrompt:  base.SystemPrompt,
		SchemaContext: base.SchemaContext,
		EntityContext: base.EntityContext,
		ClinicalRules: base.ClinicalRules,
		UserPrompt:    base.UserPrompt + "\n\n" + correction,
	}
	ctx.TokenEstimate = estimateTokens(ctx)
	return ctx
}

func (b *Builder) schemaContext(resolution *models.TableResolution, withDescriptions bool) string {
	out := b.singleTableSchema(resolution, withDescriptions)
	if resolution.JoinTable != "" {
		if join, ok := b.catalog.Get(resolution.JoinTable); ok {
			out += "\n\n" + tableSchema(join, withDescriptions)
			out += fmt.Sprintf("\nJoin: %s.%s = %s.%s",
				resolution.SelectedTable, resolution.JoinOn, resolution.JoinTable, resolution.JoinOn)
		}
	}
	return out
}

func (b *Builder) singleTableSchema(resolution *models.TableResolution, withDescriptions bool) string {
	table, ok := b.catalog.Get(resolution.SelectedTable)
	if !ok {
		return fmt.Sprintf("Table: %s\nColumns: %s",
			resolution.SelectedTable, strings.Join(resolution.TableColumns, ", "))
	}
	return tableSchema(table, withDescriptions)
}

func tableSchema(table *models.TableSchema, withDescriptions bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Table: %s (%s, %s domain)\nColumns:\n", table.Name, table.Type, table.Domain)
	for _, col := range table.Columns {
		if withDescriptions && col.Description != "" {
			fmt.Fprintf(&sb, "  %s %s -- %s\n", col.Name, col.Type, col.Description)
		} else {
			fmt.Fprintf(&sb, "  %s %s\n", col.Name, col.Type)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// entityContext emits one USE line per resolved entity. Terms with more than
// one coded value get an IN (...) list so no spelling variant is missed.
func entityContext(entities []models.EntityMatch) string {
	if len(entities) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Resolved clinical terms:\n")
	for _, e := range entities {
		if len(e.AllVariants) > 1 {
			quoted := make([]string, len(e.AllVariants))
			for i, v := range e.AllVariants {
				quoted[i] = "'" + v + "'"
			}
			fmt.Fprintf(&sb, "  USE: %s IN (%s) for \"%s\"\n", e.Column, strings.Join(quoted, ", "), e.OriginalTerm)
		} else {
			fmt.Fprintf(&sb, "  USE: %s = '%s' for \"%s\"\n", e.Column, e.CanonicalTerm, e.OriginalTerm)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func clinicalRules(resolution *models.TableResolution) string {
	var rules []string
	if resolution.PopulationFilter != "" {
		rules = append(rules, fmt.Sprintf("Filter to the %s population: WHERE %s.",
			strings.ReplaceAll(resolution.Population, "_", " "), resolution.PopulationFilter))
	}
	purposes := make([]string, 0, len(resolution.ColumnsResolved))
	for purpose := range resolution.ColumnsResolved {
		purposes = append(purposes, purpose)
	}
	sort.Strings(purposes)
	for _, purpose := range purposes {
		rules = append(rules, fmt.Sprintf("Use column %s for %s.",
			resolution.ColumnsResolved[purpose], strings.ReplaceAll(purpose, "_", " ")))
	}
	if resolution.JoinTable != "" {
		rules = append(rules, fmt.Sprintf("Join %s to %s on %s when subject-level attributes are needed.",
			resolution.SelectedTable, resolution.JoinTable, resolution.JoinOn))
	}
	rules = append(rules, "Add LIMIT 1000 to queries that return row-level data.")
	return "Clinical rules:\n  - " + strings.Join(rules, "\n  - ")
}

func estimateTokens(ctx *models.LLMContext) int {
	chars := len(ctx.SystemPrompt) + len(ctx.SchemaContext) + len(ctx.EntityContext) +
		len(ctx.ClinicalRules) + len(ctx.UserPrompt)
	return chars / 4
}
