package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

func newTestBuilder(budget int) *Builder {
	return NewBuilder(models.DefaultCatalog(), budget, zap.NewNop())
}

func adaeResolution() *models.TableResolution {
	return &models.TableResolution{
		SelectedTable:    "ADAE",
		TableType:        models.TableTypeADaM,
		Domain:           "adverse_events",
		Population:       "safety",
		PopulationFilter: "SAFFL = 'Y'",
	}
}

func TestBuild_IncludesSchemaAndRules(t *testing.T) {
	b := newTestBuilder(0)

	ctx := b.Build("How many patients had headache?", adaeResolution(), nil)

	assert.Contains(t, ctx.SystemPrompt, "SELECT statement")
	assert.Contains(t, ctx.SchemaContext, "Table: ADAE")
	assert.Contains(t, ctx.SchemaContext, "AEDECOD")
	assert.Contains(t, ctx.ClinicalRules, "SAFFL = 'Y'")
	assert.Contains(t, ctx.UserPrompt, "How many patients had headache?")
	assert.Greater(t, ctx.TokenEstimate, 0)
}

func TestBuild_EntityInClause(t *testing.T) {
	b := newTestBuilder(0)

	entities := []models.EntityMatch{{
		OriginalTerm:  "anemia",
		CanonicalTerm: "ANAEMIA",
		MatchType:     models.MatchUKUSSpelling,
		Confidence:    90,
		Table:         "ADAE",
		Column:        "AEDECOD",
		AllVariants:   []string{"ANAEMIA", "ANEMIA"},
	}}

	ctx := b.Build("how many had anemia", adaeResolution(), entities)
	assert.Contains(t, ctx.EntityContext, "USE: AEDECOD IN ('ANAEMIA', 'ANEMIA')")
}

func TestBuild_SingleVariantUsesEquality(t *testing.T) {
	b := newTestBuilder(0)

	entities := []models.EntityMatch{{
		OriginalTerm:  "rash",
		CanonicalTerm: "RASH",
		MatchType:     models.MatchExact,
		Confidence:    100,
		Table:         "ADAE",
		Column:        "AEDECOD",
		AllVariants:   []string{"RASH"},
	}}

	ctx := b.Build("patients with rash", adaeResolution(), entities)
	assert.Contains(t, ctx.EntityContext, "USE: AEDECOD = 'RASH'")
}

func TestBuild_JoinSchemaIncluded(t *testing.T) {
	b := newTestBuilder(0)

	res := adaeResolution()
	res.JoinTable = "ADSL"
	res.JoinOn = "USUBJID"

	ctx := b.Build("headache by sex", res, nil)
	assert.Contains(t, ctx.SchemaContext, "Table: ADSL")
	assert.Contains(t, ctx.SchemaContext, "Join: ADAE.USUBJID = ADSL.USUBJID")
	assert.Contains(t, ctx.ClinicalRules, "Join ADAE to ADSL")
}

func TestBuild_TruncatesToBudget(t *testing.T) {
	full := newTestBuilder(0).Build("q", adaeResolution(), nil)
	require.Contains(t, full.SchemaContext, "--", "descriptions expected at full budget")

	tight := newTestBuilder(full.TokenEstimate - 20).Build("q", adaeResolution(), nil)
	assert.NotContains(t, tight.SchemaContext, "--", "descriptions dropped under tight budget")
	assert.Less(t, tight.TokenEstimate, full.TokenEstimate)
}

func TestBuildCorrection(t *testing.T) {
	b := newTestBuilder(0)

	base := b.Build("how many patients", adaeResolution(), nil)
	ctx := b.BuildCorrection(base, "SELECT COUNT(*) FROM ADEA", `table "ADEA" does not exist`, 1)

	assert.Contains(t, ctx.UserPrompt, "SELECT COUNT(*) FROM ADEA")
	assert.Contains(t, ctx.UserPrompt, "does not exist")
	assert.Contains(t, ctx.UserPrompt, "how many patients")
	assert.Equal(t, base.SchemaContext, ctx.SchemaContext)
}

func TestFullPrompt_Order(t *testing.T) {
	b := newTestBuilder(0)
	ctx := b.Build("q", adaeResolution(), nil)

	full := ctx.FullPrompt()
	schemaIdx := strings.Index(full, "Table: ADAE")
	rulesIdx := strings.Index(full, "Clinical rules:")
	questionIdx := strings.Index(full, "Question: q")

	require.GreaterOrEqual(t, schemaIdx, 0)
	assert.Greater(t, rulesIdx, schemaIdx)
	assert.Greater(t, questionIdx, rulesIdx)
}
