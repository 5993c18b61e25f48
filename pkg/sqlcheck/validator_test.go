package sqlcheck

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

func newTestValidator(maxRows int) *Validator {
	return New(models.DefaultCatalog(), maxRows, zap.NewNop())
}

func TestValidate_AcceptsCleanSelect(t *testing.T) {
	v := newTestValidator(10000)

	result := v.Validate("SELECT COUNT(DISTINCT USUBJID) FROM ADAE WHERE AEDECOD = 'HEADACHE' AND SAFFL = 'Y'")
	require.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.Contains(t, result.TablesVerified, "ADAE")
	assert.Contains(t, result.ColumnsVerified, "AEDECOD")
	assert.Contains(t, result.ColumnsVerified, "SAFFL")
}

func TestValidate_RejectsNonSelect(t *testing.T) {
	v := newTestValidator(10000)

	tests := []struct {
		name string
		sql  string
	}{
		{"drop", "DROP TABLE ADAE"},
		{"insert", "INSERT INTO ADAE VALUES (1)"},
		{"update", "UPDATE ADSL SET AGE = 0"},
		{"delete", "DELETE FROM ADSL"},
		{"pragma", "PRAGMA database_list"},
		{"attach", "ATTACH 'other.db' AS other"},
		{"cte", "WITH x AS (SELECT USUBJID FROM ADSL) SELECT COUNT(*) FROM x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.sql)
			assert.False(t, result.IsValid)
			assert.NotEmpty(t, result.Errors)
		})
	}
}

func TestValidate_RejectsBlockedOpInsideSelect(t *testing.T) {
	v := newTestValidator(10000)

	result := v.Validate("SELECT * FROM ADSL; DROP TABLE ADSL")
	assert.False(t, result.IsValid)
}

func TestValidate_RejectsMultipleStatements(t *testing.T) {
	v := newTestValidator(10000)

	result := v.Validate("SELECT 1 FROM ADSL; SELECT 2 FROM ADAE")
	require.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "single statement")
}

func TestValidate_AllowsSemicolonInLiteralAndTrailing(t *testing.T) {
	v := newTestValidator(10000)

	result := v.Validate("SELECT COUNT(*) FROM ADAE WHERE AETERM = 'nausea; severe'")
	assert.True(t, result.IsValid, "errors: %v", result.Errors)

	result = v.Validate("SELECT COUNT(*) FROM ADAE;")
	assert.True(t, result.IsValid, "errors: %v", result.Errors)
}

func TestValidate_RejectsComments(t *testing.T) {
	v := newTestValidator(10000)

	result := v.Validate("SELECT COUNT(*) FROM ADAE -- sneaky")
	require.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "comments")
}

func TestValidate_UnknownTable(t *testing.T) {
	v := newTestValidator(10000)

	result := v.Validate("SELECT * FROM PATIENTS")
	require.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "unknown table: PATIENTS")
}

func TestValidate_JoinVerifiesBothTables(t *testing.T) {
	v := newTestValidator(10000)

	result := v.Validate("SELECT ADSL.SEX, COUNT(DISTINCT ADAE.USUBJID) FROM ADAE JOIN ADSL ON ADAE.USUBJID = ADSL.USUBJID GROUP BY ADSL.SEX LIMIT 100")
	require.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.ElementsMatch(t, []string{"ADAE", "ADSL"}, result.TablesVerified)
}

func TestValidate_JoinWithoutOnWarns(t *testing.T) {
	v := newTestValidator(10000)

	result := v.Validate("SELECT COUNT(*) FROM ADAE JOIN ADSL LIMIT 10")
	require.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.Contains(t, result.Warnings[0], "JOIN without an ON condition")
}

func TestValidate_RejectsEncodingTricks(t *testing.T) {
	v := newTestValidator(10000)

	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"hex literal", "SELECT * FROM ADSL WHERE USUBJID = 0x41424344", "hex literals"},
		{"char encoding", "SELECT * FROM ADSL WHERE SEX = CHAR(77)", "character-code"},
		{"chr encoding", "SELECT * FROM ADSL WHERE SEX = CHR(77)", "character-code"},
		{"information schema", "SELECT table_name FROM information_schema.tables", "system catalog"},
		{"sqlite master", "SELECT sql FROM sqlite_master", "system catalog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.sql)
			require.False(t, result.IsValid)
			found := false
			for _, e := range result.Errors {
				if strings.Contains(e, tt.want) {
					found = true
				}
			}
			assert.True(t, found, "errors: %v", result.Errors)
		})
	}
}

func TestValidate_ManyJoinsWarns(t *testing.T) {
	v := newTestValidator(10000)

	result := v.Validate("SELECT COUNT(*) FROM ADSL " +
		"JOIN ADAE ON ADSL.USUBJID = ADAE.USUBJID " +
		"JOIN ADLB ON ADSL.USUBJID = ADLB.USUBJID " +
		"JOIN ADVS ON ADSL.USUBJID = ADVS.USUBJID " +
		"JOIN ADCM ON ADSL.USUBJID = ADCM.USUBJID")
	require.True(t, result.IsValid, "errors: %v", result.Errors)

	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "joins 5 tables") {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", result.Warnings)
}

func TestValidate_LimitAppendedForRowLevel(t *testing.T) {
	v := newTestValidator(500)

	result := v.Validate("SELECT USUBJID, AEDECOD FROM ADAE")
	require.True(t, result.IsValid)
	assert.Contains(t, result.ValidatedSQL, "LIMIT 500")
}

func TestValidate_LimitTightened(t *testing.T) {
	v := newTestValidator(500)

	result := v.Validate("SELECT USUBJID FROM ADSL LIMIT 99999")
	require.True(t, result.IsValid)
	assert.Contains(t, result.ValidatedSQL, "LIMIT 500")
	assert.NotContains(t, result.ValidatedSQL, "99999")
}

func TestValidate_EveryValidStatementCarriesLimit(t *testing.T) {
	v := newTestValidator(500)

	tests := []struct {
		name string
		sql  string
	}{
		{"row level", "SELECT USUBJID, AEDECOD FROM ADAE"},
		{"pure aggregate", "SELECT COUNT(DISTINCT USUBJID) FROM ADSL WHERE SAFFL = 'Y'"},
		{"group by", "SELECT AEDECOD, COUNT(*) FROM ADAE GROUP BY AEDECOD"},
		{"trailing semicolon", "SELECT COUNT(*) FROM ADVS;"},
		{"existing limit kept", "SELECT USUBJID FROM ADSL LIMIT 50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.sql)
			require.True(t, result.IsValid, "errors: %v", result.Errors)
			assert.Contains(t, result.ValidatedSQL, "LIMIT")
		})
	}
}

func TestValidate_Empty(t *testing.T) {
	v := newTestValidator(500)

	result := v.Validate("   ")
	assert.False(t, result.IsValid)
}
