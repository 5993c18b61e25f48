// Package sqlcheck is the static gate between SQL generation and execution.
// Nothing reaches the column store without passing it: SELECT-only, single
// statement, no injection markers, and every referenced table declared in
// the catalog.
package sqlcheck

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

// blockedOps are statement keywords that must never appear. EXEC and PRAGMA
// cover procedural escapes; ATTACH and COPY cover file access.
var blockedOps = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"GRANT", "REVOKE", "EXEC", "EXECUTE", "MERGE", "CALL",
	"ATTACH", "DETACH", "PRAGMA", "COPY", "EXPORT", "INSTALL", "LOAD",
}

var (
	blockedOpPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(blockedOps, "|") + `)\b`)
	lineComment      = regexp.MustCompile(`--`)
	blockComment     = regexp.MustCompile(`/\*`)
	limitPattern    = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)
	tableRefPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	hexLiteralPattern = regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b`)
	charCallPattern   = regexp.MustCompile(`(?i)\bCHA?R\s*\(`)
	catalogRefPattern = regexp.MustCompile(`(?i)\b(information_schema\s*\.|pg_catalog\s*\.|sqlite_master\b|duckdb_tables\s*\(|duckdb_columns\s*\()`)

	joinPattern      = regexp.MustCompile(`(?i)\bJOIN\b`)
	joinOnPattern    = regexp.MustCompile(`(?i)\bJOIN\s+[A-Za-z_][A-Za-z0-9_.]*(?:\s+(?:AS\s+)?[A-Za-z_][A-Za-z0-9_]*)?\s+ON\b`)
	identPattern     = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)
)

// Validator checks generated SQL against the policy and the table catalog.
type Validator struct {
	catalog *models.TableCatalog
	maxRows int
	logger  *zap.Logger
}

// maxJoinCount is the join-complexity threshold. More joins than this is a
// warning, not an error.
const maxJoinCount = 3

// New creates a validator. maxRows caps row-level result sets via LIMIT.
func New(catalog *models.TableCatalog, maxRows int, logger *zap.Logger) *Validator {
	if maxRows <= 0 {
		maxRows = 10000
	}
	return &Validator{catalog: catalog, maxRows: maxRows, logger: logger.Named("sqlcheck")}
}

// Validate applies every check and returns the verdict. ValidatedSQL carries
// the statement to execute, which may have a LIMIT appended or tightened.
func (v *Validator) Validate(sql string) *models.ValidationResult {
	result := &models.ValidationResult{ValidatedSQL: strings.TrimSpace(sql)}
	stmt := result.ValidatedSQL

	if stmt == "" {
		result.Errors = append(result.Errors, "empty statement")
		return result
	}

	if !strings.HasPrefix(strings.ToUpper(firstWord(stmt)), "SELECT") {
		result.Errors = append(result.Errors, "only SELECT statements are allowed")
	}

	if m := blockedOpPattern.FindString(stmt); m != "" {
		result.Errors = append(result.Errors, fmt.Sprintf("blocked operation: %s", strings.ToUpper(m)))
	}

	if lineComment.MatchString(stmt) || blockComment.MatchString(stmt) {
		result.Errors = append(result.Errors, "comments are not allowed in generated SQL")
	}

	if hexLiteralPattern.MatchString(stmt) {
		result.Errors = append(result.Errors, "hex literals are not allowed")
	}
	if charCallPattern.MatchString(stmt) {
		result.Errors = append(result.Errors, "character-code encoding is not allowed")
	}
	if catalogRefPattern.MatchString(stmt) {
		result.Errors = append(result.Errors, "system catalog access is not allowed")
	}

	if n := statementCount(stmt); n > 1 {
		result.Errors = append(result.Errors, fmt.Sprintf("expected a single statement, found %d", n))
	}

	v.verifyTables(stmt, result)

	if joins := len(joinPattern.FindAllStringIndex(stmt, -1)); joins > 0 {
		if !joinOnPattern.MatchString(stmt) {
			result.Warnings = append(result.Warnings, "JOIN without an ON condition")
		}
		if joins > maxJoinCount {
			result.Warnings = append(result.Warnings, fmt.Sprintf("query joins %d tables, expect a slow plan", joins+1))
		}
	}

	if len(result.Errors) > 0 {
		v.logger.Warn("SQL rejected", zap.Strings("errors", result.Errors))
		return result
	}

	result.ValidatedSQL = v.enforceLimit(stmt, result)
	result.IsValid = true
	return result
}

// verifyTables checks every FROM/JOIN reference against the catalog and,
// for known tables, flags unknown column identifiers as warnings. Column
// verification is best effort: aliases and expressions make it advisory.
func (v *Validator) verifyTables(stmt string, result *models.ValidationResult) {
	refs := tableRefPattern.FindAllStringSubmatch(stmt, -1)
	if len(refs) == 0 {
		result.Errors = append(result.Errors, "no table reference found")
		return
	}

	var tables []*models.TableSchema
	for _, ref := range refs {
		name := ref[1]
		if dot := strings.LastIndex(name, "."); dot >= 0 {
			name = name[dot+1:]
		}
		table, ok := v.catalog.Get(name)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("unknown table: %s", strings.ToUpper(name)))
			continue
		}
		tables = append(tables, table)
		result.TablesVerified = appendUnique(result.TablesVerified, table.Name)
	}

	for _, table := range tables {
		for _, ident := range identPattern.FindAllString(stmt, -1) {
			upper := strings.ToUpper(ident)
			if !looksLikeColumn(upper) {
				continue
			}
			if table.HasColumn(upper) {
				result.ColumnsVerified = appendUnique(result.ColumnsVerified, upper)
			}
		}
	}
}

// looksLikeColumn filters identifiers down to plausible CDISC column names:
// all-caps tokens that are not SQL keywords or table names.
func looksLikeColumn(upper string) bool {
	if len(upper) < 2 || sqlKeywords[upper] {
		return false
	}
	return upper == strings.ToUpper(upper)
}

// enforceLimit guarantees every validated statement carries a LIMIT no
// larger than the cap: an existing LIMIT is tightened, a missing one is
// appended. A one-row aggregate is unharmed by the extra clause.
func (v *Validator) enforceLimit(stmt string, result *models.ValidationResult) string {
	if m := limitPattern.FindStringSubmatch(stmt); m != nil {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		if n > v.maxRows {
			result.Warnings = append(result.Warnings, fmt.Sprintf("LIMIT reduced to %d", v.maxRows))
			return limitPattern.ReplaceAllString(stmt, fmt.Sprintf("LIMIT %d", v.maxRows))
		}
		return stmt
	}

	result.Warnings = append(result.Warnings, fmt.Sprintf("LIMIT %d appended", v.maxRows))
	return strings.TrimRight(stmt, "; \t\n") + fmt.Sprintf(" LIMIT %d", v.maxRows)
}

// statementCount counts semicolon-separated statements, ignoring semicolons
// inside quoted string literals and a trailing terminator.
func statementCount(stmt string) int {
	count := 1
	inSingle, inDouble := false, false
	for i := 0; i < len(stmt); i++ {
		switch stmt[i] {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case ';':
			if inSingle || inDouble {
				continue
			}
			if strings.TrimSpace(stmt[i+1:]) == "" {
				continue
			}
			count++
		}
	}
	return count
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

var sqlKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "AND": true, "OR": true,
	"NOT": true, "IN": true, "AS": true, "ON": true, "JOIN": true,
	"INNER": true, "LEFT": true, "RIGHT": true, "OUTER": true, "FULL": true,
	"GROUP": true, "BY": true, "ORDER": true, "HAVING": true, "LIMIT": true,
	"OFFSET": true, "DISTINCT": true, "COUNT": true, "SUM": true, "AVG": true,
	"MIN": true, "MAX": true, "CASE": true, "WHEN": true, "THEN": true,
	"ELSE": true, "END": true, "NULL": true, "IS": true, "LIKE": true,
	"BETWEEN": true, "ASC": true, "DESC": true, "UNION": true, "ALL": true,
	"WITH": true, "CAST": true, "DATE": true, "INTERVAL": true,
}
