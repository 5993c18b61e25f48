package models

import "strings"

// ColumnSchema describes one column of a study table.
type ColumnSchema struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// TableSchema describes one physical study table.
type TableSchema struct {
	Name    string         `json:"name"`
	Type    TableType      `json:"type"`
	Domain  string         `json:"domain"`
	Columns []ColumnSchema `json:"columns"`
}

// ColumnNames returns the column names in declaration order.
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the table declares the named column,
// case-insensitively.
func (t *TableSchema) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// TableCatalog is the declared registry of study tables. The SQL validator
// accepts only tables present here, and the resolver picks its candidates
// from it.
type TableCatalog struct {
	tables map[string]*TableSchema
	order  []string
}

// NewTableCatalog creates an empty catalog.
func NewTableCatalog() *TableCatalog {
	return &TableCatalog{tables: make(map[string]*TableSchema)}
}

// Add registers a table. A table registered twice keeps the last definition.
func (c *TableCatalog) Add(t *TableSchema) {
	key := strings.ToUpper(t.Name)
	if _, exists := c.tables[key]; !exists {
		c.order = append(c.order, key)
	}
	c.tables[key] = t
}

// Get looks up a table case-insensitively.
func (c *TableCatalog) Get(name string) (*TableSchema, bool) {
	t, ok := c.tables[strings.ToUpper(name)]
	return t, ok
}

// Has reports whether the named table exists.
func (c *TableCatalog) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Names returns all registered table names in registration order.
func (c *TableCatalog) Names() []string {
	return append([]string(nil), c.order...)
}

// DefaultCatalog returns the standard CDISC study tables used when the
// column store exposes no schema of its own (and by tests).
func DefaultCatalog() *TableCatalog {
	c := NewTableCatalog()
	c.Add(&TableSchema{Name: "ADSL", Type: TableTypeADaM, Domain: "demographics", Columns: []ColumnSchema{
		{Name: "USUBJID", Type: "VARCHAR", Description: "Unique subject identifier"},
		{Name: "AGE", Type: "INTEGER", Description: "Age at baseline"},
		{Name: "AGEGR1", Type: "VARCHAR", Description: "Age group"},
		{Name: "SEX", Type: "VARCHAR", Description: "Sex"},
		{Name: "RACE", Type: "VARCHAR", Description: "Race"},
		{Name: "ETHNIC", Type: "VARCHAR"},
		{Name: "COUNTRY", Type: "VARCHAR"},
		{Name: "SAFFL", Type: "VARCHAR", Description: "Safety population flag (Y/N)"},
		{Name: "ITTFL", Type: "VARCHAR", Description: "Intent-to-treat population flag (Y/N)"},
		{Name: "EFFFL", Type: "VARCHAR", Description: "Efficacy population flag (Y/N)"},
		{Name: "PPROTFL", Type: "VARCHAR", Description: "Per-protocol population flag (Y/N)"},
		{Name: "TRT01A", Type: "VARCHAR", Description: "Actual treatment arm"},
		{Name: "TRT01AN", Type: "INTEGER", Description: "Actual treatment arm (numeric)"},
		{Name: "DTHFL", Type: "VARCHAR", Description: "Subject death flag (Y/N)"},
		{Name: "DTHDTC", Type: "VARCHAR", Description: "Date of death"},
	}})
	c.Add(&TableSchema{Name: "DM", Type: TableTypeSDTM, Domain: "demographics", Columns: []ColumnSchema{
		{Name: "USUBJID", Type: "VARCHAR", Description: "Unique subject identifier"},
		{Name: "AGE", Type: "INTEGER"},
		{Name: "SEX", Type: "VARCHAR"},
		{Name: "RACE", Type: "VARCHAR"},
		{Name: "ETHNIC", Type: "VARCHAR"},
		{Name: "COUNTRY", Type: "VARCHAR"},
		{Name: "ARM", Type: "VARCHAR", Description: "Planned arm"},
		{Name: "ACTARM", Type: "VARCHAR", Description: "Actual arm"},
	}})
	c.Add(&TableSchema{Name: "ADAE", Type: TableTypeADaM, Domain: "adverse_events", Columns: []ColumnSchema{
		{Name: "USUBJID", Type: "VARCHAR", Description: "Unique subject identifier"},
		{Name: "AETERM", Type: "VARCHAR", Description: "Reported adverse event term"},
		{Name: "AEDECOD", Type: "VARCHAR", Description: "MedDRA preferred term"},
		{Name: "AEBODSYS", Type: "VARCHAR", Description: "MedDRA body system"},
		{Name: "AESEV", Type: "VARCHAR", Description: "Severity (MILD/MODERATE/SEVERE)"},
		{Name: "AESER", Type: "VARCHAR", Description: "Serious event flag (Y/N)"},
		{Name: "AEOUT", Type: "VARCHAR", Description: "Outcome (RECOVERED/FATAL/...)"},
		{Name: "AEREL", Type: "VARCHAR", Description: "Causality"},
		{Name: "AESTDTC", Type: "VARCHAR", Description: "Start date"},
		{Name: "AEENDTC", Type: "VARCHAR", Description: "End date"},
		{Name: "ATOXGR", Type: "VARCHAR", Description: "Analysis toxicity grade"},
		{Name: "AETOXGR", Type: "VARCHAR", Description: "Collected toxicity grade"},
		{Name: "SAFFL", Type: "VARCHAR", Description: "Safety population flag (Y/N)"},
		{Name: "TRTA", Type: "VARCHAR", Description: "Actual treatment"},
	}})
	c.Add(&TableSchema{Name: "AE", Type: TableTypeSDTM, Domain: "adverse_events", Columns: []ColumnSchema{
		{Name: "USUBJID", Type: "VARCHAR"},
		{Name: "AETERM", Type: "VARCHAR", Description: "Reported adverse event term"},
		{Name: "AEDECOD", Type: "VARCHAR", Description: "MedDRA preferred term"},
		{Name: "AEBODSYS", Type: "VARCHAR"},
		{Name: "AESEV", Type: "VARCHAR"},
		{Name: "AESER", Type: "VARCHAR"},
		{Name: "AEOUT", Type: "VARCHAR"},
		{Name: "AEREL", Type: "VARCHAR"},
		{Name: "AESTDTC", Type: "VARCHAR"},
		{Name: "AEENDTC", Type: "VARCHAR"},
		{Name: "AETOXGR", Type: "VARCHAR", Description: "Collected toxicity grade"},
	}})
	c.Add(&TableSchema{Name: "ADLB", Type: TableTypeADaM, Domain: "labs", Columns: []ColumnSchema{
		{Name: "USUBJID", Type: "VARCHAR"},
		{Name: "PARAMCD", Type: "VARCHAR", Description: "Parameter code"},
		{Name: "PARAM", Type: "VARCHAR", Description: "Parameter"},
		{Name: "AVAL", Type: "DOUBLE", Description: "Analysis value"},
		{Name: "AVALU", Type: "VARCHAR", Description: "Unit"},
		{Name: "ANRLO", Type: "DOUBLE", Description: "Normal range low"},
		{Name: "ANRHI", Type: "DOUBLE", Description: "Normal range high"},
		{Name: "ANRIND", Type: "VARCHAR", Description: "Reference range indicator"},
		{Name: "AVISIT", Type: "VARCHAR", Description: "Analysis visit"},
		{Name: "ADT", Type: "DATE", Description: "Analysis date"},
		{Name: "ATOXGR", Type: "VARCHAR", Description: "Analysis toxicity grade"},
		{Name: "SAFFL", Type: "VARCHAR"},
	}})
	c.Add(&TableSchema{Name: "LB", Type: TableTypeSDTM, Domain: "labs", Columns: []ColumnSchema{
		{Name: "USUBJID", Type: "VARCHAR"},
		{Name: "LBTESTCD", Type: "VARCHAR"},
		{Name: "LBTEST", Type: "VARCHAR"},
		{Name: "LBORRES", Type: "VARCHAR"},
		{Name: "LBORRESU", Type: "VARCHAR"},
		{Name: "LBSTNRLO", Type: "DOUBLE"},
		{Name: "LBSTNRHI", Type: "DOUBLE"},
		{Name: "LBNRIND", Type: "VARCHAR"},
		{Name: "LBDTC", Type: "VARCHAR"},
	}})
	c.Add(&TableSchema{Name: "ADVS", Type: TableTypeADaM, Domain: "vitals", Columns: []ColumnSchema{
		{Name: "USUBJID", Type: "VARCHAR"},
		{Name: "PARAMCD", Type: "VARCHAR"},
		{Name: "PARAM", Type: "VARCHAR"},
		{Name: "AVAL", Type: "DOUBLE"},
		{Name: "AVALU", Type: "VARCHAR"},
		{Name: "AVISIT", Type: "VARCHAR"},
		{Name: "ADT", Type: "DATE"},
		{Name: "SAFFL", Type: "VARCHAR"},
	}})
	c.Add(&TableSchema{Name: "VS", Type: TableTypeSDTM, Domain: "vitals", Columns: []ColumnSchema{
		{Name: "USUBJID", Type: "VARCHAR"},
		{Name: "VSTESTCD", Type: "VARCHAR"},
		{Name: "VSTEST", Type: "VARCHAR"},
		{Name: "VSORRES", Type: "VARCHAR"},
		{Name: "VSORRESU", Type: "VARCHAR"},
		{Name: "VSDTC", Type: "VARCHAR"},
	}})
	c.Add(&TableSchema{Name: "ADCM", Type: TableTypeADaM, Domain: "conmeds", Columns: []ColumnSchema{
		{Name: "USUBJID", Type: "VARCHAR"},
		{Name: "CMDECOD", Type: "VARCHAR", Description: "Standardized medication name"},
		{Name: "CMTRT", Type: "VARCHAR", Description: "Reported medication name"},
		{Name: "CMSTDTC", Type: "VARCHAR"},
		{Name: "CMENDTC", Type: "VARCHAR"},
		{Name: "CMINDC", Type: "VARCHAR", Description: "Indication"},
		{Name: "SAFFL", Type: "VARCHAR"},
	}})
	c.Add(&TableSchema{Name: "CM", Type: TableTypeSDTM, Domain: "conmeds", Columns: []ColumnSchema{
		{Name: "USUBJID", Type: "VARCHAR"},
		{Name: "CMTRT", Type: "VARCHAR"},
		{Name: "CMDECOD", Type: "VARCHAR"},
		{Name: "CMSTDTC", Type: "VARCHAR"},
		{Name: "CMENDTC", Type: "VARCHAR"},
		{Name: "CMINDC", Type: "VARCHAR"},
	}})
	return c
}
