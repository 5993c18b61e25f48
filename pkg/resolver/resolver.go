// Package resolver is the clinical rules engine. Given the extracted
// entities and the question text it picks exactly one study table, the
// analysis population, and any join the question needs, applying CDISC
// conventions deterministically with no model call.
package resolver

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/apperrors"
	"github.com/sage-clinical/sage-engine/pkg/models"
)

// Analysis populations and the flag column each one filters on.
const (
	PopulationSafety      = "safety"
	PopulationITT         = "intent_to_treat"
	PopulationEfficacy    = "efficacy"
	PopulationPerProtocol = "per_protocol"
	PopulationAllEnrolled = "all_enrolled"
)

var populationFlags = map[string]string{
	PopulationSafety:      "SAFFL",
	PopulationITT:         "ITTFL",
	PopulationEfficacy:    "EFFFL",
	PopulationPerProtocol: "PPROTFL",
}

// domainTables lists candidate tables per domain in preference order,
// analysis dataset first.
var domainTables = map[string][]string{
	"adverse_events": {"ADAE", "AE"},
	"demographics":   {"ADSL", "DM"},
	"labs":           {"ADLB", "LB"},
	"vitals":         {"ADVS", "VS"},
	"conmeds":        {"ADCM", "CM"},
}

type domainHint struct {
	domain   string
	keywords []string
}

// Keyword hints used when no extracted entity names a table. Order matters:
// the first domain with a hit wins.
var domainHints = []domainHint{
	{"adverse_events", []string{"adverse events", "adverse event", "side effects", "side effect", "toxicity", "ae", "aes", "serious events", "serious event", "sae", "discontinued", "discontinuation", "death", "deaths", "fatal"}},
	{"labs", []string{"lab", "labs", "laboratory", "lab values", "lab value", "lab results", "lab result"}},
	{"vitals", []string{"vital signs", "vital sign", "vitals", "blood pressure", "pulse"}},
	{"conmeds", []string{"concomitant", "medication", "medications", "conmed", "conmeds"}},
	{"demographics", []string{"age", "sex", "gender", "race", "ethnic", "ethnicity", "country", "arm", "enrolled", "demographic", "demographics", "died"}},
}

// Resolver chooses tables from a declared catalog.
type Resolver struct {
	catalog *models.TableCatalog
	logger  *zap.Logger
}

// New creates a resolver over a table catalog.
func New(catalog *models.TableCatalog, logger *zap.Logger) *Resolver {
	return &Resolver{catalog: catalog, logger: logger.Named("resolver")}
}

// Resolve picks the table and population for a question. Entities drive the
// domain choice; question keywords break ties and fill gaps. Returns
// ErrNoTableForDomain when neither candidate of the chosen domain exists in
// the catalog.
func (r *Resolver) Resolve(question string, entities []models.EntityMatch) (*models.TableResolution, error) {
	lower := strings.ToLower(question)

	domain := r.domainFor(lower, entities)
	res := &models.TableResolution{Domain: domain}

	if err := r.selectTable(res, domain); err != nil {
		return nil, err
	}
	r.resolvePopulation(res, lower)
	r.resolveColumns(res, lower)
	r.planJoin(res, lower)

	r.logger.Info("Table resolved",
		zap.String("table", res.SelectedTable),
		zap.String("domain", res.Domain),
		zap.String("population", res.Population),
		zap.Bool("fallback", res.FallbackUsed))
	return res, nil
}

// domainFor decides the query's domain. The first entity's table wins; when
// there are no entities the keyword hints decide, defaulting to demographics
// since subject-level counts are the commonest question shape.
func (r *Resolver) domainFor(lower string, entities []models.EntityMatch) string {
	if len(entities) > 0 {
		for domain, tables := range domainTables {
			if tables[0] == entities[0].Table {
				return domain
			}
		}
	}
	for _, h := range domainHints {
		for _, kw := range h.keywords {
			if containsPhrase(lower, kw) {
				return h.domain
			}
		}
	}
	return "demographics"
}

func (r *Resolver) selectTable(res *models.TableResolution, domain string) error {
	candidates, ok := domainTables[domain]
	if !ok {
		return fmt.Errorf("resolve domain %q: %w", domain, apperrors.ErrNoTableForDomain)
	}

	for i, name := range candidates {
		table, exists := r.catalog.Get(name)
		if !exists {
			continue
		}
		res.SelectedTable = table.Name
		res.TableType = table.Type
		res.TableColumns = table.ColumnNames()
		if i == 0 {
			res.SelectionReason = fmt.Sprintf("%s is the analysis dataset for the %s domain", table.Name, domain)
		} else {
			res.FallbackUsed = true
			res.SelectionReason = fmt.Sprintf("analysis dataset %s is not available; using source dataset %s", candidates[0], table.Name)
			res.Assumptions = append(res.Assumptions,
				fmt.Sprintf("Analysis dataset %s was unavailable, so results come from the source dataset %s.", candidates[0], table.Name))
		}
		return nil
	}
	return fmt.Errorf("resolve domain %q: no candidate table in catalog: %w", domain, apperrors.ErrNoTableForDomain)
}

// resolvePopulation detects an explicit population request. Safety-domain
// questions default to the safety population when the flag column exists;
// everything else defaults to all enrolled subjects with no filter.
func (r *Resolver) resolvePopulation(res *models.TableResolution, lower string) {
	population := PopulationAllEnrolled
	switch {
	case strings.Contains(lower, "safety population"):
		population = PopulationSafety
	case strings.Contains(lower, "intent-to-treat") || strings.Contains(lower, "intent to treat") || containsPhrase(lower, "itt"):
		population = PopulationITT
	case strings.Contains(lower, "efficacy population"):
		population = PopulationEfficacy
	case strings.Contains(lower, "per-protocol") || strings.Contains(lower, "per protocol"):
		population = PopulationPerProtocol
	case res.Domain == "adverse_events":
		population = PopulationSafety
		res.Assumptions = append(res.Assumptions,
			"Adverse event counts use the safety population unless another population is requested.")
	}

	res.Population = population
	flag, ok := populationFlags[population]
	if !ok {
		return
	}

	table, _ := r.catalog.Get(res.SelectedTable)
	switch {
	case table != nil && table.HasColumn(flag):
		res.PopulationFilter = fmt.Sprintf("%s = 'Y'", flag)
	case r.hasADSLColumn(flag):
		// Flag lives on the subject-level table; the join supplies it.
		res.PopulationFilter = fmt.Sprintf("ADSL.%s = 'Y'", flag)
		res.JoinTable = "ADSL"
		res.JoinOn = "USUBJID"
	default:
		res.Population = PopulationAllEnrolled
		res.PopulationFilter = ""
		res.Assumptions = append(res.Assumptions,
			fmt.Sprintf("Population flag %s is not present in the data; results cover all enrolled subjects.", flag))
	}
}

// resolveColumns records column choices where more than one column could
// serve, such as preferring the analysis toxicity grade over the collected
// one.
func (r *Resolver) resolveColumns(res *models.TableResolution, lower string) {
	table, ok := r.catalog.Get(res.SelectedTable)
	if !ok {
		return
	}

	if strings.Contains(lower, "grade") || strings.Contains(lower, "toxicity") {
		switch {
		case table.HasColumn("ATOXGR"):
			res.ColumnsResolved = setColumn(res.ColumnsResolved, "toxicity_grade", "ATOXGR")
		case table.HasColumn("AETOXGR"):
			res.ColumnsResolved = setColumn(res.ColumnsResolved, "toxicity_grade", "AETOXGR")
			res.Assumptions = append(res.Assumptions,
				"Analysis toxicity grade is unavailable; using the collected grade AETOXGR.")
		}
	}

	if strings.Contains(lower, "serious") && table.HasColumn("AESER") {
		res.ColumnsResolved = setColumn(res.ColumnsResolved, "serious_flag", "AESER")
	}
	if (strings.Contains(lower, "severe") || strings.Contains(lower, "severity")) && table.HasColumn("AESEV") {
		res.ColumnsResolved = setColumn(res.ColumnsResolved, "severity", "AESEV")
	}
}

var demographicAttrs = []string{"age", "sex", "gender", "race", "ethnic", "country", "treatment arm", "arm"}

// planJoin adds an ADSL join when an event-level question also groups or
// filters on subject-level attributes the chosen table lacks.
func (r *Resolver) planJoin(res *models.TableResolution, lower string) {
	if res.JoinTable != "" || res.SelectedTable == "ADSL" || !r.catalog.Has("ADSL") {
		return
	}
	table, ok := r.catalog.Get(res.SelectedTable)
	if !ok || !table.HasColumn("USUBJID") {
		return
	}

	for _, attr := range demographicAttrs {
		if !containsPhrase(lower, attr) {
			continue
		}
		col := demographicColumn(attr)
		if table.HasColumn(col) {
			continue
		}
		res.JoinTable = "ADSL"
		res.JoinOn = "USUBJID"
		res.Assumptions = append(res.Assumptions,
			"Subject attributes come from ADSL joined on USUBJID.")
		return
	}
}

func demographicColumn(attr string) string {
	switch strings.TrimSpace(attr) {
	case "age":
		return "AGE"
	case "sex", "gender":
		return "SEX"
	case "race":
		return "RACE"
	case "ethnic":
		return "ETHNIC"
	case "country":
		return "COUNTRY"
	default:
		return "TRT01A"
	}
}

func (r *Resolver) hasADSLColumn(name string) bool {
	adsl, ok := r.catalog.Get("ADSL")
	return ok && adsl.HasColumn(name)
}

// containsPhrase reports whether phrase occurs in text at word boundaries,
// so short hints like "ae" never match inside other words.
func containsPhrase(text, phrase string) bool {
	from := 0
	for {
		idx := strings.Index(text[from:], phrase)
		if idx < 0 {
			return false
		}
		pos := from + idx
		end := pos + len(phrase)
		beforeOK := pos == 0 || !isAlnum(text[pos-1])
		afterOK := end == len(text) || !isAlnum(text[end])
		if beforeOK && afterOK {
			return true
		}
		from = pos + 1
	}
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func setColumn(m map[string]string, key, value string) map[string]string {
	if m == nil {
		m = make(map[string]string)
	}
	m[key] = value
	return m
}
