package models

// MatchType names the dictionary tier that resolved a clinical term.
type MatchType string

const (
	MatchExact          MatchType = "exact"
	MatchMedicalSynonym MatchType = "medical_synonym"
	MatchUKUSSpelling   MatchType = "uk_us_spelling"
	MatchFuzzy          MatchType = "fuzzy"
	MatchMedDRA         MatchType = "meddra"
)

// EntityMatch is one free-text clinical phrase resolved to a canonical column
// value. AllVariants carries every known spelling of the canonical concept;
// the prompt builder emits an IN (...) clause whenever it holds more than one
// entry, so the generated SQL never misses a spelling variant.
type EntityMatch struct {
	OriginalTerm  string    `json:"original_term"`
	CanonicalTerm string    `json:"canonical_term"`
	MatchType     MatchType `json:"match_type"`
	Confidence    float64   `json:"confidence"` // 0-100
	Table         string    `json:"table,omitempty"`
	Column        string    `json:"column"`
	AllVariants   []string  `json:"all_variants"`
}
