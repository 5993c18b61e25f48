// Package sanitizer is the pipeline's security gate. It decides whether a
// question is safe to process, rejecting PHI/PII, SQL injection and prompt
// injection before any model or store is touched. Rejection is terminal.
package sanitizer

import (
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

// Pattern family categories reported in Detection.Category and in the
// blocked reason.
const (
	CategoryPHI             = "phi"
	CategorySQLInjection    = "sql_injection"
	CategoryPromptInjection = "prompt_injection"
	CategoryBlocklist       = "blocklist"
)

// Config controls the sanitizer. Each pattern family can be disabled
// independently; the custom blocklist is applied last.
type Config struct {
	MaxLength             int
	EnablePHI             bool
	EnableSQLInjection    bool
	EnablePromptInjection bool
	Blocklist             []string
}

// DefaultConfig returns the standard gate settings with all families enabled.
func DefaultConfig() Config {
	return Config{
		MaxLength:             2000,
		EnablePHI:             true,
		EnableSQLInjection:    true,
		EnablePromptInjection: true,
	}
}

type rule struct {
	name    string
	pattern *regexp.Regexp
}

// Pattern families. All checks are case-insensitive.
var (
	phiRules = []rule{
		{"ssn", regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`)},
		{"email", regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)},
		{"phone", regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)},
		{"credit_card", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
		{"medical_record_number", regexp.MustCompile(`(?i)\bMRN[:\s]*\d{6,10}\b`)},
	}

	sqlInjectionRules = []rule{
		{"union_select", regexp.MustCompile(`(?i)\bUNION\s+(?:ALL\s+)?SELECT\b`)},
		{"drop_table", regexp.MustCompile(`(?i)\bDROP\s+TABLE\b`)},
		{"delete_from", regexp.MustCompile(`(?i)\bDELETE\s+FROM\b`)},
		{"insert_into", regexp.MustCompile(`(?i)\bINSERT\s+INTO\b`)},
		{"update_set", regexp.MustCompile(`(?i)\bUPDATE\s+\S+\s+SET\b`)},
		{"inline_comment", regexp.MustCompile(`--`)},
		{"exec", regexp.MustCompile(`(?i)\bEXEC(?:UTE)?\b`)},
		{"stacked_statement", regexp.MustCompile(`(?i);\s*(?:SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|EXEC)\b`)},
	}

	promptInjectionRules = []rule{
		{"ignore_instructions", regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?previous\s+instructions`)},
		{"new_instructions", regexp.MustCompile(`(?i)\bnew\s+instructions\b`)},
		{"jailbreak", regexp.MustCompile(`(?i)\bjailbreak\b`)},
		{"pretend_you_are", regexp.MustCompile(`(?i)pretend\s+you\s+are`)},
		{"reveal_system_prompt", regexp.MustCompile(`(?i)reveal\s+(?:your\s+)?system\s+prompt`)},
	}

	whitespaceRun = regexp.MustCompile(`\s+`)
)

// Sanitizer applies the pattern families to incoming questions. It performs
// no I/O; Sanitize is deterministic and pure.
type Sanitizer struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a sanitizer.
func New(cfg Config, logger *zap.Logger) *Sanitizer {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultConfig().MaxLength
	}
	return &Sanitizer{cfg: cfg, logger: logger.Named("sanitizer")}
}

// Sanitize normalizes the question and applies the pattern families in
// order: PHI, SQL injection, prompt injection, then the custom blocklist.
// Any match blocks the question with a reason naming the category.
func (s *Sanitizer) Sanitize(text string) *models.SanitizationResult {
	normalized := normalize(text)

	if normalized == "" {
		return blocked(normalized, "empty question", nil)
	}
	if len(normalized) > s.cfg.MaxLength {
		return blocked(normalized, "question exceeds maximum length", nil)
	}

	var detections []models.Detection

	if s.cfg.EnablePHI {
		detections = append(detections, matchRules(normalized, CategoryPHI, phiRules)...)
		if len(detections) > 0 {
			s.logBlocked(CategoryPHI, detections)
			return blocked(normalized, "question appears to contain personal data (PHI/PII)", detections)
		}
	}

	if s.cfg.EnableSQLInjection {
		detections = matchRules(normalized, CategorySQLInjection, sqlInjectionRules)
		// Second opinion from libinjection's SQLi fingerprinting. It catches
		// encodings the keyword rules miss.
		if len(detections) == 0 {
			if isSQLi, fingerprint := libinjection.IsSQLi(normalized); isSQLi {
				detections = append(detections, models.Detection{
					Category: CategorySQLInjection,
					Pattern:  "libinjection:" + string(fingerprint),
					Snippet:  snippet(normalized),
				})
			}
		}
		if len(detections) > 0 {
			s.logBlocked(CategorySQLInjection, detections)
			return blocked(normalized, "question contains SQL injection markers", detections)
		}
	}

	if s.cfg.EnablePromptInjection {
		detections = matchRules(normalized, CategoryPromptInjection, promptInjectionRules)
		if len(detections) > 0 {
			s.logBlocked(CategoryPromptInjection, detections)
			return blocked(normalized, "question contains prompt injection markers", detections)
		}
	}

	lower := strings.ToLower(normalized)
	for _, term := range s.cfg.Blocklist {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			det := []models.Detection{{Category: CategoryBlocklist, Pattern: term, Snippet: snippet(normalized)}}
			s.logBlocked(CategoryBlocklist, det)
			return blocked(normalized, "question matches a blocked term", det)
		}
	}

	return &models.SanitizationResult{IsSafe: true, SanitizedText: normalized}
}

func (s *Sanitizer) logBlocked(category string, detections []models.Detection) {
	patterns := make([]string, len(detections))
	for i, d := range detections {
		patterns[i] = d.Pattern
	}
	s.logger.Warn("Question blocked",
		zap.String("category", category),
		zap.Strings("patterns", patterns))
}

// normalize trims, collapses runs of whitespace, and strips NUL bytes.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func matchRules(text, category string, rules []rule) []models.Detection {
	var out []models.Detection
	for _, r := range rules {
		if m := r.pattern.FindString(text); m != "" {
			out = append(out, models.Detection{
				Category: category,
				Pattern:  r.name,
				Snippet:  snippet(m),
			})
		}
	}
	return out
}

func snippet(s string) string {
	if len(s) > 40 {
		return s[:40]
	}
	return s
}

func blocked(text, reason string, detections []models.Detection) *models.SanitizationResult {
	return &models.SanitizationResult{
		IsSafe:        false,
		SanitizedText: text,
		BlockedReason: reason,
		Detections:    detections,
	}
}
