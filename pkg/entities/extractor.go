package entities

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

// Match tier confidences. Fuzzy matches carry their similarity score.
const (
	confExact   = 100
	confSynonym = 95
	confMedDRA  = 92
	confUKUS    = 90
)

// Config controls extraction.
type Config struct {
	// FuzzyThreshold is the minimum similarity (0-100) for a fuzzy match.
	FuzzyThreshold int
}

// DefaultConfig returns the standard extraction settings.
func DefaultConfig() Config {
	return Config{FuzzyThreshold: 70}
}

// Extractor resolves clinical phrases in question text to canonical terms.
// Dictionary tiers apply in priority order: exact, synonym, spelling, fuzzy.
// Longer phrases win over shorter ones covering the same words.
type Extractor struct {
	dict    *Dictionary
	cfg     Config
	logger  *zap.Logger
	phrases []string
	// fuzzyKeys are the single-word phrases eligible as fuzzy targets.
	fuzzyKeys []string
}

// NewExtractor builds an extractor over a loaded dictionary.
func NewExtractor(dict *Dictionary, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 100 {
		cfg.FuzzyThreshold = DefaultConfig().FuzzyThreshold
	}

	seen := make(map[string]bool)
	var phrases []string
	add := func(p string) {
		p = strings.ToLower(p)
		if !seen[p] {
			seen[p] = true
			phrases = append(phrases, p)
		}
	}
	for p := range dict.byPhrase {
		add(p)
	}
	for p := range dict.bySynonym {
		add(p)
	}
	// Longest first so "peripheral oedema" consumes its words before
	// "oedema" can. Ties break alphabetically for determinism.
	sort.Slice(phrases, func(i, j int) bool {
		if len(phrases[i]) != len(phrases[j]) {
			return len(phrases[i]) > len(phrases[j])
		}
		return phrases[i] < phrases[j]
	})

	var fuzzyKeys []string
	for _, p := range phrases {
		if !strings.Contains(p, " ") && len(p) >= 4 {
			fuzzyKeys = append(fuzzyKeys, p)
		}
	}

	return &Extractor{
		dict:      dict,
		cfg:       cfg,
		logger:    logger.Named("entities"),
		phrases:   phrases,
		fuzzyKeys: fuzzyKeys,
	}
}

type span struct{ start, end int }

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}

// Extract finds clinical entities in a question. Results are ordered by
// position in the text; each canonical concept is reported once, resolved by
// the highest-priority tier that matched it.
func (e *Extractor) Extract(text string) []models.EntityMatch {
	lower := strings.ToLower(text)

	var consumed []span
	byCanonical := make(map[string]*models.EntityMatch)
	position := make(map[string]int)

	record := func(pos int, m models.EntityMatch) {
		existing, ok := byCanonical[m.CanonicalTerm]
		if !ok || m.Confidence > existing.Confidence {
			byCanonical[m.CanonicalTerm] = &m
			if !ok || pos < position[m.CanonicalTerm] {
				position[m.CanonicalTerm] = pos
			}
		}
	}

	// Dictionary pass, longest phrases first.
	for _, phrase := range e.phrases {
		pos := findWord(lower, phrase, consumed)
		if pos < 0 {
			continue
		}
		consumed = append(consumed, span{pos, pos + len(phrase)})

		if syn, ok := e.dict.bySynonym[phrase]; ok {
			term := e.dict.Lookup(syn.Canonical)
			if term == nil {
				e.logger.Warn("Synonym points at unknown term",
					zap.String("synonym", phrase),
					zap.String("canonical", syn.Canonical))
				continue
			}
			matchType, conf := models.MatchMedDRA, float64(confMedDRA)
			if syn.Kind == "synonym" {
				matchType, conf = models.MatchMedicalSynonym, confSynonym
			}
			record(pos, entityFor(term, phrase, matchType, conf))
			continue
		}

		term := e.dict.byPhrase[phrase]
		matchType, conf := models.MatchExact, float64(confExact)
		canonLower := strings.ToLower(term.Canonical)
		if phrase != canonLower && e.dict.normalizeSpelling(phrase) == e.dict.normalizeSpelling(canonLower) {
			matchType, conf = models.MatchUKUSSpelling, confUKUS
		}
		record(pos, entityFor(term, phrase, matchType, conf))
	}

	// Fuzzy pass over leftover words catches typos like "heddache".
	for _, tok := range tokenize(lower) {
		if len(tok.word) < 5 || overlaps(consumed, tok.start, tok.end) || stopwords[tok.word] {
			continue
		}
		key, score := e.bestFuzzy(tok.word)
		if key == "" {
			continue
		}

		var term *Term
		if syn, ok := e.dict.bySynonym[key]; ok {
			term = e.dict.Lookup(syn.Canonical)
		} else {
			term = e.dict.byPhrase[key]
		}
		if term == nil {
			continue
		}
		// Dictionary tiers outrank fuzzy for the same concept.
		if _, already := byCanonical[strings.ToUpper(term.Canonical)]; already {
			continue
		}
		consumed = append(consumed, span{tok.start, tok.end})
		record(tok.start, entityFor(term, tok.word, models.MatchFuzzy, score))
	}

	out := make([]models.EntityMatch, 0, len(byCanonical))
	for _, m := range byCanonical {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		return position[out[i].CanonicalTerm] < position[out[j].CanonicalTerm]
	})

	if len(out) > 0 {
		names := make([]string, len(out))
		for i, m := range out {
			names[i] = m.CanonicalTerm
		}
		e.logger.Debug("Entities extracted", zap.Strings("terms", names))
	}
	return out
}

func entityFor(term *Term, original string, matchType models.MatchType, confidence float64) models.EntityMatch {
	return models.EntityMatch{
		OriginalTerm:  original,
		CanonicalTerm: strings.ToUpper(term.Canonical),
		MatchType:     matchType,
		Confidence:    confidence,
		Table:         term.Table(),
		Column:        term.Column(),
		AllVariants:   term.AllValues(),
	}
}

// bestFuzzy returns the closest single-word dictionary key and its score
// (0-100), or empty when nothing clears the threshold.
func (e *Extractor) bestFuzzy(word string) (string, float64) {
	bestKey, bestScore := "", 0.0
	for _, key := range e.fuzzyKeys {
		sim := levenshtein.Similarity(word, key, nil)
		if sim > bestScore {
			bestKey, bestScore = key, sim
		}
	}
	score := math.Round(bestScore * 100)
	if score < float64(e.cfg.FuzzyThreshold) || score >= confExact {
		return "", 0
	}
	return bestKey, score
}

type token struct {
	word       string
	start, end int
}

func tokenize(text string) []token {
	var tokens []token
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, token{text[start:i], start, i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text[start:], start, len(text)})
	}
	return tokens
}

// findWord locates phrase in text at a word boundary, skipping occurrences
// inside already-consumed spans. Returns -1 when absent.
func findWord(text, phrase string, consumed []span) int {
	from := 0
	for {
		idx := strings.Index(text[from:], phrase)
		if idx < 0 {
			return -1
		}
		pos := from + idx
		end := pos + len(phrase)
		if boundedAt(text, pos, end) && !overlaps(consumed, pos, end) {
			return pos
		}
		from = pos + 1
	}
}

func boundedAt(text string, start, end int) bool {
	if start > 0 && isWordByte(text[start-1]) {
		return false
	}
	if end < len(text) && isWordByte(text[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

var stopwords = map[string]bool{
	"about": true, "after": true, "before": true, "between": true,
	"count": true, "during": true, "every": true, "group": true,
	"having": true, "patients": true, "patient": true, "severe": true,
	"serious": true, "showed": true, "study": true, "subjects": true,
	"subject": true, "their": true, "there": true, "treatment": true,
	"where": true, "which": true, "while": true, "average": true,
	"experienced": true, "events": true, "number": true, "percentage": true,
}
