// Package entities extracts clinical entities from user questions by
// matching against embedded dictionaries of MedDRA terms, lab and vital
// parameters, medications, colloquial synonyms, and UK/US spelling pairs.
package entities

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var dataFS embed.FS

// Term categories. Each category maps to the table and column a matched
// entity filters on.
const (
	CategoryAdverseEvent = "adverse_event"
	CategoryLab          = "lab"
	CategoryVital        = "vital"
	CategoryMedication   = "medication"
)

// Term is one dictionary entry: a canonical coded value plus the variants a
// study database may carry for it.
type Term struct {
	Canonical string   `yaml:"canonical"`
	Category  string   `yaml:"category"`
	Variants  []string `yaml:"variants"`
}

// AllValues returns the canonical value followed by its variants, all
// upper-cased. This is the IN-list the SQL generator filters on.
func (t *Term) AllValues() []string {
	values := make([]string, 0, len(t.Variants)+1)
	values = append(values, strings.ToUpper(t.Canonical))
	for _, v := range t.Variants {
		values = append(values, strings.ToUpper(v))
	}
	return values
}

// Table returns the dataset a term of this category lives in.
func (t *Term) Table() string {
	switch t.Category {
	case CategoryLab:
		return "ADLB"
	case CategoryVital:
		return "ADVS"
	case CategoryMedication:
		return "ADCM"
	default:
		return "ADAE"
	}
}

// Column returns the coded column a term of this category filters on.
func (t *Term) Column() string {
	switch t.Category {
	case CategoryLab, CategoryVital:
		return "PARAM"
	case CategoryMedication:
		return "CMDECOD"
	default:
		return "AEDECOD"
	}
}

type synonym struct {
	Term      string `yaml:"term"`
	Canonical string `yaml:"canonical"`
	Kind      string `yaml:"kind"`
}

type spellingPair struct {
	UK string `yaml:"uk"`
	US string `yaml:"us"`
}

type termsFile struct {
	Terms []*Term `yaml:"terms"`
}

type synonymsFile struct {
	Synonyms []synonym `yaml:"synonyms"`
}

type spellingsFile struct {
	Spellings []spellingPair `yaml:"spellings"`
}

// Dictionary holds the loaded term data with lookup indexes. Immutable after
// Load, so safe for concurrent readers.
type Dictionary struct {
	terms []*Term

	// byPhrase maps every lower-cased canonical and variant to its term.
	byPhrase map[string]*Term
	// bySynonym maps lower-cased colloquial phrases to their entry.
	bySynonym map[string]synonym
	// ukToUS normalizes UK spellings word by word.
	ukToUS map[string]string
}

// Load parses the embedded dictionary files and builds the indexes.
func Load() (*Dictionary, error) {
	var tf termsFile
	if err := readYAML("data/terms.yaml", &tf); err != nil {
		return nil, err
	}
	var sf synonymsFile
	if err := readYAML("data/synonyms.yaml", &sf); err != nil {
		return nil, err
	}
	var spf spellingsFile
	if err := readYAML("data/spellings.yaml", &spf); err != nil {
		return nil, err
	}

	d := &Dictionary{
		terms:     tf.Terms,
		byPhrase:  make(map[string]*Term),
		bySynonym: make(map[string]synonym),
		ukToUS:    make(map[string]string),
	}

	for _, t := range tf.Terms {
		d.byPhrase[strings.ToLower(t.Canonical)] = t
		for _, v := range t.Variants {
			d.byPhrase[strings.ToLower(v)] = t
		}
	}
	for _, s := range sf.Synonyms {
		d.bySynonym[strings.ToLower(s.Term)] = s
	}
	for _, p := range spf.Spellings {
		d.ukToUS[strings.ToLower(p.UK)] = strings.ToLower(p.US)
	}
	return d, nil
}

func readYAML(path string, out any) error {
	raw, err := dataFS.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read dictionary %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse dictionary %s: %w", path, err)
	}
	return nil
}

// Lookup returns the term a canonical name refers to, or nil.
func (d *Dictionary) Lookup(canonical string) *Term {
	return d.byPhrase[strings.ToLower(canonical)]
}

// TermCount reports the number of loaded terms.
func (d *Dictionary) TermCount() int {
	return len(d.terms)
}

// normalizeSpelling rewrites UK-spelled words to their US form so the two
// regional spellings of a term compare equal.
func (d *Dictionary) normalizeSpelling(phrase string) string {
	words := strings.Fields(strings.ToLower(phrase))
	for i, w := range words {
		if us, ok := d.ukToUS[w]; ok {
			words[i] = us
		}
	}
	return strings.Join(words, " ")
}
