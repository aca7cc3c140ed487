package vocab

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrDictionaryLoad is returned when the term dictionary file cannot be read
// or parsed. It is fatal at startup.
var ErrDictionaryLoad = errors.New("dictionary load failed")

//go:embed default_keywords.json
var defaultDictionary []byte

// Group identifies a family of terms in the dictionary.
type Group string

const (
	GroupCard       Group = "card"
	GroupAction     Group = "action"
	GroupWeakIntent Group = "weak_intent"
	GroupPayment    Group = "payment"
	GroupContact    Group = "contact"
	GroupRegion     Group = "region"
	GroupBenefit    Group = "benefit_type"
)

// Entry is one canonical term with its surface forms.
type Entry struct {
	Synonyms         []string          `json:"synonyms,omitempty"`
	Variations       []string          `json:"variations,omitempty"`
	Category         string            `json:"category,omitempty"`
	Route            string            `json:"route,omitempty"`
	CompoundPatterns []CompoundPattern `json:"compound_patterns,omitempty"`
}

// CompoundPattern is a regex over the raw query whose hit adds Category to
// the matched actions.
type CompoundPattern struct {
	Pattern  string   `json:"pattern"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords,omitempty"`
}

// Dictionary is the on-disk term dictionary.
type Dictionary struct {
	Version      string           `json:"version"`
	Actions      map[string]Entry `json:"actions"`
	WeakIntents  map[string]Entry `json:"weak_intents"`
	Payments     map[string]Entry `json:"payments"`
	Contact      map[string]Entry `json:"contact"`
	Regions      map[string]Entry `json:"regions"`
	BenefitTypes map[string]Entry `json:"benefit_types"`
	Cards        map[string]Entry `json:"cards"`
	Stopwords    []string         `json:"stopwords,omitempty"`
}

// LoadDictionary reads and parses a dictionary file.
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrDictionaryLoad, path, err)
	}
	return ParseDictionary(data)
}

// ParseDictionary parses dictionary JSON.
func ParseDictionary(data []byte) (*Dictionary, error) {
	var d Dictionary
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrDictionaryLoad, err)
	}
	if len(d.Actions) == 0 && len(d.Cards) == 0 && len(d.Payments) == 0 {
		return nil, fmt.Errorf("%w: dictionary has no terms", ErrDictionaryLoad)
	}
	return &d, nil
}

// DefaultDictionary returns the dictionary compiled into the binary.
func DefaultDictionary() *Dictionary {
	d, err := ParseDictionary(defaultDictionary)
	if err != nil {
		panic(err)
	}
	return d
}

// group returns the entries of a dictionary group.
func (d *Dictionary) group(g Group) map[string]Entry {
	switch g {
	case GroupCard:
		return d.Cards
	case GroupAction:
		return d.Actions
	case GroupWeakIntent:
		return d.WeakIntents
	case GroupPayment:
		return d.Payments
	case GroupContact:
		return d.Contact
	case GroupRegion:
		return d.Regions
	case GroupBenefit:
		return d.BenefitTypes
	}
	return nil
}
