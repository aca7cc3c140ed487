// Package policy holds the static policy pins: curated documents that are
// injected into a result when a query hits their trigger tokens.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

// ErrInvalidPins is returned when a pin file cannot be used.
var ErrInvalidPins = errors.New("invalid policy pins")

//go:embed default_pins.yaml
var defaultPinsYAML []byte

// Pin maps trigger tokens to an ordered list of document ids.
type Pin struct {
	Name   string        `yaml:"name" json:"name"`
	Table  storage.Table `yaml:"table" json:"table"`
	DocIDs []string      `yaml:"doc_ids" json:"doc_ids"`
	// Tokens fire the pin when any appears in the query.
	Tokens []string `yaml:"tokens" json:"tokens"`
	// CardNames, when set, additionally require one of them in the query.
	CardNames        []string `yaml:"card_names,omitempty" json:"card_names,omitempty"`
	ExcludeCardNames []string `yaml:"exclude_card_names,omitempty" json:"exclude_card_names,omitempty"`
	// Routes limits the pin to these routes; empty means any.
	Routes []string `yaml:"routes,omitempty" json:"routes,omitempty"`
	// Force applies the pin even when the result is not confident enough.
	Force bool `yaml:"force,omitempty" json:"force,omitempty"`
}

type pinFile struct {
	Version string `yaml:"version"`
	Pins    []Pin  `yaml:"pins"`
}

type pinSet struct {
	version string
	pins    []Pin
}

// Store holds the active pin set. Reload swaps it atomically.
type Store struct {
	set atomic.Pointer[pinSet]
}

// Query is what a pin is matched against.
type Query struct {
	Route      string
	Normalized string
	Compact    string
	// Allowed is false when only forced pins may apply.
	Allowed bool
}

// Request asks the engine to fetch a pin's documents.
type Request struct {
	Pin    string
	Table  storage.Table
	DocIDs []string
	Force  bool
}

// Load reads pins from path, or the built-in set when path is empty.
func Load(path string) (*Store, error) {
	s := &Store{}
	if err := s.Reload(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Default returns a store with the built-in pins.
func Default() *Store {
	s, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("built-in policy pins: %v", err))
	}
	return s
}

// NewStore creates a store from pins.
func NewStore(pins []Pin) (*Store, error) {
	if err := validate(pins); err != nil {
		return nil, err
	}
	s := &Store{}
	s.set.Store(&pinSet{pins: clonePins(pins)})
	return s, nil
}

// Reload replaces the pin set. A failed reload keeps the current set.
func (s *Store) Reload(path string) error {
	raw := defaultPinsYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: read %s: %w", ErrInvalidPins, path, err)
		}
		raw = b
	}
	var f pinFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("%w: parse: %w", ErrInvalidPins, err)
	}
	if err := validate(f.Pins); err != nil {
		return err
	}
	s.set.Store(&pinSet{version: f.Version, pins: f.Pins})
	return nil
}

// Version returns the version of the active pin file.
func (s *Store) Version() string {
	return s.set.Load().version
}

// Pins returns a copy of the active pins.
func (s *Store) Pins() []Pin {
	return clonePins(s.set.Load().pins)
}

// DocIDs reports every pinned document id.
func (s *Store) DocIDs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range s.set.Load().pins {
		for _, id := range p.DocIDs {
			out[id] = struct{}{}
		}
	}
	return out
}

// Match returns the fetch requests of the pins firing for q, in pin order.
func (s *Store) Match(q Query) []Request {
	var out []Request
	for _, p := range s.set.Load().pins {
		if !q.Allowed && !p.Force {
			continue
		}
		if len(p.Routes) > 0 && !slices.Contains(p.Routes, q.Route) {
			continue
		}
		if !mentions(q, p.Tokens) {
			continue
		}
		if len(p.CardNames) > 0 && !mentions(q, p.CardNames) {
			continue
		}
		if mentions(q, p.ExcludeCardNames) {
			continue
		}
		out = append(out, Request{Pin: p.Name, Table: p.Table, DocIDs: slices.Clone(p.DocIDs), Force: p.Force})
	}
	return out
}

func mentions(q Query, terms []string) bool {
	for _, t := range terms {
		t = strings.ToLower(t)
		if t == "" {
			continue
		}
		if strings.Contains(q.Normalized, t) || strings.Contains(q.Compact, strings.ReplaceAll(t, " ", "")) {
			return true
		}
	}
	return false
}

func validate(pins []Pin) error {
	seen := make(map[string]bool, len(pins))
	for i, p := range pins {
		if p.Name == "" {
			return fmt.Errorf("%w: pin %d has no name", ErrInvalidPins, i)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate pin %q", ErrInvalidPins, p.Name)
		}
		seen[p.Name] = true
		if _, err := storage.ParseTable(string(p.Table)); err != nil {
			return fmt.Errorf("%w: pin %q: %w", ErrInvalidPins, p.Name, err)
		}
		if len(p.DocIDs) == 0 || len(p.Tokens) == 0 {
			return fmt.Errorf("%w: pin %q needs doc_ids and tokens", ErrInvalidPins, p.Name)
		}
	}
	return nil
}

func clonePins(pins []Pin) []Pin {
	out := make([]Pin, len(pins))
	for i, p := range pins {
		p.DocIDs = slices.Clone(p.DocIDs)
		p.Tokens = slices.Clone(p.Tokens)
		p.CardNames = slices.Clone(p.CardNames)
		p.ExcludeCardNames = slices.Clone(p.ExcludeCardNames)
		p.Routes = slices.Clone(p.Routes)
		out[i] = p
	}
	return out
}
