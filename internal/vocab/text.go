package vocab

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	wsRE      = regexp.MustCompile(`\s+`)
	compactRE = regexp.MustCompile(`[^0-9A-Za-z_가-힣]+`)
	tokenRE   = regexp.MustCompile(`[0-9a-zA-Z가-힣]+`)
)

// Normalize applies NFKC, trims, collapses whitespace and lower-cases.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = wsRE.ReplaceAllString(strings.TrimSpace(text), " ")
	return strings.ToLower(text)
}

// Compact lower-cases and strips everything except ASCII word characters and
// Hangul syllables.
func Compact(text string) string {
	return compactRE.ReplaceAllString(strings.ToLower(text), "")
}

// StripSpaces removes all whitespace.
func StripSpaces(text string) string {
	return wsRE.ReplaceAllString(text, "")
}

// Tokens splits text into alphanumeric/Hangul runs of at least two runes.
func Tokens(text string) []string {
	var out []string
	for _, tok := range tokenRE.FindAllString(strings.ToLower(text), -1) {
		if len([]rune(tok)) < 2 {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// ExpandVariants returns the spelling variants a dictionary term is indexed
// under: lower-cased, whitespace-free, hyphen and middle-dot alternatives.
func ExpandVariants(term string) []string {
	base := strings.TrimSpace(term)
	if base == "" {
		return nil
	}
	candidates := []string{
		base,
		strings.ToLower(base),
		StripSpaces(base),
		strings.ReplaceAll(base, "-", " "),
		strings.ReplaceAll(base, " - ", "-"),
		strings.ReplaceAll(base, "·", " "),
		strings.ReplaceAll(base, "·", ""),
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	return UniqueInOrder(out)
}

// UniqueInOrder drops repeated items, keeping first occurrences.
func UniqueInOrder(items []string) []string {
	if len(items) == 0 {
		return items
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// ContainsAny reports whether text contains any of the terms.
func ContainsAny(text string, terms ...string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(text, t) {
			return true
		}
	}
	return false
}
