package appointment

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Matcher decides whether a patient reference refers to the patient named
// on an appointment record.
type Matcher interface {
	Match(want, got PatientRef) bool
}

// NameTokenMatcher matches by stable ID when both sides carry one and falls
// back to display-name heuristics otherwise. Patients who share surnames can
// be confused by the fallback; the remote agenda offers nothing better.
type NameTokenMatcher struct{}

func (NameTokenMatcher) Match(want, got PatientRef) bool {
	if want.ID != "" && got.ID != "" {
		return strings.EqualFold(strings.TrimSpace(want.ID), strings.TrimSpace(got.ID))
	}

	record := normalize(got.Name)
	if record == "" {
		return false
	}
	variants := NameVariants(want.Name)
	if len(variants) == 0 {
		return false
	}
	for _, v := range variants {
		if strings.Contains(record, v) {
			return true
		}
	}

	// any token of the last two name components
	tokens := strings.Fields(normalize(want.Name))
	if len(tokens) > 2 {
		tokens = tokens[len(tokens)-2:]
	}
	recordTokens := make(map[string]struct{})
	for _, tok := range strings.Fields(record) {
		recordTokens[tok] = struct{}{}
	}
	for _, tok := range tokens {
		if _, ok := recordTokens[tok]; ok {
			return true
		}
	}
	return false
}

// NameVariants lists the orderings a clinic agenda uses for a full name:
// as written, surnames first, last surname first, and fully reversed.
func NameVariants(name string) []string {
	parts := strings.Fields(normalize(name))
	if len(parts) == 0 {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	add := func(p []string) {
		v := strings.Join(p, " ")
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	add(parts)
	if len(parts) > 2 {
		add(concat(parts[len(parts)-2:], parts[:len(parts)-2]))
	}
	if len(parts) > 1 {
		add(concat(parts[len(parts)-1:], parts[:len(parts)-1]))
		rev := make([]string, len(parts))
		for i, p := range parts {
			rev[len(parts)-1-i] = p
		}
		add(rev)
	}
	return out
}

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// normalize lowercases s, strips accents and collapses whitespace, so
// "Peña  Sánchez" and "PENA SANCHEZ" compare equal.
func normalize(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
