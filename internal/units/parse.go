package units

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legacyPrefixes maps free-text spellings found in older product rows.
// Order matters: longer prefixes must come before their shorter overlaps.
var legacyPrefixes = []struct {
	prefix string
	unit   Unit
}{
	{"MILIGRAM", Milligram},
	{"MILLIGRAM", Milligram},
	{"MILILIT", Milliliter},
	{"MILLILIT", Milliliter},
	{"QUILO", Kilogram},
	{"QILO", Kilogram},
	{"KILO", Kilogram},
	{"GRAM", Gram},
	{"LIT", Liter},
	{"UNI", Each},
	{"PECA", Each},
	{"PCS", Each},
}

// Parse accepts the canonical codes (KG, G, MG, L, ML, UN) in any case.
func Parse(s string) (Unit, error) {
	u := Unit(strings.ToUpper(strings.TrimSpace(s)))
	if !u.Valid() {
		return "", fmt.Errorf("units: unknown unit %q", s)
	}
	return u, nil
}

// Normalize maps legacy free-text unit values to a known unit. Values that
// cannot be recognised resolve to Each and ok is false so callers can flag
// the row.
func Normalize(s string) (u Unit, ok bool) {
	key := fold(s)
	if key == "" {
		return Each, false
	}
	if u := Unit(key); u.Valid() {
		return u, true
	}
	for _, lp := range legacyPrefixes {
		if strings.HasPrefix(key, lp.prefix) {
			return lp.unit, true
		}
	}
	return Each, false
}

// fold upper-cases s and strips diacritics and separators.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = s
	}
	out = cases.Upper(language.Und).String(out)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '.' || r == '-' || r == '_' {
			return -1
		}
		return r
	}, out)
}
