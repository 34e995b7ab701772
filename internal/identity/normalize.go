package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripDiacritics decomposes s (NFKD) and removes combining marks,
// so "José Núñez" becomes "Jose Nunez".
func StripDiacritics(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName is the form of a name used inside candidate keys.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(StripDiacritics(name)))
}

// Slugify strips diacritics, keeps letters, digits and " -_.", maps every other
// rune to a space, collapses whitespace and joins the words with '_'.
func Slugify(s string) string {
	s = StripDiacritics(s)
	mapped := strings.Map(func(r rune) rune {
		if isAlnum(r) || isSlugKeep(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), "_")
}
