// Package artifact owns the canonical report filename grammar
//
//	ReportePDA_<Base>[_<EmailLocal>][_<Document>][_<N>].pdf
//
// and the collision-free move of a report into the shared directory.
package artifact

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/withObsrvr/pda-report-collector/internal/identity"
)

const (
	// Prefix starts every report filename.
	Prefix = "ReportePDA_"
	// Ext is the report extension.
	Ext = ".pdf"

	maxBaseLen       = 90
	maxEmailLocalLen = 50
	defaultBase      = "PDA_Report"
)

// Base is the slugified, diacritic-free person name truncated to 90 runes.
// An empty name yields "PDA_Report".
func Base(name string) string {
	n := strings.TrimSpace(identity.StripDiacritics(name))
	if n == "" {
		n = defaultBase
	}
	return truncate(identity.Slugify(n), maxBaseLen)
}

// NameBase is like Base but returns "" for an empty name. Used for searching,
// where the placeholder base must not match other people's reports.
func NameBase(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return Base(name)
}

// EmailToken is the slugified email local part truncated to 50 runes.
func EmailToken(email string) string {
	return truncate(identity.Slugify(identity.EmailLocal(email)), maxEmailLocalLen)
}

// CanonicalRoot is the filename without extension for r.
func CanonicalRoot(r identity.Record) string {
	parts := []string{Prefix + Base(r.Name)}
	if tok := EmailToken(r.Email); tok != "" {
		parts = append(parts, tok)
	}
	if r.Document != "" {
		parts = append(parts, r.Document)
	}
	return strings.Join(parts, "_")
}

// FileName is the canonical filename for r.
func FileName(r identity.Record) string {
	return CanonicalRoot(r) + Ext
}

// Tokens splits the filename stem of path on '_'.
func Tokens(path string) []string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.Split(stem, "_")
}

// HasToken reports whether token appears in the filename of path as whole
// '_'-delimited segments. A token that itself contains '_' must match a
// contiguous run of segments. Substrings of a segment never match.
func HasToken(path, token string) bool {
	if token == "" {
		return false
	}
	want := strings.Split(identity.Slugify(token), "_")
	if len(want) == 0 || want[0] == "" {
		return false
	}
	segs := Tokens(path)
	for i := 0; i+len(want) <= len(segs); i++ {
		match := true
		for j := range want {
			if segs[i+j] != want[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// IsReport reports whether name follows the report naming prefix and extension.
func IsReport(name string) bool {
	return strings.HasPrefix(name, Prefix) && strings.EqualFold(filepath.Ext(name), Ext)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Parsed is what can be read back from a report filename. The name and
// email-local parts share the '_' separator and cannot be told apart, so
// they stay together in Stem.
type Parsed struct {
	Stem     string
	Document string
	Copy     int // collision suffix, 0 when absent
}

// minDocumentDigits separates a trailing document from a collision suffix.
const minDocumentDigits = 6

// Parse splits a report filename into its stem, trailing document and
// collision suffix. ok is false for names outside the report grammar.
func Parse(name string) (p Parsed, ok bool) {
	name = filepath.Base(name)
	if !IsReport(name) {
		return Parsed{}, false
	}
	segs := strings.Split(strings.TrimSuffix(strings.TrimPrefix(name, Prefix), filepath.Ext(name)), "_")

	if n := len(segs); n > 1 && isDigits(segs[n-1]) && len(segs[n-1]) < minDocumentDigits {
		if c, err := strconv.Atoi(segs[n-1]); err == nil && c >= 2 {
			p.Copy = c
			segs = segs[:n-1]
		}
	}
	if n := len(segs); n > 1 && isDigits(segs[n-1]) && len(segs[n-1]) >= minDocumentDigits {
		p.Document = segs[n-1]
		segs = segs[:n-1]
	}
	p.Stem = strings.Join(segs, "_")
	return p, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
