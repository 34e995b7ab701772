// Package reconcile finds a report already filed in the shared directory for
// an identity, independent of the index, and brings its name to canonical form.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/withObsrvr/pda-report-collector/internal/artifact"
	"github.com/withObsrvr/pda-report-collector/internal/identity"
	"github.com/withObsrvr/pda-report-collector/internal/metrics"
	"github.com/withObsrvr/pda-report-collector/internal/util"
)

// Token weights.
const (
	scoreDocument = 3
	scoreEmail    = 2
	scoreBase     = 1

	// Digit runs this long in a filename are treated as a document number.
	minDocumentLen = 6
)

// Candidate is one existing report that shares a signal with the record.
type Candidate struct {
	Path    string
	Score   int
	ModTime time.Time
}

// Scanner searches one shared directory.
type Scanner struct {
	dir    string
	worker string
	logger *slog.Logger
}

// NewScanner creates a Scanner over dir. worker labels metrics.
func NewScanner(dir, worker string) *Scanner {
	return &Scanner{
		dir:    dir,
		worker: worker,
		logger: slog.With("component", "reconcile"),
	}
}

// signals are the filename tokens a record contributes.
type signals struct {
	base string
	eloc string
	doc  string
}

func signalsOf(r identity.Record) signals {
	return signals{
		base: artifact.NameBase(r.Name),
		eloc: artifact.EmailToken(r.Email),
		doc:  r.Document,
	}
}

func (s signals) patterns(dir string) []string {
	var pats []string
	if s.base != "" {
		pats = append(pats, filepath.Join(dir, artifact.Prefix+s.base+"*"+artifact.Ext))
	}
	if s.doc != "" {
		pats = append(pats,
			filepath.Join(dir, artifact.Prefix+"*_"+s.doc+artifact.Ext),
			filepath.Join(dir, artifact.Prefix+"*"+s.doc+"*"+artifact.Ext),
		)
	}
	if s.eloc != "" {
		pats = append(pats, filepath.Join(dir, artifact.Prefix+"*_"+s.eloc+"*"+artifact.Ext))
	}
	return pats
}

func (s signals) score(path string) int {
	score := 0
	if s.doc != "" && artifact.HasToken(path, s.doc) {
		score += scoreDocument
	}
	if s.eloc != "" && artifact.HasToken(path, s.eloc) {
		score += scoreEmail
	}
	if s.base != "" && hasBasePrefix(path, s.base) {
		score += scoreBase
	}
	return score
}

// hasBasePrefix requires the base to end on a segment boundary, so "Juan" does
// not claim "ReportePDA_Juanita.pdf".
func hasBasePrefix(path, base string) bool {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.HasPrefix(stem+"_", artifact.Prefix+base+"_")
}

// conflictingDocument reports whether path carries a different document
// number than the record, which makes it another person's report.
func (s signals) conflictingDocument(path string) bool {
	if s.doc == "" {
		return false
	}
	own := make(map[string]bool)
	for _, seg := range strings.Split(s.base+"_"+s.eloc, "_") {
		own[seg] = true
	}
	for _, tok := range artifact.Tokens(path) {
		if own[tok] || tok == s.doc {
			continue
		}
		if len(tok) >= minDocumentLen && identity.DigitsOnly(tok) == tok {
			return true
		}
	}
	return false
}

// Find returns the existing reports that match r by base-name prefix, document
// token or email token, best first: highest score, then most recently modified.
// Files matched only by a substring, or carrying another document number, are
// excluded.
func (s *Scanner) Find(r identity.Record) ([]Candidate, error) {
	sig := signalsOf(r)

	paths := make(map[string]struct{})
	for _, pat := range sig.patterns(s.dir) {
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pat, err)
		}
		for _, m := range matches {
			paths[m] = struct{}{}
		}
	}

	var out []Candidate
	for p := range paths {
		if sig.conflictingDocument(p) {
			continue
		}
		score := sig.score(p)
		if score == 0 {
			continue
		}
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			// Renamed or removed by another worker since the glob.
			continue
		}
		out = append(out, Candidate{Path: p, Score: score, ModTime: info.ModTime()})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// ensureAttempts bounds the re-scans Ensure makes when the file it chose is
// moved away by another worker.
const ensureAttempts = 3

// Ensure locates the best existing report for r and, when it lacks the email or
// document token that r supplies, renames it in place to the canonical name
// (with a numeric suffix on collision). It returns the final path and whether a
// rename happened; path is empty when nothing was found. Tokens r does not
// supply are never required.
func (s *Scanner) Ensure(r identity.Record) (string, bool, error) {
	var err error
	for attempt := 1; attempt <= ensureAttempts; attempt++ {
		var (
			path    string
			renamed bool
		)
		path, renamed, err = s.ensureOnce(r)
		if !errors.Is(err, util.ErrSourceGone) {
			return path, renamed, err
		}
		s.logger.Debug("report moved while renaming, scanning again", "attempt", attempt)
	}
	return "", false, err
}

func (s *Scanner) ensureOnce(r identity.Record) (string, bool, error) {
	cands, err := s.Find(r)
	if err != nil {
		return "", false, err
	}
	if len(cands) == 0 {
		return "", false, nil
	}

	best := cands[0].Path
	missing := Missing(best, r)
	if len(missing) == 0 {
		return best, false, nil
	}

	s.logger.Info("existing report lacks identity tokens, renaming to canonical",
		"file", filepath.Base(best), "missing", strings.Join(missing, ","))

	dst, err := artifact.RenameUnique(best, artifact.FileName(r))
	if err != nil {
		return "", false, fmt.Errorf("rename %s to canonical: %w", filepath.Base(best), err)
	}
	if m := metrics.Get(); m != nil {
		m.IncFilesRenamed(metrics.Labels{Worker: s.worker})
	}
	return dst, true, nil
}

// Missing lists the tokens ("email", "document") that r supplies but the
// filename at path lacks.
func Missing(path string, r identity.Record) []string {
	sig := signalsOf(r)
	var missing []string
	if sig.eloc != "" && !artifact.HasToken(path, sig.eloc) {
		missing = append(missing, "email")
	}
	if sig.doc != "" && !artifact.HasToken(path, sig.doc) {
		missing = append(missing, "document")
	}
	return missing
}
