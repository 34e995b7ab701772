// Package inventory lists the reports filed in the shared directory and
// exports the listing for offline analysis.
package inventory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/withObsrvr/pda-report-collector/internal/artifact"
	"github.com/withObsrvr/pda-report-collector/internal/download"
	"github.com/withObsrvr/pda-report-collector/internal/index"
	"github.com/withObsrvr/pda-report-collector/internal/util"
)

// Entry describes one filed report.
type Entry struct {
	FileName string    `parquet:"file_name" json:"file_name"`
	Stem     string    `parquet:"stem" json:"stem"`
	Document string    `parquet:"document" json:"document,omitempty"`
	Copy     int32     `parquet:"copy" json:"copy,omitempty"`
	Size     int64     `parquet:"size" json:"size"`
	ModTime  time.Time `parquet:"mod_time,timestamp(millisecond)" json:"mod_time"`
	Checksum string    `parquet:"checksum" json:"checksum"`
	Pages    int32     `parquet:"pages" json:"pages"`
	Valid    bool      `parquet:"valid" json:"valid"`
	Indexed  bool      `parquet:"indexed" json:"indexed"`
}

// Options controls a scan.
type Options struct {
	// SkipPages avoids parsing every PDF, which dominates scan time on large shares.
	SkipPages bool
}

// Scan lists the reports directly inside dir, sorted by file name. keys is the
// shared index content used to flag entries whose identity has been recorded.
func Scan(dir string, keys index.Set, opts Options) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	docs, locals := indexedSignals(keys)
	logger := slog.With("component", "inventory")

	var out []Entry
	for _, d := range dirents {
		if !d.Type().IsRegular() {
			continue
		}
		parsed, ok := artifact.Parse(d.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, d.Name())
		info, err := d.Info()
		if err != nil {
			logger.Warn("stat failed", "file", d.Name(), "error", err)
			continue
		}
		sum, _, err := util.FileChecksum(path)
		if err != nil {
			logger.Warn("checksum failed", "file", d.Name(), "error", err)
			continue
		}

		e := Entry{
			FileName: d.Name(),
			Stem:     parsed.Stem,
			Document: parsed.Document,
			Copy:     int32(parsed.Copy),
			Size:     info.Size(),
			ModTime:  info.ModTime().UTC(),
			Checksum: sum,
			Indexed:  indexed(d.Name(), parsed, docs, locals),
		}
		if !opts.SkipPages {
			pages, err := download.Validate(path)
			e.Pages = int32(pages)
			e.Valid = err == nil
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

// indexedSignals collects the documents and email-local tokens present in the
// index so filenames can be matched back to it.
func indexedSignals(keys index.Set) (docs, locals map[string]struct{}) {
	docs = make(map[string]struct{})
	locals = make(map[string]struct{})
	for k := range keys {
		parts := strings.Split(k, "|")
		if len(parts) >= 2 && parts[1] != "" {
			docs[parts[1]] = struct{}{}
			continue
		}
		if strings.Contains(k, "@") {
			if tok := artifact.EmailToken(k); tok != "" {
				locals[strings.ToLower(tok)] = struct{}{}
			}
		}
	}
	return docs, locals
}

// indexed reports whether the file's document, or an email-local token in its
// name, is known to the index. Files carrying neither cannot be matched.
func indexed(fileName string, p artifact.Parsed, docs, locals map[string]struct{}) bool {
	if p.Document != "" {
		if _, ok := docs[p.Document]; ok {
			return true
		}
	}
	lower := strings.ToLower(fileName)
	for local := range locals {
		if artifact.HasToken(lower, local) {
			return true
		}
	}
	return false
}
