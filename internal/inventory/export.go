package inventory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"
)

// Format is an export encoding.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatNDJSON  Format = "ndjson.zst"
)

// FormatFor picks the format from the output file extension.
func FormatFor(path string) (Format, error) {
	switch {
	case strings.HasSuffix(path, ".parquet"):
		return FormatParquet, nil
	case strings.HasSuffix(path, ".ndjson.zst"), strings.HasSuffix(path, ".jsonl.zst"):
		return FormatNDJSON, nil
	default:
		return "", fmt.Errorf("unknown export format for %s (want .parquet or .ndjson.zst)", filepath.Base(path))
	}
}

// Write encodes entries to w.
func Write(w io.Writer, f Format, entries []Entry) error {
	switch f {
	case FormatParquet:
		return writeParquet(w, entries)
	case FormatNDJSON:
		return writeNDJSON(w, entries)
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// WriteFile exports entries to path, choosing the format from its extension.
// The file is written to a temporary name first and renamed into place.
func WriteFile(path string, entries []Entry) error {
	f, err := FormatFor(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if err := Write(bw, f, entries); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close export: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}

func writeParquet(w io.Writer, entries []Entry) error {
	pw := parquet.NewGenericWriter[Entry](w, parquet.Compression(&parquet.Zstd))
	if _, err := pw.Write(entries); err != nil {
		pw.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func writeNDJSON(w io.Writer, entries []Entry) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			zw.Close()
			return fmt.Errorf("encode entry %s: %w", entries[i].FileName, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd encoder: %w", err)
	}
	return nil
}

// ReadFile decodes an export written by WriteFile.
func ReadFile(path string) ([]Entry, error) {
	f, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer file.Close()

	if f == FormatNDJSON {
		return ReadNDJSON(bufio.NewReader(file))
	}
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat export: %w", err)
	}
	return ReadParquet(file, info.Size())
}

// ReadNDJSON decodes a zstd-compressed NDJSON export.
func ReadNDJSON(r io.Reader) ([]Entry, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer zr.Close()

	var out []Entry
	dec := json.NewDecoder(zr)
	for {
		var e Entry
		err := dec.Decode(&e)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		out = append(out, e)
	}
}

// ReadParquet decodes a parquet export.
func ReadParquet(r io.ReaderAt, size int64) ([]Entry, error) {
	rows, err := parquet.Read[Entry](r, size)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}
