package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/withObsrvr/pda-report-collector/internal/util"
)

// maxSuffix bounds the numeric suffixes MoveUnique tries.
const maxSuffix = 1000

// candidate returns dir/<stem><ext> for k < 2 and dir/<stem>_<k><ext> after.
func candidate(dir, fileName string, k int) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		ext = Ext
	}
	stem := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if k < 2 {
		return filepath.Join(dir, stem+ext)
	}
	return filepath.Join(dir, stem+"_"+strconv.Itoa(k)+ext)
}

// MoveUnique moves src into dir under fileName, or under <stem>_<N><ext> with
// the smallest N >= 2 that is free, without overwriting an existing file. When another worker already placed src under
// one of the names, that path is returned. A src that disappeared yields an
// error wrapping util.ErrSourceGone.
func MoveUnique(src, dir, fileName string) (string, error) {
	if err := util.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	for k := 1; k <= maxSuffix; k++ {
		dst := candidate(dir, fileName, k)
		err := util.MoveFile(src, dst)
		if err == nil {
			return dst, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("move %s to %s: %w", src, dst, err)
		}
	}
	return "", fmt.Errorf("move %s: no free name for %s in %s", src, fileName, dir)
}

// RenameUnique renames path in place to fileName within the same directory.
// Renaming a file onto its own name is a no-op.
func RenameUnique(path, fileName string) (string, error) {
	dir := filepath.Dir(path)
	if filepath.Base(path) == fileName {
		return path, nil
	}
	return MoveUnique(path, dir, fileName)
}
