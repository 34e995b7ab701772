package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// Exists reports whether path exists. Stat errors other than not-exist count as
// existing so callers never overwrite something they could not inspect.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// ErrSourceGone is returned by MoveFile when src no longer exists, typically
// because another worker moved it first.
var ErrSourceGone = errors.New("source file is gone")

// MoveFile moves src to dst without ever replacing an existing dst. It hard
// links src into place and then removes src, falling back to an exclusive
// copy when the filesystem cannot link (other device, some network shares).
//
// An existing dst yields an error wrapping os.ErrExist, unless dst already is
// src (a concurrent mover placed it), in which case src is dropped and the move
// succeeds. Moving a file onto its own path is a no-op. A missing src yields
// ErrSourceGone. A failed move never removes a
// dst it did not create.
func MoveFile(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceGone, src)
		}
		return nil
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceGone, src)
		}
		return fmt.Errorf("stat %s: %w", src, err)
	}

	linkErr := os.Link(src, dst)
	switch {
	case linkErr == nil:
		return removeSource(src)
	case errors.Is(linkErr, os.ErrExist):
		if dstInfo, err := os.Stat(dst); err == nil && os.SameFile(srcInfo, dstInfo) {
			return removeSource(src)
		}
		return fmt.Errorf("place %s: %w", dst, os.ErrExist)
	case errors.Is(linkErr, os.ErrNotExist):
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceGone, src)
		}
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}
	return removeSource(src)
}

func removeSource(src string) error {
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove source after move: %w", err)
	}
	return nil
}

// copyFile copies src to a new file at dst. dst is removed again only when
// this call created it.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceGone, src)
		}
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	fail := func(format string, err error) error {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf(format, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		return fail("copy to %s: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fail("sync %s: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close %s: %w", dst, err)
	}
	os.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}
