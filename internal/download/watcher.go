// Package download watches the local staging directory for a finished browser
// download and validates the resulting PDF.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when no finished download appeared in time.
	ErrTimeout = errors.New("download did not finish in time")
)

const (
	DefaultTempSuffix = ".crdownload"
	DefaultPoll       = 700 * time.Millisecond
	DefaultBusyPoll   = 900 * time.Millisecond
)

// Listing is a snapshot of file names in the staging directory.
type Listing map[string]struct{}

// Watcher polls one staging directory.
type Watcher struct {
	dir          string
	tempSuffixes []string
	poll         time.Duration
	busyPoll     time.Duration
	logger       *slog.Logger
}

// Options tunes a Watcher. Zero values select the defaults.
type Options struct {
	TempSuffixes []string
	Poll         time.Duration
	BusyPoll     time.Duration // poll interval while a temp file is present
}

// NewWatcher creates a Watcher over dir.
func NewWatcher(dir string, opts Options) *Watcher {
	if len(opts.TempSuffixes) == 0 {
		opts.TempSuffixes = []string{DefaultTempSuffix}
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	if opts.BusyPoll <= 0 {
		opts.BusyPoll = DefaultBusyPoll
	}
	return &Watcher{
		dir:          dir,
		tempSuffixes: opts.TempSuffixes,
		poll:         opts.Poll,
		busyPoll:     opts.BusyPoll,
		logger:       slog.With("component", "download", "dir", dir),
	}
}

// Dir returns the staging directory.
func (w *Watcher) Dir() string { return w.dir }

// Snapshot lists the staging directory. Take it before triggering a download.
func (w *Watcher) Snapshot() (Listing, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("list staging directory: %w", err)
	}
	out := make(Listing, len(entries))
	for _, e := range entries {
		out[e.Name()] = struct{}{}
	}
	return out, nil
}

// Wait polls until no temporary download file is present and at least one
// new, non-temporary file exists compared to before. It returns the path of
// the newest such file, or ErrTimeout.
func (w *Watcher) Wait(ctx context.Context, before Listing, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for {
		path, busy, err := w.check(before)
		if err != nil {
			w.logger.Debug("staging listing failed", "error", err)
		}
		if path != "" {
			return path, nil
		}

		interval := w.poll
		if busy {
			interval = w.busyPoll
		}
		if !time.Now().Add(interval).Before(deadline) {
			// One last look at the deadline.
			if remaining := time.Until(deadline); remaining > 0 {
				if err := sleep(ctx, remaining); err != nil {
					return "", err
				}
				if path, _, _ := w.check(before); path != "" {
					return path, nil
				}
			}
			return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		if err := sleep(ctx, interval); err != nil {
			return "", err
		}
	}
}

// check returns the newest finished new file, or busy=true while a temporary
// file is still being written.
func (w *Watcher) check(before Listing) (string, bool, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return "", false, err
	}

	var (
		newest     string
		newestTime time.Time
	)
	for _, e := range entries {
		name := e.Name()
		if w.isTemp(name) {
			return "", true, nil
		}
		if e.IsDir() {
			continue
		}
		if _, seen := before[name]; seen {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest, newestTime = name, info.ModTime()
		}
	}
	if newest == "" {
		return "", false, nil
	}
	return filepath.Join(w.dir, newest), false, nil
}

func (w *Watcher) isTemp(name string) bool {
	for _, suf := range w.tempSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
