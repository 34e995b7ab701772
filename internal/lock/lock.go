// Package lock implements the cross-machine index lock: a marker file created
// with O_CREATE|O_EXCL in the shared directory. Marker files work uniformly on
// network shares where native advisory locks are unreliable.
//
// Acquisition fails open. When the marker cannot be created within Timeout the
// caller proceeds without the lock instead of blocking forever.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/pda-report-collector/internal/metrics"
)

const (
	DefaultTimeout    = 15 * time.Second
	DefaultBackoff    = 300 * time.Millisecond
	DefaultStaleAfter = 10 * time.Minute
)

// Options configures a Locker. Zero values select the defaults, except
// StaleAfter where a negative value disables stale takeover.
type Options struct {
	Timeout    time.Duration
	Backoff    time.Duration
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// Locker acquires one marker path.
type Locker struct {
	path       string
	timeout    time.Duration
	backoff    time.Duration
	staleAfter time.Duration
	hostname   string
	pid        int
	logger     *slog.Logger

	now      func() time.Time
	shareNow func() time.Time // clock of the filesystem holding the marker
	alive    func(pid int) bool
}

// New creates a Locker for the marker at path.
func New(path string, opts Options) *Locker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	switch {
	case opts.StaleAfter == 0:
		opts.StaleAfter = DefaultStaleAfter
	case opts.StaleAfter < 0:
		opts.StaleAfter = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.With("component", "lock")
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}

	l := &Locker{
		path:       path,
		timeout:    opts.Timeout,
		backoff:    opts.Backoff,
		staleAfter: opts.StaleAfter,
		hostname:   hostname,
		pid:        os.Getpid(),
		logger:     opts.Logger.With("lock", path),
		now:        time.Now,
		alive:      processAlive,
	}
	l.shareNow = l.readShareClock
	return l
}

// readShareClock reads the share's notion of now from the mtime of a scratch
// file created next to the marker. Marker ages are measured on that clock so a
// host whose clock runs ahead does not expire a live lock early. It falls back
// to the local clock when the scratch file cannot be created.
func (l *Locker) readShareClock() time.Time {
	f, err := os.CreateTemp(filepath.Dir(l.path), ".clock-*")
	if err != nil {
		return l.now()
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)

	info, err := os.Stat(name)
	if err != nil {
		return l.now()
	}
	return info.ModTime()
}

// Path returns the marker path.
func (l *Locker) Path() string { return l.path }

// Handle is the result of one acquisition attempt.
type Handle struct {
	path  string
	token string
	held  bool
	once  sync.Once
	err   error
}

// Held reports whether the marker was actually created by this handle.
// A false value means the caller is running unlocked after a timeout.
func (h *Handle) Held() bool { return h != nil && h.held }

// Token returns the owner token written to the marker.
func (h *Handle) Token() string { return h.token }

// Release removes the marker when this handle created it and it still carries
// our token. It is safe to call more than once and on a handle that never held
// the lock.
func (h *Handle) Release() error {
	if h == nil || !h.held {
		return nil
	}
	h.once.Do(func() {
		data, err := os.ReadFile(h.path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				h.err = fmt.Errorf("read lock marker: %w", err)
			}
			return
		}
		if strings.TrimSpace(string(data)) != h.token {
			// Taken over by another worker after we were judged stale.
			return
		}
		if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.err = fmt.Errorf("remove lock marker: %w", err)
		}
	})
	return h.err
}

// Acquire spins on exclusive creation of the marker with a fixed back-off. On
// timeout it logs a warning and returns an unheld Handle and a nil error. The
// only error returned is the context's.
func (l *Locker) Acquire(ctx context.Context) (*Handle, error) {
	token := NewToken(l.hostname, l.pid)
	start := l.now()
	deadline := start.Add(l.timeout)

	for {
		created, err := l.tryCreate(token)
		if created {
			l.observe(start, "held")
			return &Handle{path: l.path, token: token, held: true}, nil
		}
		if err != nil {
			l.logger.Debug("lock create failed", "error", err)
		} else if l.takeOverIfStale() {
			continue
		}

		if !l.now().Before(deadline) {
			l.logger.Warn("could not acquire lock, continuing without it",
				"path", l.path, "timeout", l.timeout)
			l.observe(start, "timeout")
			return &Handle{path: l.path, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

// TryAcquire makes a single attempt, taking over a stale marker if needed.
// The returned Handle is unheld when another live holder owns the marker.
func (l *Locker) TryAcquire() (*Handle, error) {
	token := NewToken(l.hostname, l.pid)
	for attempt := 0; attempt < 2; attempt++ {
		created, err := l.tryCreate(token)
		if err != nil {
			return nil, err
		}
		if created {
			return &Handle{path: l.path, token: token, held: true}, nil
		}
		if !l.takeOverIfStale() {
			break
		}
	}
	return &Handle{path: l.path, token: token}, nil
}

// With runs fn inside the lock and releases it on every exit path, including
// a panic in fn. fn also runs when acquisition timed out.
func With(ctx context.Context, l *Locker, fn func() error) (err error) {
	h, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(); rerr != nil {
			l.logger.Warn("lock release failed", "error", rerr)
		}
	}()
	return fn()
}

// tryCreate reports created=true when the marker now holds token. err is set
// for failures other than the marker already existing.
func (l *Locker) tryCreate(token string) (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	_, werr := f.WriteString(token)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(l.path)
		return false, errors.Join(werr, cerr)
	}
	return true, nil
}

// takeOverIfStale removes a marker that is older than staleAfter or whose
// holder is a dead process on this host. It returns true when the marker was
// removed and acquisition should be retried immediately.
func (l *Locker) takeOverIfStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		// Gone already: retry right away.
		return errors.Is(err, os.ErrNotExist)
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	holder := strings.TrimSpace(string(data))

	age := l.shareNow().Sub(info.ModTime())
	reason := ""
	switch {
	case l.staleAfter > 0 && age > l.staleAfter:
		reason = "expired"
	case l.holderDead(holder):
		reason = "holder process gone"
	default:
		return false
	}

	// Only remove the marker we judged stale, not one created in between.
	if current, err := os.ReadFile(l.path); err != nil || strings.TrimSpace(string(current)) != holder {
		return err != nil && errors.Is(err, os.ErrNotExist)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("stale lock removal failed", "holder", holder, "error", err)
		return false
	}
	l.logger.Warn("removed stale lock", "path", l.path, "holder", holder, "age", age.Round(time.Second), "reason", reason)
	if m := metrics.Get(); m != nil {
		m.IncStaleLocksRemoved(metrics.Labels{Worker: l.hostname})
	}
	return true
}

func (l *Locker) observe(start time.Time, outcome string) {
	if m := metrics.Get(); m != nil {
		m.ObserveLockWait(metrics.Labels{Worker: l.hostname, Outcome: outcome}, l.now().Sub(start).Seconds())
	}
}

func (l *Locker) holderDead(holder string) bool {
	host, pid, ok := ParseToken(holder)
	if !ok || !strings.EqualFold(host, l.hostname) || pid == l.pid {
		return false
	}
	return !l.alive(pid)
}

// NewToken builds the opaque owner token hostname-pid-uuidhex.
func NewToken(hostname string, pid int) string {
	return fmt.Sprintf("%s-%d-%s", hostname, pid, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// ParseToken splits a token produced by NewToken. Hostnames may contain '-',
// so the token is parsed from the right.
func ParseToken(token string) (host string, pid int, ok bool) {
	rest, id, found := cutLast(token, "-")
	if !found || id == "" {
		return "", 0, false
	}
	host, pidStr, found := cutLast(rest, "-")
	if !found || host == "" {
		return "", 0, false
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return "", 0, false
	}
	return host, pid, true
}

// Holder describes the current marker, for status output.
type Holder struct {
	Token string
	Host  string
	PID   int
	Age   time.Duration
}

// Inspect returns the current holder, or ok=false when no marker exists.
func (l *Locker) Inspect() (Holder, bool) {
	info, err := os.Stat(l.path)
	if err != nil {
		return Holder{}, false
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return Holder{}, false
	}
	h := Holder{Token: strings.TrimSpace(string(data)), Age: l.shareNow().Sub(info.ModTime())}
	h.Host, h.PID, _ = ParseToken(h.Token)
	return h, true
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
