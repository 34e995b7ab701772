package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{Timeout: 5 * time.Second, Backoff: time.Millisecond, StaleAfter: -1}
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	l := New(path, fastOptions())

	h, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, h.Held())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, h.Token(), string(data))

	host, pid, ok := ParseToken(h.Token())
	require.True(t, ok)
	assert.Equal(t, l.hostname, host)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, h.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Second release is a no-op.
	assert.NoError(t, h.Release())
}

func TestMutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")

	var inside, maxInside, heldCount int32
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := New(path, fastOptions())
			for i := 0; i < 15; i++ {
				h, err := l.Acquire(context.Background())
				if err != nil || !h.Held() {
					t.Errorf("acquire failed: held=%v err=%v", h.Held(), err)
					return
				}
				atomic.AddInt32(&heldCount, 1)
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(200 * time.Microsecond)
				atomic.AddInt32(&inside, -1)
				if err := h.Release(); err != nil {
					t.Errorf("release failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside, "two holders were inside the critical section at once")
	assert.Equal(t, int32(90), heldCount)
}

func TestAcquireFailsOpenOnTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	foreign := "other-host-4242-0123456789abcdef0123456789abcdef"
	require.NoError(t, os.WriteFile(path, []byte(foreign), 0644))

	l := New(path, Options{Timeout: 50 * time.Millisecond, Backoff: 10 * time.Millisecond, StaleAfter: -1})
	start := time.Now()
	h, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Held())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Releasing an unheld handle never touches the foreign marker.
	require.NoError(t, h.Release())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, foreign, string(data))
}

func TestStaleMarkerByAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	require.NoError(t, os.WriteFile(path, []byte("other-host-4242-abc"), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	l := New(path, Options{Timeout: time.Second, Backoff: time.Millisecond, StaleAfter: 10 * time.Minute})
	h, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Held())
	require.NoError(t, h.Release())
}

func TestMarkerAgeUsesShareClock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.lock")
	require.NoError(t, os.WriteFile(path, []byte(NewToken("elsewhere", 12)), 0644))

	// This host's clock runs an hour ahead of the share.
	l := New(path, Options{Timeout: 30 * time.Millisecond, Backoff: 5 * time.Millisecond, StaleAfter: 10 * time.Minute})
	l.now = func() time.Time { return time.Now().Add(time.Hour) }

	h, err := l.TryAcquire()
	require.NoError(t, err)
	assert.False(t, h.Held(), "a fresh marker is not expired by local clock skew")

	holder, ok := l.Inspect()
	require.True(t, ok)
	assert.Less(t, holder.Age, time.Minute)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "reading the share clock leaves nothing behind")
}

func TestStaleMarkerDeadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	l := New(path, Options{Timeout: time.Second, Backoff: time.Millisecond, StaleAfter: -1})
	l.alive = func(pid int) bool { return pid != 999999 }

	require.NoError(t, os.WriteFile(path, []byte(NewToken(l.hostname, 999999)), 0644))

	h, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Held())
	require.NoError(t, h.Release())
}

func TestLiveRemoteHolderIsNotTakenOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	l := New(path, Options{Timeout: 30 * time.Millisecond, Backoff: 5 * time.Millisecond, StaleAfter: time.Hour})
	l.alive = func(int) bool { return false }

	// A different host cannot be checked, so only age could expire it.
	require.NoError(t, os.WriteFile(path, []byte(NewToken("elsewhere", 12)), 0644))
	h, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Held())
}

func TestReleaseKeepsForeignMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	l := New(path, fastOptions())

	h, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, h.Held())

	// Another worker took the marker over while we were presumed stale.
	require.NoError(t, os.WriteFile(path, []byte("intruder-1-ff"), 0644))
	require.NoError(t, h.Release())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "intruder-1-ff", string(data))
}

func TestWithReleasesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	l := New(path, fastOptions())
	boom := errors.New("boom")

	err := With(context.Background(), l, func() error {
		_, statErr := os.Stat(path)
		assert.NoError(t, statErr, "marker should exist inside the critical section")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWithReleasesOnPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	l := New(path, fastOptions())

	func() {
		defer func() {
			assert.NotNil(t, recover())
		}()
		_ = With(context.Background(), l, func() error {
			panic("kaboom")
		})
	}()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	require.NoError(t, os.WriteFile(path, []byte("other-1-aa"), 0644))

	l := New(path, Options{Timeout: time.Minute, Backoff: 5 * time.Millisecond, StaleAfter: -1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	h, err := l.Acquire(ctx)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseToken(t *testing.T) {
	host, pid, ok := ParseToken("my-host-01-1234-0123456789abcdef")
	require.True(t, ok)
	assert.Equal(t, "my-host-01", host)
	assert.Equal(t, 1234, pid)

	_, _, ok = ParseToken("garbage")
	assert.False(t, ok)
	_, _, ok = ParseToken("host-notapid-abc")
	assert.False(t, ok)
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	l := New(path, fastOptions())

	_, ok := l.Inspect()
	assert.False(t, ok)

	h, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer h.Release()

	holder, ok := l.Inspect()
	require.True(t, ok)
	assert.Equal(t, h.Token(), holder.Token)
	assert.Equal(t, os.Getpid(), holder.PID)
}

func TestTryAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claim")
	a := New(path, Options{})
	h, err := a.TryAcquire()
	require.NoError(t, err)
	require.True(t, h.Held())

	b := New(path, Options{})
	h2, err := b.TryAcquire()
	require.NoError(t, err)
	assert.False(t, h2.Held(), "live holder keeps the marker")

	require.NoError(t, h.Release())
	h3, err := b.TryAcquire()
	require.NoError(t, err)
	assert.True(t, h3.Held())
	require.NoError(t, h3.Release())
}
