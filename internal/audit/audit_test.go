package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() Event {
	return Event{
		Version:   eventVersion,
		EventType: eventType,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Report: ReportInfo{
			Worker:        "host-a",
			State:         "acquired",
			FileName:      "ReportePDA_Ana_Lopez_ana_123456.pdf",
			Checksum:      "sha256:abc",
			ByteSize:      1234,
			CandidateKeys: []string{"ana@x.com", "ana lopez|123456"},
		},
		Producer: ProducerInfo{Name: "pda-collector", Version: "test"},
	}
}

func TestComputeEventHash(t *testing.T) {
	evt := sampleEvent()
	evt.SetChainHashes(Head{})

	assert.True(t, strings.HasPrefix(evt.Chain.EventHash, "sha256:"), evt.Chain.EventHash)
	assert.Empty(t, evt.Chain.PrevEventHash)
	assert.Equal(t, int64(1), evt.Chain.Seq)
}

func TestHashChainDeterminism(t *testing.T) {
	a, b := sampleEvent(), sampleEvent()
	a.SetChainHashes(Head{Hash: "prev_hash_123", Seq: 4})
	b.SetChainHashes(Head{Hash: "prev_hash_123", Seq: 4})
	assert.Equal(t, a.Chain.EventHash, b.Chain.EventHash)

	c := sampleEvent()
	c.SetChainHashes(Head{Hash: "other_prev", Seq: 4})
	assert.NotEqual(t, a.Chain.EventHash, c.Chain.EventHash)

	d := sampleEvent()
	d.Report.FileName = "ReportePDA_Ana_Lopez.pdf"
	d.SetChainHashes(Head{Hash: "prev_hash_123", Seq: 4})
	assert.NotEqual(t, a.Chain.EventHash, d.Chain.EventHash)

	e := sampleEvent()
	e.SetChainHashes(Head{Hash: "prev_hash_123", Seq: 5})
	assert.NotEqual(t, a.Chain.EventHash, e.Chain.EventHash, "seq is part of the hash")
}

func TestHashIgnoresOwnHashField(t *testing.T) {
	evt := sampleEvent()
	evt.SetChainHashes(Head{Hash: "p", Seq: 1})
	want := evt.Chain.EventHash
	assert.Equal(t, want, ComputeEventHash(&evt))
}

func TestChainTrackerPersists(t *testing.T) {
	dir := t.TempDir()
	ct, err := NewChainTracker(dir)
	require.NoError(t, err)

	_, err = ct.GetHead("host-a")
	assert.ErrorIs(t, err, ErrNoChainHead)

	evt := sampleEvent()
	evt.SetChainHashes(Head{})
	require.NoError(t, ct.Advance(&evt))

	reopened, err := NewChainTracker(dir)
	require.NoError(t, err)
	head, err := reopened.GetHead("host-a")
	require.NoError(t, err)
	assert.Equal(t, evt.Chain.EventHash, head.Hash)
	assert.Equal(t, int64(1), head.Seq)
	assert.False(t, head.UpdatedAt.IsZero())
}

func chainOf(n int) []Event {
	var out []Event
	var prev Head
	for i := 0; i < n; i++ {
		e := sampleEvent()
		e.EventID = GenerateEventID()
		e.SetChainHashes(prev)
		prev = Head{Hash: e.Chain.EventHash, Seq: e.Chain.Seq}
		out = append(out, e)
	}
	return out
}

func TestVerifyChain(t *testing.T) {
	events := chainOf(3)
	events[0], events[2] = events[2], events[0]
	assert.NoError(t, VerifyChain(events), "order on input does not matter")
	assert.NoError(t, VerifyChain(nil))

	tampered := chainOf(3)
	tampered[1].Report.FileName = "ReportePDA_Otro.pdf"
	assert.ErrorIs(t, VerifyChain(tampered), ErrBrokenChain)

	gap := chainOf(3)
	assert.ErrorIs(t, VerifyChain([]Event{gap[0], gap[2]}), ErrBrokenChain)

	relinked := chainOf(2)
	relinked[1].Chain.PrevEventHash = "sha256:other"
	assert.ErrorIs(t, VerifyChain(relinked), ErrBrokenChain)
}

func writeReport(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "ReportePDA_Ana_Lopez.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 test"), 0o644))
	return p
}

func readEvents(t *testing.T, dir string) []Event {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "host-a_*.json"))
	require.NoError(t, err)
	var out []Event
	for _, m := range matches {
		data, err := os.ReadFile(m)
		require.NoError(t, err)
		var e Event
		require.NoError(t, json.Unmarshal(data, &e))
		out = append(out, e)
	}
	return out
}

func TestFileOnlyEmitterLinksEvents(t *testing.T) {
	work := t.TempDir()
	auditDir := filepath.Join(t.TempDir(), "audit")
	report := writeReport(t, work)

	em := NewEmitter(Config{Enabled: true, Dir: auditDir, Producer: ProducerInfo{Name: "test"}})
	defer em.Close()

	r := Report{Worker: "host-a", State: "acquired", Path: report, FileName: filepath.Base(report)}
	require.NoError(t, em.EmitReport(context.Background(), r))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, em.EmitReport(context.Background(), r))

	events := readEvents(t, auditDir)
	require.Len(t, events, 2)

	byPrev := map[string]Event{}
	for _, e := range events {
		byPrev[e.Chain.PrevEventHash] = e
		assert.Equal(t, int64(len("%PDF-1.4 test")), e.Report.ByteSize)
		assert.True(t, strings.HasPrefix(e.Report.Checksum, "sha256:"))
		assert.Equal(t, ComputeEventHash(&e), e.Chain.EventHash)
	}
	require.NoError(t, VerifyChain(events))
	first, ok := byPrev[""]
	require.True(t, ok, "first event has no predecessor")
	second, ok := byPrev[first.Chain.EventHash]
	require.True(t, ok, "second event links to the first")
	assert.NotEqual(t, first.EventID, second.EventID)

	chains, err := LoadChains(auditDir)
	require.NoError(t, err)
	require.Len(t, chains["host-a"], 2)
	assert.NoError(t, VerifyChain(chains["host-a"]))
}

func TestLoadChainsMissingDir(t *testing.T) {
	chains, err := LoadChains(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	assert.Empty(t, chains)
}

func TestEmitMissingFile(t *testing.T) {
	em := NewEmitter(Config{Enabled: true, Dir: t.TempDir()})
	err := em.EmitReport(context.Background(), Report{Worker: "host-a", Path: filepath.Join(t.TempDir(), "gone.pdf")})
	assert.Error(t, err)
}

func TestDisabledEmitterIsNoop(t *testing.T) {
	em := NewEmitter(Config{})
	assert.NoError(t, em.EmitReport(context.Background(), Report{Path: "/does/not/exist"}))
	assert.NoError(t, em.Close())
}

func TestHTTPEmitterRetries(t *testing.T) {
	var calls atomic.Int32
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	auditDir := t.TempDir()
	em, err := NewHTTPEmitter(Config{Enabled: true, Endpoint: srv.URL, Dir: auditDir})
	require.NoError(t, err)
	em.delay = time.Millisecond

	evt := sampleEvent()
	require.NoError(t, em.Emit(context.Background(), &evt))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, evt.Chain.EventHash, got.Chain.EventHash)

	head, err := em.chainTracker.GetHead("host-a")
	require.NoError(t, err)
	assert.Equal(t, evt.Chain.EventHash, head.Hash)
	assert.Equal(t, int64(1), got.Chain.Seq)
	assert.Len(t, readEvents(t, auditDir), 1)
}

func TestHTTPEmitterGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	em, err := NewHTTPEmitter(Config{Enabled: true, Endpoint: srv.URL, Dir: t.TempDir()})
	require.NoError(t, err)
	em.delay = time.Millisecond

	evt := sampleEvent()
	err = em.Emit(context.Background(), &evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")

	_, err = em.chainTracker.GetHead("host-a")
	assert.ErrorIs(t, err, ErrNoChainHead, "failed emission does not advance the chain")
}
