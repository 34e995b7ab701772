package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoChainHead indicates no event has been filed on this chain yet.
	ErrNoChainHead = errors.New("no chain head found")

	// ErrBrokenChain is returned by VerifyChain when an event does not link to
	// its predecessor or its hash does not match its content.
	ErrBrokenChain = errors.New("audit chain broken")
)

const headsFile = "audit-chain-heads.json"

// Head is the last event filed on a worker's chain.
type Head struct {
	Hash      string    `json:"hash"`
	Seq       int64     `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ComputeEventHash hashes the event's JSON encoding with event_hash blanked.
func ComputeEventHash(evt *Event) string {
	c := *evt
	c.Chain.EventHash = ""
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ChainTracker keeps one head per worker, persisted as a small JSON file next
// to the event backups so a restarted worker continues its chain.
type ChainTracker struct {
	mu    sync.RWMutex
	heads map[string]Head
	path  string
}

// NewChainTracker loads the heads stored in dir, creating dir when missing.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if dir == "" {
		dir = "./state/audit"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	ct := &ChainTracker{heads: map[string]Head{}, path: filepath.Join(dir, headsFile)}
	data, err := os.ReadFile(ct.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &ct.heads); err != nil {
			return nil, fmt.Errorf("decode chain heads %s: %w", ct.path, err)
		}
	}
	return ct, nil
}

// GetHead returns the head of worker's chain, or ErrNoChainHead.
func (ct *ChainTracker) GetHead(worker string) (Head, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	h, ok := ct.heads[worker]
	if !ok || h.Hash == "" {
		return Head{}, ErrNoChainHead
	}
	return h, nil
}

// Advance makes evt the new head of its chain. Call it only once the event is
// durably recorded.
func (ct *ChainTracker) Advance(evt *Event) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.heads[evt.ChainKey()] = Head{
		Hash:      evt.Chain.EventHash,
		Seq:       evt.Chain.Seq,
		UpdatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}
	tmp := ct.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, ct.path)
}

// VerifyChain checks that events form one unbroken chain: ordered by sequence
// they start at seq 1 with no predecessor, each links to the one before, and
// every stored hash matches the event content.
func VerifyChain(events []Event) error {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Chain.Seq < sorted[j].Chain.Seq })

	prev := Head{}
	for i := range sorted {
		e := &sorted[i]
		if e.Chain.Seq != prev.Seq+1 {
			return fmt.Errorf("%w: event %s has seq %d, want %d", ErrBrokenChain, e.EventID, e.Chain.Seq, prev.Seq+1)
		}
		if e.Chain.PrevEventHash != prev.Hash {
			return fmt.Errorf("%w: event %s does not link to seq %d", ErrBrokenChain, e.EventID, prev.Seq)
		}
		if got := ComputeEventHash(e); got != e.Chain.EventHash {
			return fmt.Errorf("%w: event %s hash mismatch", ErrBrokenChain, e.EventID)
		}
		prev = Head{Hash: e.Chain.EventHash, Seq: e.Chain.Seq}
	}
	return nil
}

// GenerateEventID creates a unique event ID.
func GenerateEventID() string {
	return "audit_evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
