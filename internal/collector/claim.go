package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/withObsrvr/pda-report-collector/internal/lock"
)

// ErrClaimed means another worker is generating the same person's report.
var ErrClaimed = errors.New("identity claimed by another worker")

const claimsDir = "claims"

// Claimer reserves an identity for report generation. Take returns ErrClaimed
// when another worker holds it.
type Claimer interface {
	Take(keys []string) (release func(), err error)
}

// Claims guards report generation per identity with a marker file in the
// shared directory, so two workers reaching the same person at the same time
// do not both generate a report. A claim is taken only on the acquisition
// path, after the index and filesystem checks have missed.
type Claims struct {
	dir        string
	staleAfter time.Duration
}

// NewClaims creates claim markers under <sharedDir>/claims. Claims older than
// staleAfter are treated as abandoned.
func NewClaims(sharedDir string, staleAfter time.Duration) (*Claims, error) {
	dir := filepath.Join(sharedDir, claimsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create claims directory: %w", err)
	}
	return &Claims{dir: dir, staleAfter: staleAfter}, nil
}

// Path returns the marker path for one candidate key.
func (c *Claims) Path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:12])+".claim")
}

// Take claims every candidate key of an identity, so two rows that share any
// key (the same name and document under different emails, say) contend for the
// same report. Keys are claimed in sorted order; when one is held by someone
// else the keys already taken are released and ErrClaimed is returned.
// Identities without keys cannot be claimed and always succeed with a no-op
// release.
func (c *Claims) Take(keys []string) (release func(), err error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var held []*lock.Handle
	release = func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release()
		}
	}
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		h, err := lock.New(c.Path(key), lock.Options{StaleAfter: c.staleAfter}).TryAcquire()
		if err != nil {
			release()
			return nil, fmt.Errorf("claim identity: %w", err)
		}
		if !h.Held() {
			release()
			return nil, ErrClaimed
		}
		held = append(held, h)
	}
	return release, nil
}
