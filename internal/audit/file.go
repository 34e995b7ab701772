package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// FileBackup saves audit events to local files.
type FileBackup struct {
	dir string
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./state/audit"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &FileBackup{dir: dir}, nil
}

// Save writes an audit event to a local JSON file and returns its path.
func (f *FileBackup) Save(evt *Event) (string, error) {
	// {worker}_{timestamp}_{event_id}.json keeps a directory listing in filing order.
	filename := fmt.Sprintf("%s_%s_%s.json",
		safeSegment(evt.Report.Worker),
		evt.Timestamp.UTC().Format("20060102T150405.000Z"),
		evt.EventID,
	)

	path := filepath.Join(f.dir, filename)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	return path, nil
}

// LoadChains reads every event backup in dir and groups them by chain.
func LoadChains(dir string) (map[string][]Event, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list audit dir: %w", err)
	}

	chains := map[string][]Event{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == headsFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		chains[evt.ChainKey()] = append(chains[evt.ChainKey()], evt)
	}
	return chains, nil
}

func safeSegment(s string) string {
	if s == "" {
		return "worker"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == ' ' {
			return '-'
		}
		return r
	}, s)
}

// FileOnlyEmitter writes events to files only.
type FileOnlyEmitter struct {
	chainTracker *ChainTracker
	backup       *FileBackup
}

// NewFileOnlyEmitter creates an emitter that only writes to local files.
func NewFileOnlyEmitter(dir string) (*FileOnlyEmitter, error) {
	chainTracker, err := NewChainTracker(dir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(dir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &FileOnlyEmitter{
		chainTracker: chainTracker,
		backup:       backup,
	}, nil
}

// Emit writes an audit event to a local file and advances the chain.
func (e *FileOnlyEmitter) Emit(evt *Event) error {
	prev, _ := e.chainTracker.GetHead(evt.ChainKey())
	evt.EventID = GenerateEventID()
	evt.SetChainHashes(prev)

	path, err := e.backup.Save(evt)
	if err != nil {
		return err
	}
	log.Printf("[audit] #%d %s %s -> %s", evt.Chain.Seq, evt.Report.State, evt.Report.FileName, path)

	if err := e.chainTracker.Advance(evt); err != nil {
		log.Printf("[audit] warning: failed to update chain head: %v", err)
	}

	return nil
}

// Close releases resources.
func (e *FileOnlyEmitter) Close() error {
	return nil
}
