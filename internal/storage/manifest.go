package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// UploadEntry records where a local file was uploaded.
type UploadEntry struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
}

// Manifest tracks uploaded files so an interrupted publish can resume. It is
// keyed by the file's slash-separated path relative to the published directory.
type Manifest struct {
	mu       sync.Mutex
	Uploaded map[string]UploadEntry `json:"uploaded"`
}

// LoadManifest reads the manifest at path. A missing file yields an empty
// manifest.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{Uploaded: make(map[string]UploadEntry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Uploaded == nil {
		m.Uploaded = make(map[string]UploadEntry)
	}
	return m, nil
}

// Has reports whether rel was already uploaded.
func (m *Manifest) Has(rel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Uploaded[rel]
	return ok
}

// Mark records an upload of rel.
func (m *Manifest) Mark(rel string, e UploadEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Uploaded[rel] = e
}

// Len returns the number of recorded uploads.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Uploaded)
}

// Save writes the manifest atomically.
func (m *Manifest) Save(path string) error {
	m.mu.Lock()
	data, err := marshalManifest(m.Uploaded)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}

	return nil
}

func marshalManifest(uploaded map[string]UploadEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Uploaded map[string]UploadEntry `json:"uploaded"`
	}{uploaded}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
