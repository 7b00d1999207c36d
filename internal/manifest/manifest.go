// Package manifest persists per-source freshness fingerprints so refreshes
// can skip downloads whose remote metadata has not changed.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fingerprint records the freshness metadata last seen for one source URL.
// A fingerprint exists only for URLs that have been processed successfully
// at least once; absence means "never fetched, always treat as changed".
type Fingerprint struct {
	ETag          string    `json:"etag,omitempty"`
	LastModified  string    `json:"last_modified,omitempty"`
	ContentLength string    `json:"content_length,omitempty"`
	SavedAs       string    `json:"saved_as"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Manifest maps source URLs to their last-seen fingerprints.
type Manifest map[string]Fingerprint

// Store abstracts manifest persistence so tests can inject an in-memory
// implementation.
type Store interface {
	// Load returns the persisted manifest, or an empty one if no manifest
	// exists or it is unreadable. It never fails the caller.
	Load() Manifest

	// Save persists the manifest. Acquisition does not roll back dataset
	// files on save failure; bookkeeping is decoupled from data.
	Save(m Manifest) error
}

// FileStore persists the manifest as pretty-printed JSON at a fixed path.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the manifest file. Missing or corrupt files yield an empty
// manifest; corruption is logged and the file will be rewritten on the
// next successful acquisition.
func (s *FileStore) Load() Manifest {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			zap.L().Warn("manifest: unreadable, starting empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return Manifest{}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		zap.L().Warn("manifest: corrupt, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return Manifest{}
	}
	if m == nil {
		m = Manifest{}
	}
	return m
}

// Save writes the manifest as indented JSON via a temp file and rename.
// Output is byte-stable for equal manifests (map keys marshal sorted).
func (s *FileStore) Save(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return eris.Wrap(err, "manifest: marshal")
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "manifest: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return eris.Wrap(err, "manifest: create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "manifest: write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "manifest: close temp file")
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "manifest: rename into %s", s.path)
	}
	return nil
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu      sync.Mutex
	m       Manifest
	SaveErr error // if set, Save returns this error

	Saves int // number of Save calls observed
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{m: Manifest{}}
}

func (s *MemStore) Load() Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Manifest, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

func (s *MemStore) Save(m Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saves++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	cp := make(Manifest, len(m))
	for k, v := range m {
		cp[k] = v
	}
	s.m = cp
	return nil
}
