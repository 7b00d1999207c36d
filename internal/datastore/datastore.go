// Package datastore manages the directory of canonical dataset CSV files.
package datastore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// FileInfo describes one canonical file.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Dir is a directory of canonical `<key>.csv` files.
type Dir struct {
	root string
}

// New creates the data directory if needed and returns a Dir over it.
func New(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "datastore: create dir %s", root)
	}
	return &Dir{root: root}, nil
}

// Root returns the directory path.
func (d *Dir) Root() string { return d.root }

// Path returns the canonical file path for a dataset key.
func (d *Dir) Path(key string) string {
	return filepath.Join(d.root, key+".csv")
}

// Exists reports whether a canonical file exists for the key.
func (d *Dir) Exists(key string) bool {
	info, err := os.Stat(d.Path(key))
	return err == nil && !info.IsDir()
}

// List returns the canonical files in the store, sorted by name.
func (d *Dir) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, eris.Wrapf(err, "datastore: read dir %s", d.root)
	}

	out := []FileInfo{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Commit replaces the canonical file for a key with the given payload.
// The payload lands in a temp file first and is renamed into place, so a
// concurrent reader sees either the old content or the new, never a torn
// file.
func (d *Dir) Commit(key string, payload []byte) error {
	tmp, err := os.CreateTemp(d.root, "."+key+"-*.csv.tmp")
	if err != nil {
		return eris.Wrap(err, "datastore: create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrapf(err, "datastore: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "datastore: close temp for %s", key)
	}

	if err := os.Rename(tmpName, d.Path(key)); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "datastore: commit %s", key)
	}
	return nil
}
