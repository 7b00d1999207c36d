// Package catalog loads the dataset catalog that drives acquisition.
package catalog

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SourceType identifies the transport/format contract of a remote source.
type SourceType string

const (
	SourceCSV  SourceType = "csv"
	SourceJSON SourceType = "json"
	SourceZIP  SourceType = "zip"
	SourceXLSX SourceType = "xlsx"
)

// Valid reports whether the source type is one the normalizer handles.
func (t SourceType) Valid() bool {
	switch t {
	case SourceCSV, SourceJSON, SourceZIP, SourceXLSX:
		return true
	}
	return false
}

// AlwaysFetch reports whether sources of this type skip the conditional
// probe and refetch on every refresh. JSON endpoints are typically live
// API responses with no stable freshness headers.
func (t SourceType) AlwaysFetch() bool {
	return t == SourceJSON
}

// Source is one remote location of a dataset.
type Source struct {
	Type SourceType `yaml:"type"`
	URL  string     `yaml:"url"`
}

// Dataset describes one named tabular data product. Source order defines
// fallback priority: the first source that commits wins.
type Dataset struct {
	Key     string   `yaml:"key"`
	Label   string   `yaml:"label"`
	Enabled bool     `yaml:"enabled"`
	Sources []Source `yaml:"sources"`
}

// Catalog is the ordered list of dataset descriptors.
type Catalog struct {
	Datasets []Dataset `yaml:"datasets"`
}

// Load reads and validates a catalog YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}

	seen := make(map[string]bool, len(cat.Datasets))
	for _, ds := range cat.Datasets {
		if ds.Key == "" {
			return nil, eris.New("catalog: dataset with empty key")
		}
		// Keys name files in the dataset store, so they must be path-safe.
		if strings.ContainsAny(ds.Key, "/\\") || strings.Contains(ds.Key, "..") {
			return nil, eris.Errorf("catalog: unsafe dataset key %q", ds.Key)
		}
		if seen[ds.Key] {
			return nil, eris.Errorf("catalog: duplicate dataset key %q", ds.Key)
		}
		seen[ds.Key] = true

		for _, src := range ds.Sources {
			if !src.Type.Valid() {
				return nil, eris.Errorf("catalog: dataset %q: unknown source type %q", ds.Key, src.Type)
			}
			if src.URL == "" {
				return nil, eris.Errorf("catalog: dataset %q: source with empty url", ds.Key)
			}
		}
	}

	return &cat, nil
}

// Enabled returns the enabled datasets in catalog order.
func (c *Catalog) Enabled() []Dataset {
	var out []Dataset
	for _, ds := range c.Datasets {
		if ds.Enabled {
			out = append(out, ds)
		}
	}
	return out
}

// Get returns the enabled dataset with the given key.
func (c *Catalog) Get(key string) (*Dataset, bool) {
	for i := range c.Datasets {
		if c.Datasets[i].Key == key && c.Datasets[i].Enabled {
			return &c.Datasets[i], true
		}
	}
	return nil, false
}
