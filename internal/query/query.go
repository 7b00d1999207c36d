// Package query answers filtered, paginated reads over canonical dataset
// files without loading them fully into memory.
package query

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/datahub-cli/internal/datastore"
)

const (
	// MaxLimit bounds response size regardless of the requested page.
	MaxLimit = 20000

	// DefaultLimit applies when the caller requests no positive limit.
	DefaultLimit = 100
)

// NotFoundError reports a query against a dataset with no canonical file.
// The caller is expected to run acquisition first.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dataset %q has no canonical file", e.Key)
}

// Result is one page of matching rows plus the total match count.
type Result struct {
	Headers      []string            `json:"headers"`
	Rows         []map[string]string `json:"rows"`
	TotalMatched int                 `json:"total_matched"`
}

// Engine streams canonical files out of a datastore directory.
type Engine struct {
	dir *datastore.Dir
}

// NewEngine creates a query engine over the given store.
func NewEngine(dir *datastore.Dir) *Engine {
	return &Engine{dir: dir}
}

// Query streams the canonical file for key record by record. A record
// matches when q is empty or its lowercased, whitespace-joined raw fields
// contain the lowercased q. Rows holds the matches ranked in
// (offset, offset+limit]; TotalMatched counts matches across the whole
// file regardless of the page window.
func (e *Engine) Query(key, q string, limit, offset int) (*Result, error) {
	if !e.dir.Exists(key) {
		return nil, &NotFoundError{Key: key}
	}

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	f, err := os.Open(e.dir.Path(key))
	if err != nil {
		return nil, eris.Wrapf(err, "query: open %s", key)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return &Result{Headers: []string{}, Rows: []map[string]string{}}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "query: read header of %s", key)
	}

	needle := strings.ToLower(q)
	result := &Result{Headers: headers, Rows: []map[string]string{}}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "query: read row of %s", key)
		}

		if needle != "" {
			haystack := strings.ToLower(strings.Join(record, " "))
			if !strings.Contains(haystack, needle) {
				continue
			}
		}

		result.TotalMatched++
		if result.TotalMatched <= offset || len(result.Rows) >= limit {
			continue
		}

		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			} else {
				row[h] = ""
			}
		}
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}
