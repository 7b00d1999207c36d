// Package normalize converts fetched payloads (CSV, JSON, ZIP, XLSX) into
// the canonical on-disk CSV representation.
package normalize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sells-group/datahub-cli/internal/catalog"
)

// FormatError reports a payload that does not parse as its declared type,
// or a ZIP archive containing no CSV entry. It is recoverable at the
// orchestrator level: the next source is tried.
type FormatError struct {
	Type   catalog.SourceType
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Type, e.Reason)
}

// ToCSV converts a payload of the given source type into canonical CSV
// bytes. scratchDir is used only for archive extraction and its contents
// are disposable.
func ToCSV(typ catalog.SourceType, payload []byte, scratchDir string) ([]byte, error) {
	switch typ {
	case catalog.SourceCSV:
		// Already canonical.
		return payload, nil
	case catalog.SourceJSON:
		return jsonToCSV(payload)
	case catalog.SourceZIP:
		return zipToCSV(payload, scratchDir)
	case catalog.SourceXLSX:
		return xlsxToCSV(payload)
	default:
		return nil, &FormatError{Type: typ, Reason: "unsupported source type"}
	}
}

// writeRecord appends one canonical CSV record: every field double-quoted,
// internal quotes doubled, newline-terminated.
func writeRecord(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}
