package normalize

import (
	"bytes"

	"github.com/tidwall/gjson"

	"github.com/sells-group/datahub-cli/internal/catalog"
)

// recordKeys are the conventional fields checked, in order, for the record
// array when a JSON document is a wrapping object.
var recordKeys = []string{"content", "data", "results"}

// jsonToCSV flattens a JSON document into canonical CSV. The header is the
// union of keys across all records in first-seen order; a record missing a
// key renders that cell empty.
func jsonToCSV(payload []byte) ([]byte, error) {
	if !gjson.ValidBytes(payload) {
		return nil, &FormatError{Type: catalog.SourceJSON, Reason: "invalid JSON"}
	}

	doc := gjson.ParseBytes(payload)

	var records []gjson.Result
	switch {
	case doc.IsArray():
		records = doc.Array()
	case doc.IsObject():
		for _, key := range recordKeys {
			if arr := doc.Get(key); arr.IsArray() {
				records = arr.Array()
				break
			}
		}
		if records == nil {
			// No conventional array field: the object itself is the record.
			records = []gjson.Result{doc}
		}
	default:
		return nil, &FormatError{Type: catalog.SourceJSON, Reason: "expected object or array"}
	}

	// gjson iterates object members in document order, which gives the
	// first-seen header ordering the canonical format requires.
	var headers []string
	index := make(map[string]int)
	for _, rec := range records {
		rec.ForEach(func(key, _ gjson.Result) bool {
			k := key.String()
			if _, ok := index[k]; !ok {
				index[k] = len(headers)
				headers = append(headers, k)
			}
			return true
		})
	}

	var buf bytes.Buffer
	writeRecord(&buf, headers)

	row := make([]string, len(headers))
	for _, rec := range records {
		for i := range row {
			row[i] = ""
		}
		rec.ForEach(func(key, value gjson.Result) bool {
			if i, ok := index[key.String()]; ok {
				row[i] = stringify(value)
			}
			return true
		})
		writeRecord(&buf, row)
	}

	return buf.Bytes(), nil
}

// stringify renders a JSON value as a CSV cell. Strings are unquoted;
// nested structures keep their raw JSON text; null renders empty.
func stringify(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.String()
	default:
		return v.Raw
	}
}
