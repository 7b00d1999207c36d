package normalize

import (
	"bytes"

	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/datahub-cli/internal/catalog"
)

// xlsxToCSV converts the first sheet of a workbook to canonical CSV. The
// sheet's first row becomes the header; short rows pad with empty cells.
func xlsxToCSV(payload []byte) ([]byte, error) {
	f, err := xlsx.OpenBinary(payload)
	if err != nil {
		return nil, &FormatError{Type: catalog.SourceXLSX, Reason: "invalid XLSX workbook"}
	}
	if len(f.Sheets) == 0 {
		return nil, &FormatError{Type: catalog.SourceXLSX, Reason: "workbook has no sheets"}
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, &FormatError{Type: catalog.SourceXLSX, Reason: "first sheet is empty"}
	}

	width := len(rowToStrings(sheet.Rows[0]))

	var buf bytes.Buffer
	for _, row := range sheet.Rows {
		cells := rowToStrings(row)
		for len(cells) < width {
			cells = append(cells, "")
		}
		if len(cells) > width {
			cells = cells[:width]
		}
		writeRecord(&buf, cells)
	}

	return buf.Bytes(), nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
