package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders each sheet as records. The first non-empty row is the header and
// every later row becomes "Header: value; Header: value", so a retrieved chunk keeps the
// column names next to the values. Empty cells are skipped.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var buf strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var header []string
		var records []string
		for _, row := range rows {
			if isBlankRow(row) {
				continue
			}
			if header == nil {
				header = row
				continue
			}
			records = append(records, sheetRecord(header, row))
		}
		if header == nil {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString("Sheet: " + sheet + "\n")
		if len(records) == 0 {
			buf.WriteString(strings.Join(header, "\t"))
			continue
		}
		buf.WriteString(strings.Join(records, "\n"))
	}
	return strings.TrimSpace(buf.String()), nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func sheetRecord(header, row []string) string {
	parts := make([]string, 0, len(row))
	for i, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(header[i])
		}
		if name == "" {
			name = fmt.Sprintf("column %d", i+1)
		}
		parts = append(parts, name+": "+cell)
	}
	return strings.Join(parts, "; ")
}
