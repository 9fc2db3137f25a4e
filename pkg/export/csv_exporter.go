package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// ErrNoColumns is returned when a dataset has no headers to render.
var ErrNoColumns = errors.New("export: dataset has no columns")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVExporter writes datasets as CSV that opens cleanly in spreadsheets.
type CSVExporter struct {
	// BOM prefixes the output with a UTF-8 byte order mark for Excel.
	BOM bool
}

// NewCSVExporter builds a CSV exporter without a byte order mark.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render writes headers then one record per row in header order. Cells that
// a spreadsheet would evaluate as a formula are prefixed with a quote.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, ErrNoColumns
	}
	var buf bytes.Buffer
	if e.BOM {
		buf.Write(utf8BOM)
	}
	w := csv.NewWriter(&buf)
	if err := w.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	record := make([]string, len(data.Headers))
	for n, row := range data.Rows {
		for i, header := range data.Headers {
			record[i] = neutralize(row[header])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", n+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func neutralize(cell string) string {
	if cell == "" {
		return cell
	}
	if strings.ContainsRune("=+-@\t\r", rune(cell[0])) {
		if looksNumeric(cell) {
			return cell
		}
		return "'" + cell
	}
	return cell
}

// looksNumeric keeps negative scores and offsets like -3 or +2.5 intact.
func looksNumeric(cell string) bool {
	if cell[0] != '-' && cell[0] != '+' {
		return false
	}
	digits := cell[1:]
	if digits == "" {
		return false
	}
	dot := false
	for _, r := range digits {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return true
}
