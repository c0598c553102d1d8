package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Sternrassler/mit-registry-export/pkg/registry"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// FileMode is the permission of a written spreadsheet.
const FileMode os.FileMode = 0o644

// Format is a supported spreadsheet format.
type Format string

const (
	// FormatXLSX is an Office Open XML workbook.
	FormatXLSX Format = "xlsx"

	// FormatCSV is RFC 4180 comma-separated values.
	FormatCSV Format = "csv"
)

// SheetName is the worksheet the XLSX writer fills.
const SheetName = "Sheet1"

// ErrUnsupportedFormat is returned for an output path with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// FormatForPath picks the output format from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q (use .xlsx or .csv)", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Writer serializes a whole table to w.
type Writer interface {
	WriteTable(w io.Writer, table *Table) error
}

// WriterFor returns the writer for a format.
func WriterFor(format Format) (Writer, error) {
	switch format {
	case FormatXLSX:
		return XLSXWriter{}, nil
	case FormatCSV:
		return CSVWriter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Export writes table to path in the format implied by its extension.
// Data goes to a temporary file in the same directory which is renamed
// over path once complete, so a failed export leaves no partial file.
func Export(table *Table, path string) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}
	writer, err := WriterFor(format)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".mit-export-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := writer.WriteTable(tmp, table); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", format, err)
	}
	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("set output mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("move output into place: %w", err)
	}
	return nil
}

// XLSXWriter writes a single-sheet workbook with a bold header row.
type XLSXWriter struct{}

// WriteTable implements Writer.
func (XLSXWriter) WriteTable(w io.Writer, table *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	header := make([]interface{}, len(registry.Columns))
	for i, name := range registry.Columns {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: name}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range table.Rows() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells(row)); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush stream writer: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// cells maps unset values to nil so they stay empty in the sheet and
// writes JSON numbers as numeric cells. Text longer than a cell can hold
// is truncated by excelize; that is logged.
func cells(row registry.Row) []interface{} {
	values := row.Values()
	out := make([]interface{}, len(values))
	for i, v := range values {
		if v == "" {
			continue
		}
		if row.IsNumeric(i) {
			if n, ok := number(v); ok {
				out[i] = n
				continue
			}
		}
		if utf8.RuneCountInString(v) > excelize.TotalCellChars {
			log.Warn().
				Str("component", "export").
				Str("item_id", row.ItemID).
				Str("column", registry.Columns[i]).
				Int("length", utf8.RuneCountInString(v)).
				Int("limit", excelize.TotalCellChars).
				Msg("Cell text truncated")
		}
		out[i] = v
	}
	return out
}

// number parses a JSON number literal, preferring an exact integer.
func number(s string) (interface{}, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return nil, false
}

// CSVWriter writes a header row followed by one record per table row.
type CSVWriter struct{}

// WriteTable implements Writer.
func (CSVWriter) WriteTable(w io.Writer, table *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(registry.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, row := range table.Rows() {
		if err := cw.Write(row.Values()); err != nil {
			return fmt.Errorf("write csv record %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}
