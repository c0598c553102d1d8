package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorMarker is the id written for rows whose extraction failed.
const ErrorMarker = "Data error"

// Columns is the fixed output column order.
var Columns = []string{
	"id", "number", "title", "notation", "manufacturer", "part",
	"factory_num", "valid_for", "procedure", "interval", "period", "status",
}

// Record is a fully extracted output row. Empty strings are unset cells.
type Record struct {
	ID           string
	Number       string
	Title        string
	Notation     string
	Manufacturer string
	Part         string
	FactoryNum   string
	ValidFor     string
	Procedure    string
	Interval     string
	Period       string
	Status       string

	// Numeric has bit i set when column i came from a JSON number.
	Numeric uint16
}

// IsNumeric reports whether column col holds a JSON number literal.
func (r Record) IsNumeric(col int) bool {
	return col >= 0 && col < len(Columns) && r.Numeric&(1<<col) != 0
}

// Values returns the record in Columns order.
func (r Record) Values() []string {
	return []string{
		r.ID, r.Number, r.Title, r.Notation, r.Manufacturer, r.Part,
		r.FactoryNum, r.ValidFor, r.Procedure, r.Interval, r.Period, r.Status,
	}
}

// ExtractionError records why an item could not be flattened.
type ExtractionError struct {
	ItemID string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("extract item: %v", e.Err)
	}
	return fmt.Sprintf("extract item %s: %v", e.ItemID, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Row is either an extracted Record (Err == nil) or an extraction
// failure. Both variants render to the same twelve columns.
type Row struct {
	ItemID string
	Record Record
	Err    *ExtractionError
}

// OK reports whether the row carries a record.
func (r Row) OK() bool {
	return r.Err == nil
}

// Values renders the row in Columns order. A failed row is the sentinel
// row: ErrorMarker followed by eleven unset cells.
func (r Row) Values() []string {
	if r.Err != nil {
		values := make([]string, len(Columns))
		values[0] = ErrorMarker
		return values
	}
	return r.Record.Values()
}

// IsNumeric reports whether column col of the rendered row is a number.
// Sentinel rows have no numeric cells.
func (r Row) IsNumeric(col int) bool {
	return r.Err == nil && r.Record.IsNumeric(col)
}

// Failed builds the sentinel row for itemID.
func Failed(itemID string, err error) Row {
	return Row{ItemID: itemID, Err: &ExtractionError{ItemID: itemID, Err: err}}
}

// Transform flattens a summary item and the body of its detail record.
// It never panics on unexpected shapes; every failure yields the
// sentinel row.
func Transform(item SummaryItem, detail []byte) Row {
	record, err := extract(item, detail)
	if err != nil {
		return Failed(item.MitID, err)
	}
	return Row{ItemID: item.MitID, Record: record}
}

func extract(item SummaryItem, detail []byte) (Record, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(detail, &doc); err != nil {
		return Record{}, fmt.Errorf("detail record: %w", err)
	}
	if doc == nil {
		return Record{}, fmt.Errorf("detail record is null")
	}

	general, err := group(doc, "general")
	if err != nil {
		return Record{}, err
	}
	mit, err := group(doc, "mit")
	if err != nil {
		return Record{}, err
	}
	if _, ok := doc["status"]; !ok {
		return Record{}, fmt.Errorf("missing %q", "status")
	}

	rec := Record{ID: item.MitID, Manufacturer: item.Manufacturer}
	fields := []struct {
		dst   *string
		col   int
		src   map[string]json.RawMessage
		group string
		key   string
	}{
		{&rec.Number, 1, general, "general", "number"},
		{&rec.Title, 2, general, "general", "title"},
		{&rec.Part, 5, mit, "mit", "part"},
		{&rec.FactoryNum, 6, mit, "mit", "factory_num"},
		{&rec.ValidFor, 7, mit, "mit", "valid_for"},
		{&rec.Procedure, 8, mit, "mit", "procedure"},
		{&rec.Interval, 9, mit, "mit", "interval"},
		{&rec.Period, 10, mit, "mit", "period"},
		{&rec.Status, 11, doc, "", "status"},
	}
	for _, f := range fields {
		raw := f.src[f.key]
		text, err := renderText(raw)
		if err != nil {
			if f.group == "" {
				return Record{}, fmt.Errorf("%s: %w", f.key, err)
			}
			return Record{}, fmt.Errorf("%s.%s: %w", f.group, f.key, err)
		}
		*f.dst = text
		if isNumber(raw) {
			rec.Numeric |= 1 << f.col
		}
	}

	if rec.Notation, err = notation(general["notation"]); err != nil {
		return Record{}, fmt.Errorf("general.notation: %w", err)
	}
	return rec, nil
}

func group(doc map[string]json.RawMessage, name string) (map[string]json.RawMessage, error) {
	raw, ok := doc[name]
	if !ok {
		return nil, fmt.Errorf("missing %q group", name)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%q group is not an object", name)
	}
	return fields, nil
}

// notation joins a list of designations with ";".
func notation(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", err
		}
		parts := make([]string, 0, len(items))
		for i, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return "", fmt.Errorf("element %d is not a string", i)
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ";"), nil
	default:
		return "", fmt.Errorf("expected list of strings, got %s", string(raw))
	}
}

// renderText turns a JSON value into cell text. Absent and null values
// are unset; strings are unquoted; numbers and booleans keep their
// literal form; objects and arrays are kept as compact JSON.
func renderText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		if !json.Valid(raw) {
			return "", fmt.Errorf("invalid JSON value %q", string(raw))
		}
		return string(raw), nil
	}
}

// isNumber reports whether raw is a JSON number literal.
func isNumber(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'))
}
