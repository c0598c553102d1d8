package registry

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const fullDetail = `{
	"general": {
		"number": "12345-67",
		"title": "Thermometers",
		"notation": ["TM-1", "TM-2"]
	},
	"mit": {
		"part": false,
		"factory_num": "001, 002",
		"valid_for": "2030-01-01",
		"procedure": {"name": "MP 1-2020"},
		"interval": 12,
		"period": null
	},
	"status": "active"
}`

func TestTransform_FullRecord(t *testing.T) {
	item := SummaryItem{MitID: "mit-1", Manufacturer: "ACME"}
	row := Transform(item, []byte(fullDetail))

	if !row.OK() {
		t.Fatalf("expected OK row, got error %v", row.Err)
	}

	want := Record{
		ID:           "mit-1",
		Number:       "12345-67",
		Title:        "Thermometers",
		Notation:     "TM-1;TM-2",
		Manufacturer: "ACME",
		Part:         "false",
		FactoryNum:   "001, 002",
		ValidFor:     "2030-01-01",
		Procedure:    `{"name":"MP 1-2020"}`,
		Interval:     "12",
		Period:       "",
		Status:       "active",
		Numeric:      1 << 9,
	}
	if row.Record != want {
		t.Errorf("Record = %+v\nwant     %+v", row.Record, want)
	}
	if got := row.Values(); len(got) != len(Columns) {
		t.Errorf("Values() has %d cells, want %d", len(got), len(Columns))
	}
}

func TestTransform_OptionalFieldsAbsent(t *testing.T) {
	detail := `{"general": {}, "mit": {}, "status": null}`
	row := Transform(SummaryItem{MitID: "mit-2", Manufacturer: "ACME"}, []byte(detail))

	if !row.OK() {
		t.Fatalf("expected OK row, got error %v", row.Err)
	}
	want := Record{ID: "mit-2", Manufacturer: "ACME"}
	if row.Record != want {
		t.Errorf("Record = %+v, want %+v", row.Record, want)
	}
}

func TestTransform_NotationShapes(t *testing.T) {
	tests := []struct {
		name     string
		notation string
		want     string
		wantErr  bool
	}{
		{name: "list", notation: `["A","B","C"]`, want: "A;B;C"},
		{name: "empty list", notation: `[]`, want: ""},
		{name: "single string", notation: `"A"`, want: "A"},
		{name: "null", notation: `null`, want: ""},
		{name: "non-string element", notation: `["A", 1]`, wantErr: true},
		{name: "number", notation: `7`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detail := `{"general": {"notation": ` + tt.notation + `}, "mit": {}, "status": "x"}`
			row := Transform(SummaryItem{MitID: "id"}, []byte(detail))
			if tt.wantErr {
				if row.OK() {
					t.Fatalf("expected sentinel row, got %+v", row.Record)
				}
				return
			}
			if !row.OK() {
				t.Fatalf("unexpected error: %v", row.Err)
			}
			if row.Record.Notation != tt.want {
				t.Errorf("Notation = %q, want %q", row.Record.Notation, tt.want)
			}
		})
	}
}

func TestTransform_ShapeErrorsYieldSentinel(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		reason string
	}{
		{name: "missing general", detail: `{"mit": {}, "status": "x"}`, reason: `"general"`},
		{name: "general not object", detail: `{"general": [1], "mit": {}, "status": "x"}`, reason: `"general"`},
		{name: "general null", detail: `{"general": null, "mit": {}, "status": "x"}`, reason: `"general"`},
		{name: "missing mit", detail: `{"general": {}, "status": "x"}`, reason: `"mit"`},
		{name: "missing status", detail: `{"general": {}, "mit": {}}`, reason: `"status"`},
		{name: "not an object", detail: `[1,2,3]`, reason: "detail record"},
		{name: "null body", detail: `null`, reason: "null"},
		{name: "invalid json", detail: `{"general":`, reason: "detail record"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := Transform(SummaryItem{MitID: "bad-1", Manufacturer: "ACME"}, []byte(tt.detail))
			if row.OK() {
				t.Fatalf("expected sentinel row, got %+v", row.Record)
			}
			if row.ItemID != "bad-1" || row.Err.ItemID != "bad-1" {
				t.Errorf("item id not kept for traceability: %+v", row)
			}
			if !strings.Contains(row.Err.Error(), tt.reason) {
				t.Errorf("error %q should mention %q", row.Err, tt.reason)
			}

			values := row.Values()
			if values[0] != ErrorMarker {
				t.Errorf("id cell = %q, want %q", values[0], ErrorMarker)
			}
			for i, v := range values[1:] {
				if v != "" {
					t.Errorf("cell %s = %q, want unset", Columns[i+1], v)
				}
			}
		})
	}
}

func TestFailed(t *testing.T) {
	cause := errors.New("boom")
	row := Failed("x", cause)
	if row.OK() {
		t.Fatal("Failed row should not be OK")
	}
	if !errors.Is(row.Err, cause) {
		t.Error("ExtractionError should unwrap to its cause")
	}
	var extractErr *ExtractionError
	if !errors.As(error(row.Err), &extractErr) || extractErr.ItemID != "x" {
		t.Errorf("errors.As failed: %v", row.Err)
	}
}

func TestDecodeListing(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCount int
		wantItems int
		itemsNil  bool
		wantErr   bool
	}{
		{name: "count only", body: `{"result": {"count": 250}}`, wantCount: 250, itemsNil: true},
		{name: "page", body: `{"result": {"count": 2, "items": [{"mit_id": "a"}, {"mit_id": "b"}]}}`, wantCount: 2, wantItems: 2},
		{name: "empty page", body: `{"result": {"count": 0, "items": []}}`},
		{name: "missing result", body: `{"count": 1}`, wantErr: true},
		{name: "missing count", body: `{"result": {"items": []}}`, wantErr: true},
		{name: "fractional count", body: `{"result": {"count": 2.5}}`, wantErr: true},
		{name: "negative count", body: `{"result": {"count": -1}}`, wantErr: true},
		{name: "not json", body: `<html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, err := DecodeListing([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeListing() error = %v", err)
			}
			if listing.Count != tt.wantCount {
				t.Errorf("Count = %d, want %d", listing.Count, tt.wantCount)
			}
			if tt.itemsNil != (listing.Items == nil) {
				t.Errorf("Items nil = %v, want %v", listing.Items == nil, tt.itemsNil)
			}
			if len(listing.Items) != tt.wantItems {
				t.Errorf("len(Items) = %d, want %d", len(listing.Items), tt.wantItems)
			}
		})
	}
}

func TestDecodeSummary(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    SummaryItem
		wantErr bool
	}{
		{name: "complete", raw: `{"mit_id": "m1", "manufactorer": "ACME", "number": "1"}`, want: SummaryItem{MitID: "m1", Manufacturer: "ACME"}},
		{name: "null manufacturer", raw: `{"mit_id": "m1", "manufactorer": null}`, want: SummaryItem{MitID: "m1"}},
		{name: "missing manufacturer", raw: `{"mit_id": "m1"}`, want: SummaryItem{MitID: "m1"}, wantErr: true},
		{name: "missing id", raw: `{"manufactorer": "ACME"}`, wantErr: true},
		{name: "numeric id", raw: `{"mit_id": 42, "manufactorer": "ACME"}`, wantErr: true},
		{name: "not an object", raw: `"m1"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSummary(json.RawMessage(tt.raw))
			if tt.wantErr != (err != nil) {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DecodeSummary() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTransform_NumericColumns(t *testing.T) {
	detail := `{
		"general": {"number": 4711, "title": "Gauge"},
		"mit": {"factory_num": "0042", "interval": -1.5, "period": true},
		"status": 3
	}`
	row := Transform(SummaryItem{MitID: "mit-3", Manufacturer: "ACME"}, []byte(detail))
	if !row.OK() {
		t.Fatalf("expected OK row, got error %v", row.Err)
	}

	numeric := map[int]bool{1: true, 9: true, 11: true}
	for col, name := range Columns {
		if got := row.IsNumeric(col); got != numeric[col] {
			t.Errorf("IsNumeric(%s) = %v, want %v", name, got, numeric[col])
		}
	}
	if row.Record.Number != "4711" || row.Record.Interval != "-1.5" {
		t.Errorf("numbers should keep their literal text: %+v", row.Record)
	}

	failed := Failed("mit-4", errors.New("broken"))
	for col := range Columns {
		if failed.IsNumeric(col) {
			t.Errorf("sentinel row column %d reported numeric", col)
		}
	}
}
