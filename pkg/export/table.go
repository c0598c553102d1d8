// Package export accumulates output rows and writes them to a
// spreadsheet file in the fixed registry column order.
package export

import "github.com/Sternrassler/mit-registry-export/pkg/registry"

// Table is the append-only result of a run. Row order is insertion
// order. It is owned by a single goroutine and does no locking.
type Table struct {
	rows   []registry.Row
	failed int
}

// MaxPrealloc caps the rows reserved up front. The expected size comes
// from the remote registry and is not trusted beyond this.
const MaxPrealloc = 1 << 16

// NewTable returns an empty table with room for up to capacity rows.
// Capacity beyond MaxPrealloc is grown on demand by Append.
func NewTable(capacity int) *Table {
	capacity = min(max(capacity, 0), MaxPrealloc)
	return &Table{rows: make([]registry.Row, 0, capacity)}
}

// Cap returns the number of rows the table holds without growing.
func (t *Table) Cap() int {
	return cap(t.rows)
}

// Append adds a row at the end of the table.
func (t *Table) Append(row registry.Row) {
	if !row.OK() {
		t.failed++
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Failed returns the number of sentinel rows.
func (t *Table) Failed() int {
	return t.failed
}

// Rows returns the rows in insertion order. The slice must not be modified.
func (t *Table) Rows() []registry.Row {
	return t.rows
}
