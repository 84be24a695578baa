// Package sheet holds the in-memory spreadsheet representation the
// extraction pipeline works on, plus loading and rendering.
package sheet

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CellKind classifies a cell's content.
type CellKind int

const (
	KindEmpty CellKind = iota
	KindNumber
	KindText
)

var numericPattern = regexp.MustCompile(`^-?[\d.,]+$`)

// Cell is a single spreadsheet cell. Values are carried as the formatted
// strings the workbook reader produces; classification is derived.
type Cell struct {
	Raw string
}

// Kind returns the cell's content classification.
func (c Cell) Kind() CellKind {
	s := strings.TrimSpace(c.Raw)
	switch {
	case s == "":
		return KindEmpty
	case numericPattern.MatchString(s):
		return KindNumber
	default:
		return KindText
	}
}

// IsEmpty reports whether the cell has no content.
func (c Cell) IsEmpty() bool { return strings.TrimSpace(c.Raw) == "" }

// Number parses the cell as a number, tolerating thousands separators.
func (c Cell) Number() (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(c.Raw), ",", "")
	if s == "" || s == "-" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var dateLayouts = []string{
	"2006-01-02",
	"01-02-06",
	"1/2/06",
	"01/02/06",
	"1/2/2006",
	"01/02/2006",
}

// Date parses the cell as a full calendar date. Bare MM/DD labels are not
// dates; they are resolved separately with year inference.
func (c Cell) Date() (time.Time, bool) {
	s := strings.TrimSpace(c.Raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Document is one loaded worksheet: a dense 1-based grid plus the structural
// facts fingerprinting needs. Immutable after construction.
type Document struct {
	Name         string
	Rows         int
	Cols         int
	MergedRanges int

	grid [][]Cell
}

// NewDocument builds a Document from row-major string values. Ragged rows
// are padded to the widest row.
func NewDocument(name string, values [][]string, mergedRanges int) *Document {
	cols := 0
	for _, row := range values {
		if len(row) > cols {
			cols = len(row)
		}
	}
	grid := make([][]Cell, len(values))
	for i, row := range values {
		cells := make([]Cell, cols)
		for j, v := range row {
			cells[j] = Cell{Raw: v}
		}
		grid[i] = cells
	}
	return &Document{
		Name:         name,
		Rows:         len(values),
		Cols:         cols,
		MergedRanges: mergedRanges,
		grid:         grid,
	}
}

// Cell returns the cell at 1-based (row, col). Coordinates beyond the sheet
// extent yield an empty cell.
func (d *Document) Cell(row, col int) Cell {
	if row < 1 || col < 1 || row > d.Rows || col > len(d.grid[row-1]) {
		return Cell{}
	}
	return d.grid[row-1][col-1]
}

// Text returns the trimmed text at 1-based (row, col).
func (d *Document) Text(row, col int) string {
	return strings.TrimSpace(d.Cell(row, col).Raw)
}
