package model

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

// MappingVersion is the current CellMapping schema version. Persisted
// mappings with a different version are rejected at load time.
const MappingVersion = 1

// CellMapping is an explicit coordinate recipe for the mapping-driven
// extractor. Pure value type; Validate is its only behavior.
type CellMapping struct {
	Version         int      `json:"version" yaml:"version"`
	ModelColumn     string   `json:"model_column" yaml:"model_column"`
	ModelFirstRow   int      `json:"model_first_row" yaml:"model_first_row"`
	DateHeaderRow   int      `json:"date_header_row" yaml:"date_header_row"`
	DateFirstColumn string   `json:"date_first_column" yaml:"date_first_column"`
	SkipRows        []int    `json:"skip_rows,omitempty" yaml:"skip_rows,omitempty"`
	SkipColumns     []string `json:"skip_columns,omitempty" yaml:"skip_columns,omitempty"`
}

// Validate checks that all required anchors are present and well-formed.
func (m CellMapping) Validate() error {
	if m.Version != MappingVersion {
		return eris.Errorf("mapping: unsupported version %d (want %d)", m.Version, MappingVersion)
	}
	if m.ModelColumn == "" {
		return eris.New("mapping: model_column is required")
	}
	if _, err := excelize.ColumnNameToNumber(m.ModelColumn); err != nil {
		return eris.Wrapf(err, "mapping: invalid model_column %q", m.ModelColumn)
	}
	if m.ModelFirstRow < 1 {
		return eris.Errorf("mapping: model_first_row %d out of range", m.ModelFirstRow)
	}
	if m.DateHeaderRow < 1 {
		return eris.Errorf("mapping: date_header_row %d out of range", m.DateHeaderRow)
	}
	if m.DateFirstColumn == "" {
		return eris.New("mapping: date_first_column is required")
	}
	if _, err := excelize.ColumnNameToNumber(m.DateFirstColumn); err != nil {
		return eris.Wrapf(err, "mapping: invalid date_first_column %q", m.DateFirstColumn)
	}
	for _, r := range m.SkipRows {
		if r < 1 {
			return eris.Errorf("mapping: skip_rows contains invalid row %d", r)
		}
	}
	return nil
}

// ModelColumnIndex returns the 1-based column index of the model column.
// Validate must have succeeded.
func (m CellMapping) ModelColumnIndex() int {
	n, _ := excelize.ColumnNameToNumber(m.ModelColumn)
	return n
}

// DateFirstColumnIndex returns the 1-based column index where date headers
// begin. Validate must have succeeded.
func (m CellMapping) DateFirstColumnIndex() int {
	n, _ := excelize.ColumnNameToNumber(m.DateFirstColumn)
	return n
}

// SkipsRow reports whether the given 1-based row is excluded.
func (m CellMapping) SkipsRow(row int) bool {
	for _, r := range m.SkipRows {
		if r == row {
			return true
		}
	}
	return false
}

// SkipsColumnLabel reports whether a date-header label is excluded.
func (m CellMapping) SkipsColumnLabel(label string) bool {
	for _, c := range m.SkipColumns {
		if c == label {
			return true
		}
	}
	return false
}

// ParseCellMapping decodes a persisted mapping blob strictly: unknown fields
// and missing required anchors are errors, not defaults.
func ParseCellMapping(data []byte) (CellMapping, error) {
	var m CellMapping
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return CellMapping{}, eris.Wrap(err, "mapping: decode")
	}
	if err := m.Validate(); err != nil {
		return CellMapping{}, err
	}
	return m, nil
}
