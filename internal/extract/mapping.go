// Package extract implements the deterministic extraction strategies: the
// coordinate-driven interpreter for learned recipes and the fixed-format
// heuristic parser.
package extract

import (
	"github.com/rotisserie/eris"

	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/sheet"
)

type dateColumn struct {
	col   int
	label string
}

// FromMapping extracts records from a document using an explicit coordinate
// recipe. Pure given its inputs: no carry-forward of models across blank
// cells, non-numeric value cells are silently skipped, and only strictly
// positive quantities are emitted.
func FromMapping(doc *sheet.Document, m model.CellMapping) ([]model.ExtractedRecord, error) {
	if err := m.Validate(); err != nil {
		return nil, eris.Wrap(err, "extract: invalid mapping")
	}

	var dates []dateColumn
	for col := m.DateFirstColumnIndex(); col <= doc.Cols; col++ {
		label := doc.Text(m.DateHeaderRow, col)
		if label == "" || m.SkipsColumnLabel(label) {
			continue
		}
		dates = append(dates, dateColumn{col: col, label: label})
	}

	modelCol := m.ModelColumnIndex()
	var records []model.ExtractedRecord
	for row := m.ModelFirstRow; row <= doc.Rows; row++ {
		if m.SkipsRow(row) {
			continue
		}
		modelName := doc.Text(row, modelCol)
		if modelName == "" {
			continue
		}
		for _, d := range dates {
			qty, ok := doc.Cell(row, d.col).Number()
			if !ok {
				continue
			}
			if q := int(qty); q > 0 {
				records = append(records, model.ExtractedRecord{
					Model:    modelName,
					Period:   d.label,
					Quantity: q,
				})
			}
		}
	}
	return records, nil
}
