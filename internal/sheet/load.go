package sheet

import (
	"io"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

// ErrMalformed marks a workbook that could not be read at all. It is the one
// fatal error class in the pipeline: nothing downstream is attempted.
var ErrMalformed = eris.New("sheet: unreadable workbook")

// Load opens an XLSX file and materializes its active sheet.
func Load(path string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(ErrMalformed, "open %s: %v", path, err)
	}
	defer f.Close()
	return fromFile(f, filepath.Base(path))
}

// LoadReader materializes the active sheet of a workbook read from r,
// e.g. an HTTP upload body.
func LoadReader(r io.Reader, name string) (*Document, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, eris.Wrapf(ErrMalformed, "open %s: %v", name, err)
	}
	defer f.Close()
	return fromFile(f, name)
}

func fromFile(f *excelize.File, name string) (*Document, error) {
	sheetName := f.GetSheetName(f.GetActiveSheetIndex())
	if sheetName == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return nil, eris.Wrapf(ErrMalformed, "%s: workbook has no sheets", name)
		}
		sheetName = list[0]
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, eris.Wrapf(ErrMalformed, "%s: read rows: %v", name, err)
	}

	merged, err := f.GetMergeCells(sheetName)
	if err != nil {
		// Merged-range metadata is structural, not content; a workbook whose
		// cells read fine still counts as loadable.
		merged = nil
	}

	return NewDocument(name, rows, len(merged)), nil
}
