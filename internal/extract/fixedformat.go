package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/sheet"
)

// FixedFormatName identifies the one layout family parsed without a
// persisted recipe: its anchor positions float (hidden leading columns,
// variable header offsets), so coordinates are located at parse time.
const FixedFormatName = "CNC_FORECAST_STANDARD"

const (
	detectRows  = 6
	detectCols  = 20
	anchorRows  = 30
	headerScan  = 10
	dateRowScan = 3
	minDates    = 3
)

var mmddPattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})`)

// skipKeywords mark summary rows whose model cell must not become the
// carried-forward current model.
var skipKeywords = []string{"total", "합계", "sum", "ag tech", "agtech"}

// DetectFixedFormat reports whether the document belongs to the CNC forecast
// layout family: a forecast/cnc marker plus a "week" period marker, both
// within the first 6 rows.
func DetectFixedFormat(doc *sheet.Document) bool {
	foundFormat := false
	foundWeek := false
	last := detectRows
	if doc.Rows < last {
		last = doc.Rows
	}
	for row := 1; row <= last; row++ {
		for col := 1; col <= detectCols && col <= doc.Cols; col++ {
			text := strings.ToLower(doc.Text(row, col))
			if text == "" {
				continue
			}
			if strings.Contains(text, "forecast") || strings.Contains(text, "cnc") {
				foundFormat = true
			}
			if strings.Contains(text, "week") {
				foundWeek = true
			}
		}
	}
	return foundFormat && foundWeek
}

// ExtractFixedFormat parses a detected CNC forecast document. now anchors
// the year inference for bare MM/DD period labels.
func ExtractFixedFormat(doc *sheet.Document, now time.Time) model.ParseOutcome {
	dataStart := dataSectionStart(doc)
	headerRow, modelCol := findModelHeader(doc, dataStart)

	processCol := modelCol + 1
	dataCol := modelCol + 3

	dateRow := findDateRow(doc, headerRow, dataCol)
	dateCols := mapDateColumns(doc, dateRow, dataCol, now)

	var records []model.ExtractedRecord
	currentModel := ""

	for row := dateRow + 1; row <= doc.Rows; row++ {
		if modelText := doc.Text(row, modelCol); modelText != "" && !isSkipKeyword(modelText) {
			currentModel = modelText
		}
		if currentModel == "" {
			continue
		}

		process := doc.Text(row, processCol)
		if process == "" {
			continue
		}

		for _, d := range dateCols {
			qty, ok := doc.Cell(row, d.col).Number()
			if !ok {
				continue
			}
			if q := int(qty); q > 0 {
				records = append(records, model.ExtractedRecord{
					Model:    currentModel,
					Process:  process,
					Period:   d.label,
					Quantity: q,
				})
			}
		}
	}

	return model.ParseOutcome{
		Records:    records,
		Confidence: 1.0,
		Notes:      fmt.Sprintf("fixed-format parse complete (%d records)", len(records)),
		RecipeName: FixedFormatName,
		Matched:    true,
	}
}

// dataSectionStart locates the row where the data section begins. With two
// or more forecast+cnc anchors the first is a summary header and the data
// section starts at the second.
func dataSectionStart(doc *sheet.Document) int {
	var anchors []int
	last := anchorRows
	if doc.Rows < last {
		last = doc.Rows
	}
	for row := 1; row <= last; row++ {
		for col := 1; col <= detectCols && col <= doc.Cols; col++ {
			text := strings.ToLower(doc.Text(row, col))
			if strings.Contains(text, "forecast") && strings.Contains(text, "cnc") {
				anchors = append(anchors, row)
				break
			}
		}
	}
	switch {
	case len(anchors) >= 2:
		return anchors[1]
	case len(anchors) == 1:
		return anchors[0]
	default:
		return 1
	}
}

// findModelHeader scans up to 10 rows from the data-section start for a cell
// containing "model". Returns (0, 1) when no header is found, which degrades
// the remaining scans to sheet-top defaults.
func findModelHeader(doc *sheet.Document, dataStart int) (row, col int) {
	lastRow := dataStart + headerScan - 1
	if doc.Rows < lastRow {
		lastRow = doc.Rows
	}
	for r := dataStart; r <= lastRow; r++ {
		for c := 1; c <= detectCols && c <= doc.Cols; c++ {
			if strings.Contains(strings.ToLower(doc.Text(r, c)), "model") {
				return r, c
			}
		}
	}
	return 0, 1
}

// findDateRow picks the first of up to 3 candidate rows below the header
// containing at least 3 period cells (native dates or MM/DD labels).
func findDateRow(doc *sheet.Document, headerRow, dataCol int) int {
	dateRow := headerRow + 1
	lastRow := headerRow + dateRowScan
	if doc.Rows < lastRow {
		lastRow = doc.Rows
	}
	for r := headerRow + 1; r <= lastRow; r++ {
		found := 0
		for c := dataCol; c <= doc.Cols; c++ {
			cell := doc.Cell(r, c)
			if cell.IsEmpty() {
				continue
			}
			if _, ok := cell.Date(); ok {
				found++
			} else if mmddPattern.MatchString(strings.TrimSpace(cell.Raw)) {
				found++
			}
		}
		if found >= minDates {
			return r
		}
	}
	return dateRow
}

// mapDateColumns resolves each period cell in the date row to a calendar
// date. Bare MM/DD labels get the current year unless the month precedes
// (current month - 1), in which case the forecast crosses a year boundary
// and the next year is used.
func mapDateColumns(doc *sheet.Document, dateRow, dataCol int, now time.Time) []dateColumn {
	var out []dateColumn
	for c := dataCol; c <= doc.Cols; c++ {
		cell := doc.Cell(dateRow, c)
		if cell.IsEmpty() {
			continue
		}
		if t, ok := cell.Date(); ok {
			out = append(out, dateColumn{col: c, label: t.Format("2006-01-02")})
			continue
		}
		m := mmddPattern.FindStringSubmatch(strings.TrimSpace(cell.Raw))
		if m == nil {
			continue
		}
		month := atoi(m[1])
		day := atoi(m[2])
		year := now.Year()
		if month < int(now.Month())-1 {
			year++
		}
		out = append(out, dateColumn{
			col:   c,
			label: fmt.Sprintf("%04d-%02d-%02d", year, month, day),
		})
	}
	return out
}

func isSkipKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range skipKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
