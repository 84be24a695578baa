// Package fingerprint derives structural signatures from spreadsheet layouts
// and scores layout similarity for recipe matching.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/width"

	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/sheet"
)

const (
	headerRows     = 3
	headerCols     = 10
	typeGridFirst  = 4
	typeGridLast   = 10
	keywordRows    = 5
	keywordCols    = 10
	signatureChars = 16
)

// keywordVocabulary is the bilingual marker vocabulary searched for in the
// sheet's top-left region. Matches contribute to the signature and to the
// keyword-overlap term of the similarity score.
var keywordVocabulary = []string{
	"모델", "model", "품목", "제품",
	"주차", "week", "일", "day", "날짜", "date",
	"수량", "qty", "quantity", "생산",
	"합계", "total", "sum",
}

// Generate derives the deterministic structural Signature of a document.
// Absolute row/column counts are bucketed so near-identical layouts with a
// few extra data rows fingerprint identically.
func Generate(doc *sheet.Document) model.Signature {
	components := map[string]any{
		"row_count_range":    sizeBucket(doc.Rows),
		"col_count_range":    sizeBucket(doc.Cols),
		"header_pattern":     headerPattern(doc),
		"data_type_pattern":  typeGrid(doc),
		"merged_cells_count": doc.MergedRanges,
		"keywords":           Keywords(doc),
	}

	// Maps marshal with sorted keys, which gives the canonical form.
	payload, err := json.Marshal(components)
	if err != nil {
		// Only non-serializable values can fail here; components are all
		// plain strings, ints and slices.
		payload = []byte{}
	}

	sum := sha256.Sum256(payload)
	return model.Signature(hex.EncodeToString(sum[:])[:signatureChars])
}

func sizeBucket(n int) string {
	switch {
	case n <= 10:
		return "small"
	case n <= 50:
		return "medium"
	case n <= 200:
		return "large"
	default:
		return "xlarge"
	}
}

// headerPattern normalizes the first 3 rows: numeric cells collapse to "#",
// text cells keep their first 3 characters.
func headerPattern(doc *sheet.Document) []string {
	patterns := make([]string, 0, headerRows)
	last := headerRows
	if doc.Rows < last {
		last = doc.Rows
	}
	for row := 1; row <= last; row++ {
		parts := make([]string, 0, headerCols)
		for col := 1; col <= headerCols; col++ {
			c := doc.Cell(row, col)
			switch c.Kind() {
			case sheet.KindEmpty:
				parts = append(parts, "")
			case sheet.KindNumber:
				parts = append(parts, "#")
			default:
				r := []rune(strings.TrimSpace(c.Raw))
				if len(r) > 3 {
					r = r[:3]
				}
				parts = append(parts, string(r))
			}
		}
		patterns = append(patterns, strings.Join(parts, "|"))
	}
	return patterns
}

// typeGrid encodes rows 4-10 as one character per cell: Empty, Number, Text.
func typeGrid(doc *sheet.Document) string {
	last := typeGridLast
	if doc.Rows < last {
		last = doc.Rows
	}
	var rows []string
	for row := typeGridFirst; row <= last; row++ {
		var sb strings.Builder
		for col := 1; col <= headerCols; col++ {
			switch doc.Cell(row, col).Kind() {
			case sheet.KindEmpty:
				sb.WriteByte('E')
			case sheet.KindNumber:
				sb.WriteByte('N')
			default:
				sb.WriteByte('T')
			}
		}
		rows = append(rows, sb.String())
	}
	return strings.Join(rows, ",")
}

// Keywords returns the sorted set of vocabulary tokens found in the first
// 5 rows x 10 columns, matched case-insensitively with full-width characters
// folded to their half-width forms.
func Keywords(doc *sheet.Document) []string {
	found := map[string]bool{}
	last := keywordRows
	if doc.Rows < last {
		last = doc.Rows
	}
	for row := 1; row <= last; row++ {
		for col := 1; col <= keywordCols; col++ {
			c := doc.Cell(row, col)
			if c.IsEmpty() {
				continue
			}
			text := normalizeText(c.Raw)
			for _, kw := range keywordVocabulary {
				if strings.Contains(text, normalizeText(kw)) {
					found[strings.ToLower(kw)] = true
				}
			}
		}
	}
	out := make([]string, 0, len(found))
	for kw := range found {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

func normalizeText(s string) string {
	return strings.ToLower(width.Narrow.String(s))
}
