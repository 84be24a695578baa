package fingerprint

import (
	"strings"

	"github.com/agext/levenshtein"
	"go.uber.org/zap"

	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/sheet"
)

// neutralScore is returned when a detailed comparison fails internally:
// a matching decision must always be able to proceed.
const neutralScore = 50.0

// Similarity weights for the detailed document comparison.
const (
	structureWeight = 0.4
	headerWeight    = 0.4
	keywordWeight   = 0.2
)

// Score compares two layouts and returns a confidence in [0, 100].
// Byte-equal signatures score 100. With both source documents available, a
// weighted structural/header/keyword blend is computed; otherwise the score
// degrades to positional character agreement between the signature strings.
func Score(sigA, sigB model.Signature, docA, docB *sheet.Document) float64 {
	if sigA == sigB {
		return 100.0
	}
	if docA != nil && docB != nil {
		return detailedScore(docA, docB)
	}
	return positionalScore(string(sigA), string(sigB))
}

func detailedScore(docA, docB *sheet.Document) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("fingerprint: detailed comparison failed", zap.Any("panic", r))
			score = neutralScore
		}
	}()

	rowDiff := abs(docA.Rows - docB.Rows)
	colDiff := abs(docA.Cols - docB.Cols)
	structure := float64(100 - 5*(rowDiff+colDiff))
	if structure < 0 {
		structure = 0
	}

	header := levenshtein.Similarity(headerText(docA), headerText(docB), levenshtein.NewParams()) * 100

	keyword := keywordOverlap(Keywords(docA), Keywords(docB))

	return structure*structureWeight + header*headerWeight + keyword*keywordWeight
}

// headerText concatenates the non-empty cells of the first 3 rows x 10
// columns, the region the header-similarity term compares.
func headerText(doc *sheet.Document) string {
	var parts []string
	last := headerRows
	if doc.Rows < last {
		last = doc.Rows
	}
	for row := 1; row <= last; row++ {
		for col := 1; col <= headerCols; col++ {
			if t := doc.Text(row, col); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

// keywordOverlap is Jaccard overlap as a percentage; two empty sets are
// "equally unremarkable" and score the neutral 50.
func keywordOverlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return neutralScore
	}
	setA := make(map[string]bool, len(a))
	for _, k := range a {
		setA[k] = true
	}
	intersection := 0
	union := len(setA)
	for _, k := range b {
		if setA[k] {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return neutralScore
	}
	return float64(intersection) / float64(union) * 100
}

// positionalScore is the coarse signature-only fallback: the fraction of
// positions where the two signature strings agree.
func positionalScore(a, b string) float64 {
	if len(a) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	common := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			common++
		}
	}
	return float64(common) / float64(len(a)) * 100
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
