// Package vision provides the external image-analysis capability used as the
// cascade's last resort: full-document analysis and verification of extracted
// records against a rendered grid image.
package vision

import (
	"context"

	"github.com/axisfab/forecast-ingest/internal/model"
)

// AnalysisResult is the outcome of a full-document analysis.
type AnalysisResult struct {
	Records    []model.ExtractedRecord `json:"records"`
	Confidence float64                 `json:"confidence"`
	Notes      string                  `json:"notes"`
}

// VerifyResult is the outcome of checking extracted records against the
// rendered document.
type VerifyResult struct {
	Valid       bool                    `json:"valid"`
	Confidence  float64                 `json:"confidence"`
	Errors      []string                `json:"errors,omitempty"`
	Corrections []model.ExtractedRecord `json:"corrections,omitempty"`
}

// Capability is the external analysis collaborator. Implementations must be
// treated as unreliable: callers receive defensive zero-confidence results
// rather than crashes on malformed output.
type Capability interface {
	Analyze(ctx context.Context, png []byte) (*AnalysisResult, error)
	Verify(ctx context.Context, records []model.ExtractedRecord, png []byte) (*VerifyResult, error)
}
