package vision

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// DecodeAnalysis parses a model response into an AnalysisResult. The response
// text is unreliable: code fences, leading prose, and trailing junk are
// stripped before decoding. A response that still fails to parse yields an
// empty zero-confidence result, never an error.
func DecodeAnalysis(text string) *AnalysisResult {
	cleaned := cleanJSON(text)

	var result AnalysisResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		zap.L().Warn("vision: unparseable analysis response",
			zap.Error(err),
			zap.Int("response_len", len(text)))
		return &AnalysisResult{Confidence: 0, Notes: "analysis response could not be parsed"}
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result
}

// DecodeVerify parses a model response into a VerifyResult. Same defensive
// posture as DecodeAnalysis: a malformed response is an invalid verification
// with zero confidence.
func DecodeVerify(text string) *VerifyResult {
	cleaned := cleanJSON(text)

	var result VerifyResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		zap.L().Warn("vision: unparseable verify response",
			zap.Error(err),
			zap.Int("response_len", len(text)))
		return &VerifyResult{Valid: false, Confidence: 0, Errors: []string{"verify response could not be parsed"}}
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result
}

// cleanJSON strips markdown code fences and any prose surrounding the first
// JSON object in a model response.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
