package model

import "time"

// Signature is a deterministic structural fingerprint of a spreadsheet layout.
// It is immutable once produced; two documents with identical layout and
// header text hash to the same Signature.
type Signature string

// ExtractedRecord is a single normalized forecast data point. It carries no
// reference to the recipe that produced it.
type ExtractedRecord struct {
	Model    string `json:"model"`
	Process  string `json:"process,omitempty"`
	Period   string `json:"period"`
	Quantity int    `json:"quantity"`
}

// ParseOutcome is the unit of exchange between cascade stages: the records a
// stage produced, how confident it is, and where they came from.
type ParseOutcome struct {
	Records    []ExtractedRecord `json:"records"`
	Confidence float64           `json:"confidence"`
	Notes      string            `json:"notes"`
	RecipeID   string            `json:"recipe_id,omitempty"`
	RecipeName string            `json:"recipe_name,omitempty"`
	Matched    bool              `json:"matched"`
}

// ExtractionRecipe is a learned, persisted coordinate mapping plus its
// reliability statistics. Accuracy and UseCount are mutated only by the
// learning loop; Active flips to false when accuracy decays below the
// auto-disable threshold and never flips back implicitly.
type ExtractionRecipe struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Signature Signature   `json:"signature"`
	Mapping   CellMapping `json:"mapping"`
	Accuracy  float64     `json:"accuracy"`
	UseCount  int         `json:"use_count"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// UsageEvent is one append-only log entry per extraction attempt against a
// recipe.
type UsageEvent struct {
	ID         string    `json:"id"`
	RecipeID   string    `json:"recipe_id"`
	MatchScore float64   `json:"match_score"`
	Success    bool      `json:"success"`
	LatencyMS  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// DailyLearningMetrics aggregates one calendar day of cascade activity.
// The day (YYYY-MM-DD) is the sole identity; rows are upserted per upload.
type DailyLearningMetrics struct {
	Day         string  `json:"day"`
	Uploads     int     `json:"uploads"`
	RecipeHits  int     `json:"recipe_hits"`
	VisionCalls int     `json:"vision_calls"`
	CostSaved   float64 `json:"cost_saved"`
}

// LearningStats summarizes recipe inventory and the trailing 30 days of
// daily metrics.
type LearningStats struct {
	TotalRecipes  int     `json:"total_recipes"`
	ActiveRecipes int     `json:"active_recipes"`
	Uploads       int     `json:"uploads"`
	RecipeHits    int     `json:"recipe_hits"`
	HitRate       float64 `json:"hit_rate"`
	CostSaved     float64 `json:"cost_saved"`
}

// PriceEntry is a unit price for a (model, process) pair, consumed by the
// snapshot save path downstream of the extraction cascade.
type PriceEntry struct {
	Model     string  `json:"model"`
	Process   string  `json:"process"`
	UnitPrice float64 `json:"unit_price"`
}

// ForecastSnapshot is one persisted forecast data point from a saved upload,
// keyed on (upload_date, forecast_date, model, process) for upsert.
type ForecastSnapshot struct {
	ID           string    `json:"id"`
	UploadDate   string    `json:"upload_date"`
	ForecastDate string    `json:"forecast_date"`
	Model        string    `json:"model"`
	Process      string    `json:"process"`
	Quantity     int       `json:"quantity"`
	Revenue      float64   `json:"revenue"`
	CreatedAt    time.Time `json:"created_at"`
}
