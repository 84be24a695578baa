package store

import (
	"context"
	"time"

	"github.com/axisfab/forecast-ingest/internal/model"
)

// RecipeFilter specifies criteria for listing extraction recipes.
type RecipeFilter struct {
	ActiveOnly bool `json:"active_only,omitempty"`
	Limit      int  `json:"limit,omitempty"`
	Offset     int  `json:"offset,omitempty"`
}

// UsageParams carries everything needed to record one extraction attempt
// against a recipe in a single transaction: the usage event itself plus the
// accuracy update rule applied to the recipe row.
type UsageParams struct {
	RecipeID         string
	MatchScore       float64
	Success          bool
	Latency          time.Duration
	EMAWeight        float64 // weight of the new sample in the moving average
	DisableThreshold float64 // accuracy below this deactivates the recipe
}

// Store defines the persistence interface for the forecast ingestion service.
type Store interface {
	// Recipes
	CreateRecipe(ctx context.Context, recipe *model.ExtractionRecipe) error
	GetRecipe(ctx context.Context, recipeID string) (*model.ExtractionRecipe, error)
	// GetRecipeBySignature returns the active recipe with the given structural
	// signature, or nil when none exists.
	GetRecipeBySignature(ctx context.Context, sig model.Signature) (*model.ExtractionRecipe, error)
	ListRecipes(ctx context.Context, filter RecipeFilter) ([]model.ExtractionRecipe, error)
	UpdateRecipeMapping(ctx context.Context, recipeID string, mapping model.CellMapping) error
	SetRecipeActive(ctx context.Context, recipeID string, active bool) error

	// Learning loop. RecordUsage appends a usage event, bumps use_count,
	// folds the outcome into the accuracy moving average, and deactivates the
	// recipe when accuracy falls below the threshold, atomically. The updated
	// recipe is returned.
	RecordUsage(ctx context.Context, p UsageParams) (*model.ExtractionRecipe, error)

	// Daily metrics
	BumpDailyMetrics(ctx context.Context, delta model.DailyLearningMetrics) error
	Stats(ctx context.Context, days int) (*model.LearningStats, error)

	// Prices
	UpsertPrice(ctx context.Context, entry model.PriceEntry) error
	GetPrice(ctx context.Context, modelName, process string) (*model.PriceEntry, error)
	ListPrices(ctx context.Context) ([]model.PriceEntry, error)

	// Forecast snapshots
	SaveSnapshots(ctx context.Context, snapshots []model.ForecastSnapshot) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
