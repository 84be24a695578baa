// Package template manages extraction recipes: matching incoming documents
// against learned layouts and folding usage outcomes back into recipe
// reliability.
package template

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/axisfab/forecast-ingest/internal/fingerprint"
	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/sheet"
	"github.com/axisfab/forecast-ingest/internal/store"
)

// Config tunes the matcher and the learning loop.
type Config struct {
	MatchThreshold   float64 // minimum fuzzy score to accept a recipe
	EMAWeight        float64 // weight of the newest usage sample
	DisableThreshold float64 // accuracy below this deactivates a recipe
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MatchThreshold:   70,
		EMAWeight:        0.1,
		DisableThreshold: 0.7,
	}
}

// Match is the result of looking up a document against the recipe inventory.
type Match struct {
	Recipe *model.ExtractionRecipe
	Score  float64
	Exact  bool
}

// Service coordinates recipe lookup and the usage feedback loop.
type Service struct {
	store store.Store
	cfg   Config
	log   *zap.Logger
}

// NewService builds a Service. A nil logger falls back to the global.
func NewService(st store.Store, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.L()
	}
	if cfg.MatchThreshold == 0 {
		cfg.MatchThreshold = 70
	}
	if cfg.EMAWeight == 0 {
		cfg.EMAWeight = 0.1
	}
	if cfg.DisableThreshold == 0 {
		cfg.DisableThreshold = 0.7
	}
	return &Service{store: st, cfg: cfg, log: log}
}

// Match fingerprints the document and finds the best active recipe. An exact
// signature hit scores 100; otherwise every active recipe is scored and the
// best is returned when it clears the match threshold. A nil Match means no
// recipe is usable.
func (s *Service) Match(ctx context.Context, doc *sheet.Document) (*Match, error) {
	sig := fingerprint.Generate(doc)

	exact, err := s.store.GetRecipeBySignature(ctx, sig)
	if err != nil {
		return nil, eris.Wrap(err, "template: signature lookup")
	}
	if exact != nil {
		s.log.Debug("exact signature match",
			zap.String("recipe_id", exact.ID),
			zap.String("signature", string(sig)))
		return &Match{Recipe: exact, Score: 100, Exact: true}, nil
	}

	recipes, err := s.store.ListRecipes(ctx, store.RecipeFilter{ActiveOnly: true, Limit: 500})
	if err != nil {
		return nil, eris.Wrap(err, "template: list active recipes")
	}

	var best *model.ExtractionRecipe
	bestScore := 0.0
	for i := range recipes {
		r := &recipes[i]
		score := fingerprint.Score(sig, r.Signature, doc, nil)
		if score > bestScore {
			best = r
			bestScore = score
		}
	}

	if best == nil || bestScore < s.cfg.MatchThreshold {
		s.log.Debug("no recipe match",
			zap.String("signature", string(sig)),
			zap.Float64("best_score", bestScore))
		return nil, nil
	}

	s.log.Debug("fuzzy recipe match",
		zap.String("recipe_id", best.ID),
		zap.Float64("score", bestScore))
	return &Match{Recipe: best, Score: bestScore}, nil
}

// CreateRecipe persists a new recipe for the document's layout. The mapping
// is validated before anything is written.
func (s *Service) CreateRecipe(ctx context.Context, name string, doc *sheet.Document, mapping model.CellMapping) (*model.ExtractionRecipe, error) {
	if err := mapping.Validate(); err != nil {
		return nil, eris.Wrap(err, "template: create recipe")
	}

	recipe := &model.ExtractionRecipe{
		Name:      name,
		Signature: fingerprint.Generate(doc),
		Mapping:   mapping,
	}
	if err := s.store.CreateRecipe(ctx, recipe); err != nil {
		return nil, eris.Wrap(err, "template: create recipe")
	}

	s.log.Info("recipe created",
		zap.String("recipe_id", recipe.ID),
		zap.String("name", name),
		zap.String("signature", string(recipe.Signature)))
	return recipe, nil
}

// RecordUsage folds one extraction attempt into the recipe's statistics.
func (s *Service) RecordUsage(ctx context.Context, recipeID string, score float64, success bool, latency time.Duration) (*model.ExtractionRecipe, error) {
	updated, err := s.store.RecordUsage(ctx, store.UsageParams{
		RecipeID:         recipeID,
		MatchScore:       score,
		Success:          success,
		Latency:          latency,
		EMAWeight:        s.cfg.EMAWeight,
		DisableThreshold: s.cfg.DisableThreshold,
	})
	if err != nil {
		return nil, eris.Wrap(err, "template: record usage")
	}

	if !updated.Active {
		s.log.Warn("recipe auto-disabled",
			zap.String("recipe_id", recipeID),
			zap.Float64("accuracy", updated.Accuracy))
	}
	return updated, nil
}

// RecordDailyMetrics upserts today's learning metrics row for one upload.
func (s *Service) RecordDailyMetrics(ctx context.Context, hit, visionCall bool, costSaved float64) error {
	delta := model.DailyLearningMetrics{Uploads: 1, CostSaved: costSaved}
	if hit {
		delta.RecipeHits = 1
	}
	if visionCall {
		delta.VisionCalls = 1
	}
	if err := s.store.BumpDailyMetrics(ctx, delta); err != nil {
		return eris.Wrap(err, "template: record daily metrics")
	}
	return nil
}

// Stats returns the recipe inventory summary plus trailing-window aggregates.
func (s *Service) Stats(ctx context.Context, days int) (*model.LearningStats, error) {
	stats, err := s.store.Stats(ctx, days)
	if err != nil {
		return nil, eris.Wrap(err, "template: stats")
	}
	return stats, nil
}
