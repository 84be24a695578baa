// Package cascade runs an upload through the extraction stages in order:
// fixed-format heuristic parse, template match, full external analysis. The
// first confident result wins; stage-local failures fall through rather than
// abort.
package cascade

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/axisfab/forecast-ingest/internal/extract"
	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/sheet"
	"github.com/axisfab/forecast-ingest/internal/template"
	"github.com/axisfab/forecast-ingest/internal/vision"
)

// Stage identifies one step of the cascade.
type Stage int

const (
	StageFixedFormat Stage = iota
	StageTemplateMatch
	StageFullAnalysis
)

func (s Stage) String() string {
	switch s {
	case StageFixedFormat:
		return "fixed_format"
	case StageTemplateMatch:
		return "template_match"
	case StageFullAnalysis:
		return "full_analysis"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Matcher is the template-store collaborator.
type Matcher interface {
	Match(ctx context.Context, doc *sheet.Document) (*template.Match, error)
	RecordUsage(ctx context.Context, recipeID string, score float64, success bool, latency time.Duration) (*model.ExtractionRecipe, error)
	RecordDailyMetrics(ctx context.Context, hit, visionCall bool, costSaved float64) error
}

// Renderer produces the grid image handed to the vision capability.
type Renderer interface {
	Render(doc *sheet.Document) ([]byte, error)
}

// Config tunes stage transitions and cost accounting.
type Config struct {
	DirectParseThreshold float64 // match score at or above which no verification is needed
	FixedFormatCostSaved float64 // estimated external cost avoided per fixed-format parse
	TemplateHitCostSaved float64 // estimated external cost avoided per direct template hit
}

// DefaultConfig returns the standard cascade settings.
func DefaultConfig() Config {
	return Config{
		DirectParseThreshold: 90,
		FixedFormatCostSaved: 0.03,
		TemplateHitCostSaved: 0.02,
	}
}

// Orchestrator owns one cascade pipeline. Collaborators are injected once at
// construction and shared across uploads.
type Orchestrator struct {
	templates Matcher
	vision    vision.Capability
	renderer  Renderer
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
}

// New builds an Orchestrator. A nil logger falls back to the global.
func New(templates Matcher, capability vision.Capability, renderer Renderer, cfg Config, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.L()
	}
	if cfg.DirectParseThreshold == 0 {
		cfg.DirectParseThreshold = 90
	}
	return &Orchestrator{
		templates: templates,
		vision:    capability,
		renderer:  renderer,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Process runs the document through the cascade and always returns an
// outcome: empty records with confidence 0 and explanatory notes when every
// stage fails. The document itself is assumed readable; loading is the
// caller's fatal-error boundary.
func (o *Orchestrator) Process(ctx context.Context, doc *sheet.Document) model.ParseOutcome {
	log := o.log.With(zap.String("document", doc.Name))

	if outcome, ok := o.tryFixedFormat(ctx, doc, log); ok {
		return outcome
	}

	outcome, corrections, done := o.tryTemplateMatch(ctx, doc, log)
	if done {
		return outcome
	}

	return o.fullAnalysis(ctx, doc, corrections, log)
}

// tryFixedFormat runs the heuristic parser for the known floating layout.
// Anything going wrong here means "not applicable", never a failure.
func (o *Orchestrator) tryFixedFormat(ctx context.Context, doc *sheet.Document, log *zap.Logger) (outcome model.ParseOutcome, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("fixed-format stage panicked, treating as not applicable", zap.Any("panic", r))
			outcome, ok = model.ParseOutcome{}, false
		}
	}()

	if !extract.DetectFixedFormat(doc) {
		return model.ParseOutcome{}, false
	}

	outcome = extract.ExtractFixedFormat(doc, o.now())
	log.Info("fixed-format parse",
		zap.String("stage", StageFixedFormat.String()),
		zap.Int("records", len(outcome.Records)))

	if err := o.templates.RecordDailyMetrics(ctx, true, false, o.cfg.FixedFormatCostSaved); err != nil {
		log.Warn("daily metrics update failed", zap.Error(err))
	}
	return outcome, true
}

// tryTemplateMatch looks up a learned recipe and extracts with it. Returns
// corrections to carry into the final stage when the verifier rejected the
// mapping result but supplied fixes.
func (o *Orchestrator) tryTemplateMatch(ctx context.Context, doc *sheet.Document, log *zap.Logger) (model.ParseOutcome, []model.ExtractedRecord, bool) {
	match, err := o.templates.Match(ctx, doc)
	if err != nil {
		log.Warn("template match failed", zap.Error(err))
		return model.ParseOutcome{}, nil, false
	}
	if match == nil {
		log.Debug("no template match")
		return model.ParseOutcome{}, nil, false
	}

	log = log.With(
		zap.String("recipe_id", match.Recipe.ID),
		zap.Float64("score", match.Score))

	start := o.now()
	records, err := extract.FromMapping(doc, match.Recipe.Mapping)
	if err != nil {
		log.Warn("mapping extraction failed", zap.Error(err))
		o.recordUsage(ctx, match, false, o.now().Sub(start), log)
		return model.ParseOutcome{}, nil, false
	}

	if match.Score >= o.cfg.DirectParseThreshold {
		o.recordUsage(ctx, match, true, o.now().Sub(start), log)
		if err := o.templates.RecordDailyMetrics(ctx, true, false, o.cfg.TemplateHitCostSaved); err != nil {
			log.Warn("daily metrics update failed", zap.Error(err))
		}
		log.Info("direct template parse", zap.Int("records", len(records)))
		return model.ParseOutcome{
			Records:    records,
			Confidence: match.Score / 100,
			Notes:      fmt.Sprintf("extracted with recipe %q (score %.1f)", match.Recipe.Name, match.Score),
			RecipeID:   match.Recipe.ID,
			RecipeName: match.Recipe.Name,
			Matched:    true,
		}, nil, true
	}

	// Borderline score: the mapping result needs external verification.
	png, err := o.renderer.Render(doc)
	if err != nil {
		log.Warn("render for verification failed", zap.Error(err))
		return model.ParseOutcome{}, nil, false
	}

	verdict, err := o.vision.Verify(ctx, records, png)
	if err != nil {
		// External-capability failure: fall through without penalizing the
		// recipe for a call that never evaluated it.
		log.Warn("verification call failed", zap.Error(err))
		return model.ParseOutcome{}, nil, false
	}

	if verdict.Valid {
		o.recordUsage(ctx, match, true, o.now().Sub(start), log)
		if err := o.templates.RecordDailyMetrics(ctx, true, true, 0); err != nil {
			log.Warn("daily metrics update failed", zap.Error(err))
		}
		confidence := verdict.Confidence
		if confidence == 0 {
			confidence = 0.8
		}
		log.Info("verified template parse", zap.Int("records", len(records)))
		return model.ParseOutcome{
			Records:    records,
			Confidence: confidence,
			Notes:      fmt.Sprintf("extracted with recipe %q, verified (score %.1f)", match.Recipe.Name, match.Score),
			RecipeID:   match.Recipe.ID,
			RecipeName: match.Recipe.Name,
			Matched:    true,
		}, nil, true
	}

	o.recordUsage(ctx, match, false, o.now().Sub(start), log)
	log.Info("verification rejected mapping result",
		zap.Strings("errors", verdict.Errors),
		zap.Int("corrections", len(verdict.Corrections)))
	return model.ParseOutcome{}, verdict.Corrections, false
}

// fullAnalysis is the terminal stage: hand the rendered document to the
// external capability and return its result, with verifier corrections (if
// any) taking precedence over the analyzed record set.
func (o *Orchestrator) fullAnalysis(ctx context.Context, doc *sheet.Document, corrections []model.ExtractedRecord, log *zap.Logger) model.ParseOutcome {
	if err := o.templates.RecordDailyMetrics(ctx, false, true, 0); err != nil {
		log.Warn("daily metrics update failed", zap.Error(err))
	}

	png, err := o.renderer.Render(doc)
	if err != nil {
		log.Error("render for analysis failed", zap.Error(err))
		return model.ParseOutcome{
			Records:    corrections,
			Confidence: 0,
			Notes:      "document could not be rendered for analysis: " + err.Error(),
		}
	}

	analysis, err := o.vision.Analyze(ctx, png)
	if err != nil {
		log.Error("full analysis failed", zap.Error(err))
		return model.ParseOutcome{
			Records:    corrections,
			Confidence: 0,
			Notes:      "external analysis failed: " + err.Error(),
		}
	}

	outcome := model.ParseOutcome{
		Records:    analysis.Records,
		Confidence: analysis.Confidence,
		Notes:      analysis.Notes,
	}
	if len(corrections) > 0 {
		outcome.Records = corrections
		outcome.Notes = appendNote(outcome.Notes, "verifier corrections applied")
	}
	log.Info("full analysis complete",
		zap.String("stage", StageFullAnalysis.String()),
		zap.Int("records", len(outcome.Records)),
		zap.Float64("confidence", outcome.Confidence))
	return outcome
}

func (o *Orchestrator) recordUsage(ctx context.Context, match *template.Match, success bool, latency time.Duration, log *zap.Logger) {
	if _, err := o.templates.RecordUsage(ctx, match.Recipe.ID, match.Score, success, latency); err != nil {
		log.Warn("usage recording failed", zap.Error(err))
	}
}

func appendNote(notes, extra string) string {
	if notes == "" {
		return extra
	}
	return notes + "; " + extra
}
