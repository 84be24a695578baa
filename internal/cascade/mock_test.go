package cascade

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/sheet"
	"github.com/axisfab/forecast-ingest/internal/template"
	"github.com/axisfab/forecast-ingest/internal/vision"
)

type mockMatcher struct {
	mock.Mock
}

func (m *mockMatcher) Match(ctx context.Context, doc *sheet.Document) (*template.Match, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*template.Match), args.Error(1)
}

func (m *mockMatcher) RecordUsage(ctx context.Context, recipeID string, score float64, success bool, latency time.Duration) (*model.ExtractionRecipe, error) {
	args := m.Called(ctx, recipeID, score, success, latency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ExtractionRecipe), args.Error(1)
}

func (m *mockMatcher) RecordDailyMetrics(ctx context.Context, hit, visionCall bool, costSaved float64) error {
	args := m.Called(ctx, hit, visionCall, costSaved)
	return args.Error(0)
}

type mockVision struct {
	mock.Mock
}

func (m *mockVision) Analyze(ctx context.Context, png []byte) (*vision.AnalysisResult, error) {
	args := m.Called(ctx, png)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vision.AnalysisResult), args.Error(1)
}

func (m *mockVision) Verify(ctx context.Context, records []model.ExtractedRecord, png []byte) (*vision.VerifyResult, error) {
	args := m.Called(ctx, records, png)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vision.VerifyResult), args.Error(1)
}

type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) Render(doc *sheet.Document) ([]byte, error) {
	args := m.Called(doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
