package prices

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/store"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRecipe(ctx context.Context, recipe *model.ExtractionRecipe) error {
	args := m.Called(ctx, recipe)
	return args.Error(0)
}

func (m *mockStore) GetRecipe(ctx context.Context, recipeID string) (*model.ExtractionRecipe, error) {
	args := m.Called(ctx, recipeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ExtractionRecipe), args.Error(1)
}

func (m *mockStore) GetRecipeBySignature(ctx context.Context, sig model.Signature) (*model.ExtractionRecipe, error) {
	args := m.Called(ctx, sig)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ExtractionRecipe), args.Error(1)
}

func (m *mockStore) ListRecipes(ctx context.Context, filter store.RecipeFilter) ([]model.ExtractionRecipe, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ExtractionRecipe), args.Error(1)
}

func (m *mockStore) UpdateRecipeMapping(ctx context.Context, recipeID string, mapping model.CellMapping) error {
	args := m.Called(ctx, recipeID, mapping)
	return args.Error(0)
}

func (m *mockStore) SetRecipeActive(ctx context.Context, recipeID string, active bool) error {
	args := m.Called(ctx, recipeID, active)
	return args.Error(0)
}

func (m *mockStore) RecordUsage(ctx context.Context, p store.UsageParams) (*model.ExtractionRecipe, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ExtractionRecipe), args.Error(1)
}

func (m *mockStore) BumpDailyMetrics(ctx context.Context, delta model.DailyLearningMetrics) error {
	args := m.Called(ctx, delta)
	return args.Error(0)
}

func (m *mockStore) Stats(ctx context.Context, days int) (*model.LearningStats, error) {
	args := m.Called(ctx, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LearningStats), args.Error(1)
}

func (m *mockStore) UpsertPrice(ctx context.Context, entry model.PriceEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockStore) GetPrice(ctx context.Context, modelName, process string) (*model.PriceEntry, error) {
	args := m.Called(ctx, modelName, process)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PriceEntry), args.Error(1)
}

func (m *mockStore) ListPrices(ctx context.Context) ([]model.PriceEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PriceEntry), args.Error(1)
}

func (m *mockStore) SaveSnapshots(ctx context.Context, snapshots []model.ForecastSnapshot) (int, error) {
	args := m.Called(ctx, snapshots)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
