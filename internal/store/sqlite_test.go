package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axisfab/forecast-ingest/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testMapping() model.CellMapping {
	return model.CellMapping{
		Version:         model.MappingVersion,
		ModelColumn:     "B",
		ModelFirstRow:   5,
		DateHeaderRow:   4,
		DateFirstColumn: "D",
	}
}

func createTestRecipe(t *testing.T, st *SQLiteStore, name string, sig model.Signature) *model.ExtractionRecipe {
	t.Helper()
	r := &model.ExtractionRecipe{
		Name:      name,
		Signature: sig,
		Mapping:   testMapping(),
	}
	require.NoError(t, st.CreateRecipe(context.Background(), r))
	return r
}

// --- Recipes ---

func TestSQLite_CreateRecipe_And_GetRecipe(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestRecipe(t, st, "vendor-a forecast", "abc123def456abcd")
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1.0, created.Accuracy)
	assert.True(t, created.Active)

	got, err := st.GetRecipe(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "vendor-a forecast", got.Name)
	assert.Equal(t, model.Signature("abc123def456abcd"), got.Signature)
	assert.Equal(t, "B", got.Mapping.ModelColumn)
	assert.Equal(t, 0, got.UseCount)
}

func TestSQLite_GetRecipe_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRecipe(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipe not found")
}

// insertRawRecipe writes a recipe row with an arbitrary mapping blob,
// bypassing CreateRecipe's marshalling.
func insertRawRecipe(t *testing.T, st *SQLiteStore, id, sig, mappingJSON string) {
	t.Helper()
	now := time.Now().UTC()
	_, err := st.db.ExecContext(context.Background(),
		`INSERT INTO extraction_recipes (id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1.0, 0, 1, ?, ?)`,
		id, "legacy", sig, mappingJSON, now, now,
	)
	require.NoError(t, err)
}

func TestSQLite_GetRecipe_RejectsNewerMappingVersion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	insertRawRecipe(t, st, "legacy-1", "sig-legacy",
		`{"version":2,"model_column":"A","model_first_row":4,"date_header_row":2,"date_first_column":"C","legacy_field":true}`)

	_, err := st.GetRecipe(ctx, "legacy-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mapping")

	_, err = st.GetRecipeBySignature(ctx, "sig-legacy")
	require.Error(t, err)
}

func TestSQLite_GetRecipe_RejectsUnknownMappingField(t *testing.T) {
	st := newTestSQLiteStore(t)

	insertRawRecipe(t, st, "legacy-2", "sig-legacy-2",
		`{"version":1,"model_column":"A","model_first_row":4,"date_header_row":2,"date_first_column":"C","header_offset":3}`)

	_, err := st.GetRecipe(context.Background(), "legacy-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mapping")
}

func TestSQLite_GetRecipeBySignature(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestRecipe(t, st, "vendor-a forecast", "sig-one")

	got, err := st.GetRecipeBySignature(ctx, "sig-one")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
}

func TestSQLite_GetRecipeBySignature_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetRecipeBySignature(context.Background(), "no-such-sig")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_GetRecipeBySignature_IgnoresInactive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestRecipe(t, st, "vendor-a forecast", "sig-disabled")
	require.NoError(t, st.SetRecipeActive(ctx, created.ID, false))

	got, err := st.GetRecipeBySignature(ctx, "sig-disabled")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_ListRecipes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	createTestRecipe(t, st, "one", "sig-1")
	two := createTestRecipe(t, st, "two", "sig-2")
	require.NoError(t, st.SetRecipeActive(ctx, two.ID, false))

	all, err := st.ListRecipes(ctx, RecipeFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := st.ListRecipes(ctx, RecipeFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "one", active[0].Name)
}

func TestSQLite_UpdateRecipeMapping(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestRecipe(t, st, "vendor-a forecast", "sig-remap")

	updated := testMapping()
	updated.ModelColumn = "C"
	require.NoError(t, st.UpdateRecipeMapping(ctx, created.ID, updated))

	got, err := st.GetRecipe(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "C", got.Mapping.ModelColumn)
}

func TestSQLite_UpdateRecipeMapping_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateRecipeMapping(context.Background(), "nonexistent", testMapping())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipe not found")
}

// --- Learning loop ---

func TestSQLite_RecordUsage_Success(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestRecipe(t, st, "vendor-a forecast", "sig-usage")

	updated, err := st.RecordUsage(ctx, UsageParams{
		RecipeID:         created.ID,
		MatchScore:       92.5,
		Success:          true,
		Latency:          120 * time.Millisecond,
		EMAWeight:        0.1,
		DisableThreshold: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.UseCount)
	assert.InDelta(t, 1.0, updated.Accuracy, 1e-9)
	assert.True(t, updated.Active)
}

func TestSQLite_RecordUsage_FailureDecaysAccuracy(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestRecipe(t, st, "vendor-a forecast", "sig-decay")

	updated, err := st.RecordUsage(ctx, UsageParams{
		RecipeID:         created.ID,
		MatchScore:       80,
		Success:          false,
		EMAWeight:        0.1,
		DisableThreshold: 0.7,
	})
	require.NoError(t, err)
	// 1.0*0.9 + 0.0*0.1
	assert.InDelta(t, 0.9, updated.Accuracy, 1e-9)
	assert.True(t, updated.Active)
}

func TestSQLite_RecordUsage_AutoDisable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestRecipe(t, st, "vendor-a forecast", "sig-disable")

	var last *model.ExtractionRecipe
	var err error
	for i := 0; i < 4; i++ {
		last, err = st.RecordUsage(ctx, UsageParams{
			RecipeID:         created.ID,
			MatchScore:       75,
			Success:          false,
			EMAWeight:        0.1,
			DisableThreshold: 0.7,
		})
		require.NoError(t, err)
	}
	// 0.9^4 = 0.6561 < 0.7
	assert.InDelta(t, 0.6561, last.Accuracy, 1e-9)
	assert.False(t, last.Active)
	assert.Equal(t, 4, last.UseCount)

	// Not returned by signature lookup anymore.
	got, err := st.GetRecipeBySignature(ctx, "sig-disable")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_RecordUsage_NoImplicitReactivation(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created := createTestRecipe(t, st, "vendor-a forecast", "sig-stay-off")
	require.NoError(t, st.SetRecipeActive(ctx, created.ID, false))

	updated, err := st.RecordUsage(ctx, UsageParams{
		RecipeID:         created.ID,
		MatchScore:       100,
		Success:          true,
		EMAWeight:        0.1,
		DisableThreshold: 0.7,
	})
	require.NoError(t, err)
	assert.False(t, updated.Active)
}

func TestSQLite_RecordUsage_MissingRecipe(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.RecordUsage(context.Background(), UsageParams{RecipeID: "nonexistent"})
	require.Error(t, err)
}

// --- Daily metrics ---

func TestSQLite_BumpDailyMetrics_Accumulates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	day := "2026-02-10"
	require.NoError(t, st.BumpDailyMetrics(ctx, model.DailyLearningMetrics{
		Day: day, Uploads: 1, RecipeHits: 1, CostSaved: 0.02,
	}))
	require.NoError(t, st.BumpDailyMetrics(ctx, model.DailyLearningMetrics{
		Day: day, Uploads: 1, VisionCalls: 1,
	}))

	stats, err := st.Stats(ctx, 36500)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Uploads)
	assert.Equal(t, 1, stats.RecipeHits)
	assert.InDelta(t, 0.02, stats.CostSaved, 1e-9)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestSQLite_Stats_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	stats, err := st.Stats(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRecipes)
	assert.Equal(t, 0, stats.Uploads)
	assert.Zero(t, stats.HitRate)
}

func TestSQLite_Stats_WindowExcludesOldDays(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -60).Format("2006-01-02")
	recent := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, st.BumpDailyMetrics(ctx, model.DailyLearningMetrics{Day: old, Uploads: 5}))
	require.NoError(t, st.BumpDailyMetrics(ctx, model.DailyLearningMetrics{Day: recent, Uploads: 2}))

	stats, err := st.Stats(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Uploads)
}

func TestSQLite_Stats_CountsActiveRecipes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	createTestRecipe(t, st, "one", "sig-a")
	two := createTestRecipe(t, st, "two", "sig-b")
	require.NoError(t, st.SetRecipeActive(ctx, two.ID, false))

	stats, err := st.Stats(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRecipes)
	assert.Equal(t, 1, stats.ActiveRecipes)
}

// --- Prices ---

func TestSQLite_Prices_UpsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPrice(ctx, model.PriceEntry{Model: "NX-100", Process: "CNC", UnitPrice: 4.2}))
	require.NoError(t, st.UpsertPrice(ctx, model.PriceEntry{Model: "NX-100", Process: "CNC", UnitPrice: 4.5}))

	got, err := st.GetPrice(ctx, "NX-100", "CNC")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 4.5, got.UnitPrice, 1e-9)
}

func TestSQLite_GetPrice_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetPrice(context.Background(), "NX-999", "CNC")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_ListPrices(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPrice(ctx, model.PriceEntry{Model: "NX-200", Process: "CNC", UnitPrice: 3.1}))
	require.NoError(t, st.UpsertPrice(ctx, model.PriceEntry{Model: "NX-100", Process: "CNC", UnitPrice: 4.2}))

	entries, err := st.ListPrices(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "NX-100", entries[0].Model)
}

// --- Snapshots ---

func TestSQLite_SaveSnapshots_UpsertOnConflict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	snaps := []model.ForecastSnapshot{
		{UploadDate: "2026-02-10", ForecastDate: "2026-02-17", Model: "NX-100", Process: "CNC", Quantity: 120, Revenue: 504},
		{UploadDate: "2026-02-10", ForecastDate: "2026-02-18", Model: "NX-100", Process: "CNC", Quantity: 80, Revenue: 336},
	}
	n, err := st.SaveSnapshots(ctx, snaps)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Same keys with new quantity overwrite rather than duplicate.
	snaps[0].Quantity = 150
	snaps[0].Revenue = 630
	n, err = st.SaveSnapshots(ctx, snaps[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var count, qty int
	row := st.db.QueryRowContext(ctx,
		`SELECT COUNT(*), (SELECT quantity FROM forecast_snapshots WHERE forecast_date = '2026-02-17') FROM forecast_snapshots`)
	require.NoError(t, row.Scan(&count, &qty))
	assert.Equal(t, 2, count)
	assert.Equal(t, 150, qty)
}

func TestSQLite_SaveSnapshots_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	n, err := st.SaveSnapshots(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Migrate(context.Background()))
}
