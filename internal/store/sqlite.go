package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/axisfab/forecast-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extraction_recipes (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	signature  TEXT NOT NULL,
	mapping    TEXT NOT NULL,
	accuracy   REAL NOT NULL DEFAULT 1.0,
	use_count  INTEGER NOT NULL DEFAULT 0,
	active     INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS recipe_usage (
	id          TEXT PRIMARY KEY,
	recipe_id   TEXT NOT NULL REFERENCES extraction_recipes(id),
	match_score REAL NOT NULL,
	success     INTEGER NOT NULL,
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS learning_metrics (
	day          TEXT PRIMARY KEY,
	uploads      INTEGER NOT NULL DEFAULT 0,
	recipe_hits  INTEGER NOT NULL DEFAULT 0,
	vision_calls INTEGER NOT NULL DEFAULT 0,
	cost_saved   REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS prices (
	model      TEXT NOT NULL,
	process    TEXT NOT NULL,
	unit_price REAL NOT NULL,
	PRIMARY KEY (model, process)
);

CREATE TABLE IF NOT EXISTS forecast_snapshots (
	id            TEXT PRIMARY KEY,
	upload_date   TEXT NOT NULL,
	forecast_date TEXT NOT NULL,
	model         TEXT NOT NULL,
	process       TEXT NOT NULL DEFAULT '',
	quantity      INTEGER NOT NULL,
	revenue       REAL NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (upload_date, forecast_date, model, process)
);

CREATE INDEX IF NOT EXISTS idx_recipes_signature ON extraction_recipes(signature);
CREATE INDEX IF NOT EXISTS idx_recipes_active ON extraction_recipes(active);
CREATE INDEX IF NOT EXISTS idx_recipe_usage_recipe_id ON recipe_usage(recipe_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_upload_date ON forecast_snapshots(upload_date);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRecipe(ctx context.Context, recipe *model.ExtractionRecipe) error {
	if recipe.ID == "" {
		recipe.ID = uuid.New().String()
	}
	if recipe.Accuracy == 0 {
		recipe.Accuracy = 1.0
	}
	now := time.Now().UTC()
	recipe.Active = true
	recipe.CreatedAt = now
	recipe.UpdatedAt = now

	mappingJSON, err := json.Marshal(recipe.Mapping)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal mapping")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_recipes (id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recipe.ID, recipe.Name, string(recipe.Signature), string(mappingJSON),
		recipe.Accuracy, recipe.UseCount, boolToInt(recipe.Active), now, now,
	)
	return eris.Wrap(err, "sqlite: insert recipe")
}

func (s *SQLiteStore) GetRecipe(ctx context.Context, recipeID string) (*model.ExtractionRecipe, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at
		 FROM extraction_recipes WHERE id = ?`,
		recipeID,
	)
	return scanRecipe(row)
}

func (s *SQLiteStore) GetRecipeBySignature(ctx context.Context, sig model.Signature) (*model.ExtractionRecipe, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at
		 FROM extraction_recipes WHERE signature = ? AND active = 1
		 ORDER BY accuracy DESC, use_count DESC LIMIT 1`,
		string(sig),
	)
	r, err := scanRecipe(row)
	if err != nil && eris.Is(err, errRecipeNotFound) {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) ListRecipes(ctx context.Context, filter RecipeFilter) ([]model.ExtractionRecipe, error) {
	query := `SELECT id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at
	          FROM extraction_recipes WHERE 1=1`
	var args []any

	if filter.ActiveOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY use_count DESC, created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recipes")
	}
	defer rows.Close()

	var recipes []model.ExtractionRecipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, *r)
	}
	return recipes, eris.Wrap(rows.Err(), "sqlite: list recipes iterate")
}

func (s *SQLiteStore) UpdateRecipeMapping(ctx context.Context, recipeID string, mapping model.CellMapping) error {
	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal mapping")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_recipes SET mapping = ?, updated_at = ? WHERE id = ?`,
		string(mappingJSON), time.Now().UTC(), recipeID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update recipe mapping %s", recipeID)
	}
	return checkRowsAffected(res, "recipe", recipeID)
}

func (s *SQLiteStore) SetRecipeActive(ctx context.Context, recipeID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_recipes SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC(), recipeID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set recipe active %s", recipeID)
	}
	return checkRowsAffected(res, "recipe", recipeID)
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, p UsageParams) (*model.ExtractionRecipe, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin usage tx")
	}
	defer tx.Rollback() //nolint:errcheck

	recipe, err := scanRecipe(tx.QueryRowContext(ctx,
		`SELECT id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at
		 FROM extraction_recipes WHERE id = ?`,
		p.RecipeID,
	))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO recipe_usage (id, recipe_id, match_score, success, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), p.RecipeID, p.MatchScore, boolToInt(p.Success), p.Latency.Milliseconds(), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert usage for recipe %s", p.RecipeID)
	}

	recipe.UseCount++
	recipe.Accuracy = foldAccuracy(recipe.Accuracy, p.Success, p.EMAWeight)
	// Deactivation is one-directional: accuracy recovering above the
	// threshold does not re-enable a recipe.
	if recipe.Active && recipe.Accuracy < p.DisableThreshold {
		recipe.Active = false
	}
	recipe.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`UPDATE extraction_recipes SET accuracy = ?, use_count = ?, active = ?, updated_at = ? WHERE id = ?`,
		recipe.Accuracy, recipe.UseCount, boolToInt(recipe.Active), now, p.RecipeID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update recipe stats %s", p.RecipeID)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit usage tx")
	}
	return recipe, nil
}

func (s *SQLiteStore) BumpDailyMetrics(ctx context.Context, delta model.DailyLearningMetrics) error {
	day := delta.Day
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learning_metrics (day, uploads, recipe_hits, vision_calls, cost_saved)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (day) DO UPDATE SET
		   uploads      = uploads + excluded.uploads,
		   recipe_hits  = recipe_hits + excluded.recipe_hits,
		   vision_calls = vision_calls + excluded.vision_calls,
		   cost_saved   = cost_saved + excluded.cost_saved`,
		day, delta.Uploads, delta.RecipeHits, delta.VisionCalls, delta.CostSaved,
	)
	return eris.Wrap(err, "sqlite: bump daily metrics")
}

func (s *SQLiteStore) Stats(ctx context.Context, days int) (*model.LearningStats, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	var stats model.LearningStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(active), 0) FROM extraction_recipes`,
	).Scan(&stats.TotalRecipes, &stats.ActiveRecipes)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count recipes")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(uploads), 0), COALESCE(SUM(recipe_hits), 0), COALESCE(SUM(cost_saved), 0)
		 FROM learning_metrics WHERE day >= ?`,
		since,
	).Scan(&stats.Uploads, &stats.RecipeHits, &stats.CostSaved)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: sum metrics")
	}

	if stats.Uploads > 0 {
		stats.HitRate = float64(stats.RecipeHits) / float64(stats.Uploads)
	}
	return &stats, nil
}

func (s *SQLiteStore) UpsertPrice(ctx context.Context, entry model.PriceEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prices (model, process, unit_price) VALUES (?, ?, ?)
		 ON CONFLICT (model, process) DO UPDATE SET unit_price = excluded.unit_price`,
		entry.Model, entry.Process, entry.UnitPrice,
	)
	return eris.Wrap(err, "sqlite: upsert price")
}

func (s *SQLiteStore) GetPrice(ctx context.Context, modelName, process string) (*model.PriceEntry, error) {
	var entry model.PriceEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT model, process, unit_price FROM prices WHERE model = ? AND process = ?`,
		modelName, process,
	).Scan(&entry.Model, &entry.Process, &entry.UnitPrice)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get price")
	}
	return &entry, nil
}

func (s *SQLiteStore) ListPrices(ctx context.Context) ([]model.PriceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, process, unit_price FROM prices ORDER BY model, process`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list prices")
	}
	defer rows.Close()

	var entries []model.PriceEntry
	for rows.Next() {
		var e model.PriceEntry
		if err := rows.Scan(&e.Model, &e.Process, &e.UnitPrice); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list prices iterate")
}

func (s *SQLiteStore) SaveSnapshots(ctx context.Context, snapshots []model.ForecastSnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin snapshot tx")
	}
	defer tx.Rollback() //nolint:errcheck

	saved := 0
	for _, snap := range snapshots {
		id := snap.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO forecast_snapshots (id, upload_date, forecast_date, model, process, quantity, revenue, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (upload_date, forecast_date, model, process) DO UPDATE SET
			   quantity = excluded.quantity,
			   revenue  = excluded.revenue`,
			id, snap.UploadDate, snap.ForecastDate, snap.Model, snap.Process,
			snap.Quantity, snap.Revenue, time.Now().UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert snapshot %s/%s", snap.Model, snap.ForecastDate)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit snapshot tx")
	}
	return saved, nil
}

// helpers

var errRecipeNotFound = eris.New("recipe not found")

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// foldAccuracy applies one success/failure sample to the exponential moving
// average of a recipe's accuracy.
func foldAccuracy(accuracy float64, success bool, weight float64) float64 {
	sample := 0.0
	if success {
		sample = 1.0
	}
	return accuracy*(1-weight) + sample*weight
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecipe(row scannable) (*model.ExtractionRecipe, error) {
	var r model.ExtractionRecipe
	var sig, mappingJSON string
	var active int

	err := row.Scan(&r.ID, &r.Name, &sig, &mappingJSON, &r.Accuracy, &r.UseCount, &active, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errRecipeNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan recipe")
	}

	r.Signature = model.Signature(sig)
	r.Active = active != 0
	mapping, err := model.ParseCellMapping([]byte(mappingJSON))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: recipe %s has invalid mapping", r.ID)
	}
	r.Mapping = mapping
	return &r, nil
}
