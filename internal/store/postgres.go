package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/axisfab/forecast-ingest/internal/db"
	"github.com/axisfab/forecast-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_recipe":           `SELECT id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at FROM extraction_recipes WHERE id = $1`,
	"get_recipe_signature": `SELECT id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at FROM extraction_recipes WHERE signature = $1 AND active ORDER BY accuracy DESC, use_count DESC LIMIT 1`,
	"insert_recipe":        `INSERT INTO extraction_recipes (id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"insert_usage":         `INSERT INTO recipe_usage (id, recipe_id, match_score, success, latency_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_price":            `SELECT model, process, unit_price FROM prices WHERE model = $1 AND process = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS extraction_recipes (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	signature  TEXT NOT NULL,
	mapping    JSONB NOT NULL,
	accuracy   DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	use_count  INTEGER NOT NULL DEFAULT 0,
	active     BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS recipe_usage (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	recipe_id   TEXT NOT NULL REFERENCES extraction_recipes(id),
	match_score DOUBLE PRECISION NOT NULL,
	success     BOOLEAN NOT NULL,
	latency_ms  BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS learning_metrics (
	day          TEXT PRIMARY KEY,
	uploads      INTEGER NOT NULL DEFAULT 0,
	recipe_hits  INTEGER NOT NULL DEFAULT 0,
	vision_calls INTEGER NOT NULL DEFAULT 0,
	cost_saved   DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS prices (
	model      TEXT NOT NULL,
	process    TEXT NOT NULL,
	unit_price DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (model, process)
);

CREATE TABLE IF NOT EXISTS forecast_snapshots (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	upload_date   TEXT NOT NULL,
	forecast_date TEXT NOT NULL,
	model         TEXT NOT NULL,
	process       TEXT NOT NULL DEFAULT '',
	quantity      INTEGER NOT NULL,
	revenue       DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (upload_date, forecast_date, model, process)
);

CREATE INDEX IF NOT EXISTS idx_recipes_signature ON extraction_recipes(signature);
CREATE INDEX IF NOT EXISTS idx_recipes_active ON extraction_recipes(active) WHERE active;
CREATE INDEX IF NOT EXISTS idx_recipe_usage_recipe_id ON recipe_usage(recipe_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_upload_date ON forecast_snapshots(upload_date);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRecipe(ctx context.Context, recipe *model.ExtractionRecipe) error {
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
		return eris.Wrap(err, "postgres: marshal mapping")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_recipes (id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		recipe.ID, recipe.Name, string(recipe.Signature), mappingJSON,
		recipe.Accuracy, recipe.UseCount, recipe.Active, now, now,
	)
	return eris.Wrap(err, "postgres: insert recipe")
}

func (s *PostgresStore) GetRecipe(ctx context.Context, recipeID string) (*model.ExtractionRecipe, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at
		 FROM extraction_recipes WHERE id = $1`,
		recipeID,
	)
	r, err := scanRecipePgx(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get recipe %s", recipeID)
	}
	return r, nil
}

func (s *PostgresStore) GetRecipeBySignature(ctx context.Context, sig model.Signature) (*model.ExtractionRecipe, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at
		 FROM extraction_recipes WHERE signature = $1 AND active
		 ORDER BY accuracy DESC, use_count DESC LIMIT 1`,
		string(sig),
	)
	r, err := scanRecipePgx(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get recipe by signature")
	}
	return r, nil
}

func (s *PostgresStore) ListRecipes(ctx context.Context, filter RecipeFilter) ([]model.ExtractionRecipe, error) {
	query := `SELECT id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at
	          FROM extraction_recipes WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ActiveOnly {
		query += ` AND active`
	}
	query += ` ORDER BY use_count DESC, created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recipes")
	}
	defer rows.Close()

	var recipes []model.ExtractionRecipe
	for rows.Next() {
		r, err := scanRecipePgx(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan recipe")
		}
		recipes = append(recipes, *r)
	}
	return recipes, eris.Wrap(rows.Err(), "postgres: list recipes iterate")
}

func (s *PostgresStore) UpdateRecipeMapping(ctx context.Context, recipeID string, mapping model.CellMapping) error {
	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal mapping")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_recipes SET mapping = $1, updated_at = $2 WHERE id = $3`,
		mappingJSON, time.Now().UTC(), recipeID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update recipe mapping %s", recipeID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("recipe not found: %s", recipeID)
	}
	return nil
}

func (s *PostgresStore) SetRecipeActive(ctx context.Context, recipeID string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_recipes SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), recipeID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set recipe active %s", recipeID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("recipe not found: %s", recipeID)
	}
	return nil
}

func (s *PostgresStore) RecordUsage(ctx context.Context, p UsageParams) (*model.ExtractionRecipe, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin usage tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	recipe, err := scanRecipePgx(tx.QueryRow(ctx,
		`SELECT id, name, signature, mapping, accuracy, use_count, active, created_at, updated_at
		 FROM extraction_recipes WHERE id = $1 FOR UPDATE`,
		p.RecipeID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lock recipe %s", p.RecipeID)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`INSERT INTO recipe_usage (id, recipe_id, match_score, success, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), p.RecipeID, p.MatchScore, p.Success, p.Latency.Milliseconds(), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert usage for recipe %s", p.RecipeID)
	}

	recipe.UseCount++
	recipe.Accuracy = foldAccuracy(recipe.Accuracy, p.Success, p.EMAWeight)
	// Deactivation is one-directional: accuracy recovering above the
	// threshold does not re-enable a recipe.
	if recipe.Active && recipe.Accuracy < p.DisableThreshold {
		recipe.Active = false
	}
	recipe.UpdatedAt = now

	_, err = tx.Exec(ctx,
		`UPDATE extraction_recipes SET accuracy = $1, use_count = $2, active = $3, updated_at = $4 WHERE id = $5`,
		recipe.Accuracy, recipe.UseCount, recipe.Active, now, p.RecipeID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update recipe stats %s", p.RecipeID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit usage tx")
	}
	return recipe, nil
}

func (s *PostgresStore) BumpDailyMetrics(ctx context.Context, delta model.DailyLearningMetrics) error {
	day := delta.Day
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO learning_metrics (day, uploads, recipe_hits, vision_calls, cost_saved)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (day) DO UPDATE SET
		   uploads      = learning_metrics.uploads + EXCLUDED.uploads,
		   recipe_hits  = learning_metrics.recipe_hits + EXCLUDED.recipe_hits,
		   vision_calls = learning_metrics.vision_calls + EXCLUDED.vision_calls,
		   cost_saved   = learning_metrics.cost_saved + EXCLUDED.cost_saved`,
		day, delta.Uploads, delta.RecipeHits, delta.VisionCalls, delta.CostSaved,
	)
	return eris.Wrap(err, "postgres: bump daily metrics")
}

func (s *PostgresStore) Stats(ctx context.Context, days int) (*model.LearningStats, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	var stats model.LearningStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE active) FROM extraction_recipes`,
	).Scan(&stats.TotalRecipes, &stats.ActiveRecipes)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count recipes")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(uploads), 0), COALESCE(SUM(recipe_hits), 0), COALESCE(SUM(cost_saved), 0)
		 FROM learning_metrics WHERE day >= $1`,
		since,
	).Scan(&stats.Uploads, &stats.RecipeHits, &stats.CostSaved)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: sum metrics")
	}

	if stats.Uploads > 0 {
		stats.HitRate = float64(stats.RecipeHits) / float64(stats.Uploads)
	}
	return &stats, nil
}

func (s *PostgresStore) UpsertPrice(ctx context.Context, entry model.PriceEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prices (model, process, unit_price) VALUES ($1, $2, $3)
		 ON CONFLICT (model, process) DO UPDATE SET unit_price = EXCLUDED.unit_price`,
		entry.Model, entry.Process, entry.UnitPrice,
	)
	return eris.Wrap(err, "postgres: upsert price")
}

func (s *PostgresStore) GetPrice(ctx context.Context, modelName, process string) (*model.PriceEntry, error) {
	var entry model.PriceEntry
	err := s.pool.QueryRow(ctx,
		`SELECT model, process, unit_price FROM prices WHERE model = $1 AND process = $2`,
		modelName, process,
	).Scan(&entry.Model, &entry.Process, &entry.UnitPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get price")
	}
	return &entry, nil
}

func (s *PostgresStore) ListPrices(ctx context.Context) ([]model.PriceEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT model, process, unit_price FROM prices ORDER BY model, process`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list prices")
	}
	defer rows.Close()

	var entries []model.PriceEntry
	for rows.Next() {
		var e model.PriceEntry
		if err := rows.Scan(&e.Model, &e.Process, &e.UnitPrice); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list prices iterate")
}

func (s *PostgresStore) SaveSnapshots(ctx context.Context, snapshots []model.ForecastSnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(snapshots))
	for _, snap := range snapshots {
		id := snap.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{
			id, snap.UploadDate, snap.ForecastDate, snap.Model, snap.Process,
			snap.Quantity, snap.Revenue, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "forecast_snapshots",
		Columns:      []string{"id", "upload_date", "forecast_date", "model", "process", "quantity", "revenue", "created_at"},
		ConflictKeys: []string{"upload_date", "forecast_date", "model", "process"},
		UpdateCols:   []string{"quantity", "revenue"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save snapshots")
	}
	return int(n), nil
}

func scanRecipePgx(row pgx.Row) (*model.ExtractionRecipe, error) {
	var r model.ExtractionRecipe
	var sig string
	var mappingJSON []byte

	err := row.Scan(&r.ID, &r.Name, &sig, &mappingJSON, &r.Accuracy, &r.UseCount, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.Signature = model.Signature(sig)
	mapping, err := model.ParseCellMapping(mappingJSON)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: recipe %s has invalid mapping", r.ID)
	}
	r.Mapping = mapping
	return &r, nil
}
