package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/axisfab/forecast-ingest/internal/cascade"
	"github.com/axisfab/forecast-ingest/internal/prices"
	"github.com/axisfab/forecast-ingest/internal/sheet"
	"github.com/axisfab/forecast-ingest/internal/store"
	"github.com/axisfab/forecast-ingest/internal/template"
	"github.com/axisfab/forecast-ingest/internal/vision"
	"github.com/axisfab/forecast-ingest/pkg/anthropic"
)

// env bundles the wired service graph behind the commands.
type env struct {
	Store     store.Store
	Templates *template.Service
	Prices    *prices.Service
	Cascade   *cascade.Orchestrator
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "forecast.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv builds the full cascade environment: store (migrated), template
// service, price service, vision capability, orchestrator.
func initEnv(ctx context.Context) (*env, error) {
	if err := cfg.Validate("parse"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	templates := template.NewService(st, template.Config{
		MatchThreshold:   cfg.Cascade.MatchThreshold,
		EMAWeight:        cfg.Cascade.EMAWeight,
		DisableThreshold: cfg.Cascade.DisableThreshold,
	}, zap.L())

	capability := vision.NewAnthropic(anthropic.NewClient(cfg.Vision.Key), vision.Config{
		Model:             cfg.Vision.Model,
		MaxTokens:         int64(cfg.Vision.MaxTokens),
		Timeout:           time.Duration(cfg.Vision.TimeoutSecs) * time.Second,
		RequestsPerMinute: cfg.Vision.RequestsPerMinute,
	}, zap.L())

	orchCfg := cascade.DefaultConfig()
	orchCfg.DirectParseThreshold = cfg.Cascade.DirectParseThreshold

	return &env{
		Store:     st,
		Templates: templates,
		Prices:    prices.NewService(st, zap.L()),
		Cascade:   cascade.New(templates, capability, sheet.GridRenderer{}, orchCfg, zap.L()),
	}, nil
}
