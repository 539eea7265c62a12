// SPDX-License-Identifier: Apache-2.0
package app

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/jllopis/jarvis/pkg/config"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/llm"
	"github.com/jllopis/jarvis/pkg/memory"
	"github.com/jllopis/jarvis/pkg/memory/ollama"
	"github.com/jllopis/jarvis/pkg/memory/qdrant"
	"github.com/jllopis/jarvis/pkg/resilience"
	"github.com/jllopis/jarvis/pkg/session"
	"github.com/jllopis/jarvis/pkg/tracestore"
	"github.com/jllopis/jarvis/pkg/weather"
	"github.com/jllopis/jarvis/pkg/websearch"
	"github.com/jllopis/jarvis/providers/gemini"
	"github.com/jllopis/jarvis/providers/openai"
)

func buildTiers(ctx context.Context, cfg config.LLMConfig) (llm.Tiers, error) {
	fast, err := buildModel(ctx, "fast", cfg.Fast)
	if err != nil {
		return llm.Tiers{}, err
	}
	tiers := llm.Tiers{Fast: fast}
	if cfg.Smart.Provider != "none" {
		if tiers.Smart, err = buildModel(ctx, "smart", cfg.Smart); err != nil {
			return llm.Tiers{}, err
		}
	}
	return tiers, nil
}

func buildModel(ctx context.Context, tier string, cfg config.TierConfig) (llm.Model, error) {
	model := llm.Model{Name: cfg.Model}
	switch cfg.Provider {
	case "openai":
		model.Provider = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithAPIKey(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
	case "gemini":
		p, err := gemini.New(ctx, cfg.APIKey, gemini.WithModel(cfg.Model))
		if err != nil {
			return llm.Model{}, errors.New(errors.CodeLLMError, "create "+tier+" tier provider", err)
		}
		model.Provider = p
	case "ollama":
		model.Provider = llm.NewOllama(cfg.BaseURL)
	case "mock":
		model.Provider = llm.EchoProvider{}
		if model.Name == "" {
			model.Name = "mock"
		}
	default:
		return llm.Model{}, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown %s tier provider %q", tier, cfg.Provider), nil)
	}
	return model, nil
}

// sqlite opens the shared database on first use.
func (a *App) sqlite(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := sql.Open("sqlite", a.Config.Storage.SQLitePath)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "open sqlite", err).WithContext("path", a.Config.Storage.SQLitePath)
	}
	// The stores share one connection; sqlite has a single writer.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.CodeInternal, "open sqlite", err).WithContext("path", a.Config.Storage.SQLitePath)
	}
	a.db = db
	a.onClose(func(context.Context) error { return db.Close() })
	return db, nil
}

func (a *App) buildMemory(ctx context.Context) (memory.Store, error) {
	cfg := a.Config.Memory
	switch cfg.Provider {
	case "inmemory":
		return memory.NewInMemory(), nil
	case "sqlite":
		return a.sqliteMemory(ctx)
	case "vector":
		journal, err := a.sqliteMemory(ctx)
		if err != nil {
			return nil, err
		}
		store, err := qdrant.New(cfg.QdrantAddr)
		if err != nil {
			return nil, errors.New(errors.CodeMemoryError, "connect qdrant", err)
		}
		a.onClose(func(context.Context) error { return store.Close() })
		vm, err := memory.NewVectorMemory(store, ollama.NewEmbedder(cfg.EmbedderBaseURL, cfg.EmbedderModel), memory.VectorConfig{
			Collection: cfg.Collection,
			Threshold:  float32(cfg.Threshold),
			Journal:    journal,
		})
		if err != nil {
			return nil, err
		}
		if err := vm.Initialize(ctx); err != nil {
			return nil, err
		}
		return vm, nil
	default:
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown memory provider %q", cfg.Provider), nil)
	}
}

func (a *App) sqliteMemory(ctx context.Context) (*memory.SQLiteStore, error) {
	db, err := a.sqlite(ctx)
	if err != nil {
		return nil, err
	}
	store, err := memory.NewSQLiteStore(memory.SQLiteConfig{DB: db, TableName: a.Config.Memory.Table})
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// buildSearcher returns nil for the "none" provider; the search agent then
// reports a tool failure and the turn goes on without web context.
func (a *App) buildSearcher(cfg config.SearchConfig) websearch.Searcher {
	if cfg.Provider != "tavily" {
		return nil
	}
	breaker := a.breaker("tavily")
	opts := []websearch.Option{
		websearch.WithBaseURL(cfg.BaseURL),
		websearch.WithSearchDepth(cfg.Depth),
		websearch.WithCircuitBreaker(breaker),
	}
	if cfg.RateLimit > 0 {
		burst := max(int(cfg.RateLimit), 1)
		opts = append(opts, websearch.WithRateLimit(rate.Limit(cfg.RateLimit), burst))
	}
	return websearch.New(cfg.APIKey, opts...)
}

func (a *App) buildWeather(cfg config.WeatherConfig) weather.Provider {
	if cfg.Provider != "openweather" {
		return nil
	}
	return weather.New(cfg.APIKey,
		weather.WithBaseURL(cfg.BaseURL),
		weather.WithCircuitBreaker(a.breaker("openweather")),
	)
}

// breaker creates a circuit breaker for an external tool and reports it in
// health checks.
func (a *App) breaker(name string) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: name})
	a.Health.RegisterChecker(name, cb)
	return cb
}

func (a *App) buildSessions(ctx context.Context) (session.Store, error) {
	if a.Config.Session.Store != "sqlite" {
		return session.NewInMemory(), nil
	}
	db, err := a.sqlite(ctx)
	if err != nil {
		return nil, err
	}
	store, err := session.NewSQLiteStore(session.SQLiteConfig{DB: db})
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (a *App) buildTraces(ctx context.Context) (tracestore.Store, error) {
	if a.Config.Traces.Store != "sqlite" {
		return tracestore.NewMemoryStore(a.Config.Traces.Capacity), nil
	}
	db, err := a.sqlite(ctx)
	if err != nil {
		return nil, err
	}
	return tracestore.NewSQLiteStore(db)
}
