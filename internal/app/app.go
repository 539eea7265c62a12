// SPDX-License-Identifier: Apache-2.0

// Package app wires configuration into a running assistant: providers,
// stores, agents, the orchestrator and the HTTP server.
package app

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jllopis/jarvis/pkg/agents"
	"github.com/jllopis/jarvis/pkg/config"
	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/llm"
	"github.com/jllopis/jarvis/pkg/memory"
	"github.com/jllopis/jarvis/pkg/orchestrator"
	"github.com/jllopis/jarvis/pkg/registry"
	"github.com/jllopis/jarvis/pkg/server"
	"github.com/jllopis/jarvis/pkg/session"
	"github.com/jllopis/jarvis/pkg/telemetry"
	"github.com/jllopis/jarvis/pkg/tracestore"
	"github.com/jllopis/jarvis/pkg/weather"
	"github.com/jllopis/jarvis/pkg/websearch"
)

// Version is reported by telemetry and the CLI.
var Version = "dev"

// ServiceName identifies the process in telemetry.
const ServiceName = "jarvis"

// Option overrides a collaborator New would otherwise build from config.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	tiers    *llm.Tiers
	memory   memory.Store
	searcher websearch.Searcher
	weather  weather.Provider
}

// WithLogger uses logger instead of configuring the global slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTiers replaces the configured model tiers.
func WithTiers(tiers llm.Tiers) Option {
	return func(o *options) { o.tiers = &tiers }
}

// WithMemoryStore replaces the configured long-term memory.
func WithMemoryStore(store memory.Store) Option {
	return func(o *options) { o.memory = store }
}

// WithSearcher replaces the configured web search client.
func WithSearcher(s websearch.Searcher) Option {
	return func(o *options) { o.searcher = s }
}

// WithWeather replaces the configured weather client.
func WithWeather(p weather.Provider) Option {
	return func(o *options) { o.weather = p }
}

// App holds the wired components. Close releases them.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Sessions     session.Store
	Traces       tracestore.Store
	Health       *core.HealthCheckProvider
	Prometheus   *prometheus.Registry

	db      *sql.DB
	closers []func(context.Context) error
}

// New builds the application from cfg. On error every component built so far
// is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeInvalidInput, "config is required", nil)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	}
	a := &App{Config: cfg, Logger: logger, Health: core.NewHealthCheckProvider(0)}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	shutdown, err := telemetry.InitWithConfig(ServiceName, Version, telemetry.Config{
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		OTLPTimeout:    cfg.Telemetry.OTLPTimeout,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "init telemetry", err)
	}
	a.onClose(func(ctx context.Context) error { return shutdown(ctx) })

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "init metrics", err)
	}

	a.Registry = registry.New(
		registry.WithLogger(telemetry.ComponentLogger(logger, "registry")),
		registry.WithRecorder(metrics),
	)
	var tokens *telemetry.TokenRecorder
	a.Prometheus, tokens = telemetry.NewPrometheusRegistry(a.Registry.Status)
	a.Health.RegisterChecker("registry", a.Registry)

	tiers := o.tiers
	if tiers == nil {
		built, err := buildTiers(ctx, cfg.LLM)
		if err != nil {
			return nil, err
		}
		tiers = &built
	}

	store := o.memory
	if store == nil {
		if store, err = a.buildMemory(ctx); err != nil {
			return nil, err
		}
	}
	if checker, ok := store.(core.HealthChecker); ok {
		a.Health.RegisterChecker("memory", checker)
	}

	searcher := o.searcher
	if searcher == nil {
		searcher = a.buildSearcher(cfg.Search)
	}
	forecaster := o.weather
	if forecaster == nil {
		forecaster = a.buildWeather(cfg.Weather)
	}

	units := agents.Builtin(agents.Deps{
		Tiers:           *tiers,
		Memory:          store,
		Search:          searcher,
		Weather:         forecaster,
		Logger:          telemetry.ComponentLogger(logger, "agents"),
		Tokens:          tokens,
		ContextTimeout:  cfg.Agents.ContextLLMTimeout,
		SearchTimeout:   cfg.Agents.SearchTimeout,
		MaxContextWords: cfg.Memory.MaxContextWords,
	})
	for _, unit := range units {
		if err := a.Registry.Register(unit); err != nil {
			return nil, err
		}
	}

	if a.Sessions, err = a.buildSessions(ctx); err != nil {
		return nil, err
	}
	if a.Traces, err = a.buildTraces(ctx); err != nil {
		return nil, err
	}

	a.Orchestrator = orchestrator.New(a.Registry,
		orchestrator.WithConfig(orchestrator.Config{
			Timeouts: orchestrator.Timeouts{
				Default:   cfg.Orchestrator.Timeouts.Default,
				Preflight: cfg.Orchestrator.Timeouts.Preflight,
				Tools:     cfg.Orchestrator.Timeouts.Tools,
				Summary:   cfg.Orchestrator.Timeouts.Summary,
			},
			HistoryThreshold: cfg.Orchestrator.HistoryThreshold,
			SummarizeCount:   cfg.Orchestrator.SummarizeCount,
			UserID:           cfg.UserID,
		}),
		orchestrator.WithLogger(telemetry.ComponentLogger(logger, "orchestrator")),
		orchestrator.WithRecorder(metrics),
		orchestrator.WithTraceStore(a.Traces),
	)

	if a.db != nil {
		a.Health.RegisterChecker("sqlite", core.PingChecker(a.db.PingContext))
	}

	logger.InfoContext(ctx, "app.ready",
		slog.String("fast_model", tiers.Fast.Name),
		slog.String("smart_model", tiers.Smart.Name),
		slog.String("memory", cfg.Memory.Provider),
		slog.String("sessions", cfg.Session.Store),
		slog.String("traces", cfg.Traces.Store),
	)
	return a, nil
}

// Server builds the HTTP server over the application.
func (a *App) Server() (*server.Server, error) {
	return server.New(server.Config{
		Addr:            a.Config.Server.Addr,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		AllowedOrigins:  a.Config.Server.AllowedOrigins,
		MaxMessages:     a.Config.Session.MaxMessages,
		UserID:          a.Config.UserID,
	}, server.Deps{
		Turns:    a.Orchestrator,
		Sessions: a.Sessions,
		Agents:   a.Registry,
		Traces:   a.Traces,
		Health:   a.Health,
		Metrics:  promhttp.HandlerFor(a.Prometheus, promhttp.HandlerOpts{}),
		Logger:   a.Logger,
	})
}

// ApplyConfig takes the settings that can change without a restart from a
// reloaded config.
func (a *App) ApplyConfig(cfg *config.Config) {
	if cfg.Log.Level != a.Config.Log.Level {
		telemetry.SetLogLevel(cfg.Log.Level)
		a.Logger.Info("config.apply", slog.String("log_level", cfg.Log.Level))
	}
	a.Config.Log.Level = cfg.Log.Level
}

// Close waits for detached memory writes and releases every component in
// reverse construction order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Orchestrator != nil {
		if err := a.Orchestrator.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	closers := slices.Clone(a.closers)
	slices.Reverse(closers)
	for _, fn := range closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return errors.New(errors.CodeInternal, "close application", stderrors.Join(errs...))
	}
	return nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}
