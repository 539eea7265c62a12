// SPDX-License-Identifier: Apache-2.0

// Package server exposes the orchestrator over HTTP and a websocket chat
// channel.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/orchestrator"
	"github.com/jllopis/jarvis/pkg/session"
	"github.com/jllopis/jarvis/pkg/tracestore"
)

// TurnProcessor runs one conversational turn. *orchestrator.Orchestrator
// implements it.
type TurnProcessor interface {
	Process(ctx context.Context, turn orchestrator.Turn) (*orchestrator.TurnResult, error)
}

// StatusSource reports per-agent statistics. *registry.Registry implements it.
type StatusSource interface {
	Status() []core.AgentStatus
}

// TraceReader reads recorded turns.
type TraceReader interface {
	Get(ctx context.Context, turnID string) (tracestore.Record, error)
	List(ctx context.Context, filter tracestore.Filter) ([]tracestore.Record, error)
}

// Config holds HTTP server settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// AllowedOrigins restricts CORS and websocket origins. Empty allows any.
	AllowedOrigins []string
	// MaxMessages caps stored session histories.
	MaxMessages int
	UserID      string
}

// Deps are the collaborators behind the routes. Turns is required; any other
// nil dependency disables its routes.
type Deps struct {
	Turns    TurnProcessor
	Sessions session.Store
	Agents   StatusSource
	Traces   TraceReader
	Health   *core.HealthCheckProvider
	// Metrics serves the Prometheus scrape endpoint.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server provides the HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// New creates a server and registers its routes.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Turns == nil {
		return nil, errors.New(errors.CodeInvalidInput, "turn processor is required", nil)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = session.DefaultMaxMessages
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "server"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(NewHTTPMetrics(logger).Middleware())
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		}))
	}

	s := &Server{echo: e, cfg: cfg, deps: deps, logger: logger}
	s.registerRoutes()
	return s, nil
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.InfoContext(c.Request().Context(), "http.request",
				slog.String("method", c.Request().Method),
				slog.String("uri", c.Request().RequestURI),
				slog.Int("status", c.Response().Status),
				slog.Int64("duration_ms", core.Millis(time.Since(start))),
				slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}
	s.echo.GET("/ws", s.handleWebsocket)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/turn", s.handleTurn)
	if s.deps.Agents != nil {
		v1.GET("/agents/status", s.handleAgentStatus)
	}
	if s.deps.Traces != nil {
		v1.GET("/turns", s.handleListTurns)
		v1.GET("/turns/:id", s.handleGetTurn)
	}
	if s.deps.Sessions != nil {
		v1.GET("/sessions", s.handleListSessions)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.DELETE("/sessions/:id", s.handleDeleteSession)
	}
}

// Handler returns the root handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("server.start", slog.String("addr", s.cfg.Addr))
	return s.echo.Start(s.cfg.Addr)
}

// Shutdown stops the server, waiting at most the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server.shutdown")
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// TurnRequest is the body of POST /api/v1/turn.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// TurnResponse is the reply of POST /api/v1/turn.
type TurnResponse struct {
	TurnID    string            `json:"turn_id"`
	SessionID string            `json:"session_id"`
	Response  string            `json:"response"`
	Intent    string            `json:"intent"`
	Model     string            `json:"model"`
	Fallback  bool              `json:"fallback"`
	Trace     []core.TraceEntry `json:"trace"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     core.HealthStatus   `json:"status"`
	Components []core.HealthResult `json:"components,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.deps.Health == nil {
		return c.JSON(http.StatusOK, HealthResponse{Status: core.HealthHealthy})
	}
	results, overall := s.deps.Health.CheckAll(c.Request().Context())
	code := http.StatusOK
	if overall == core.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, HealthResponse{Status: overall, Components: results})
}

func (s *Server) handleTurn(c echo.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	res, err := s.runTurn(c.Request().Context(), req.SessionID, req.Message, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, TurnResponse{
		TurnID:    res.TurnID,
		SessionID: req.SessionID,
		Response:  res.Response,
		Intent:    res.Intent,
		Model:     res.Model,
		Fallback:  res.Fallback,
		Trace:     res.Trace,
	})
}

// runTurn loads the session history, processes the message and stores the
// carried-over history with the new exchange appended.
func (s *Server) runTurn(ctx context.Context, sessionID, message string, sink core.TokenSink) (*orchestrator.TurnResult, error) {
	var history []core.Message
	if s.deps.Sessions != nil {
		loaded, err := s.deps.Sessions.Load(ctx, sessionID)
		if err != nil {
			s.logger.WarnContext(ctx, "session.load", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		}
		history = loaded
	}

	res, err := s.deps.Turns.Process(ctx, orchestrator.Turn{
		UserMessage: message,
		History:     history,
		Sink:        sink,
		UserID:      s.cfg.UserID,
		SessionID:   sessionID,
	})
	if err != nil {
		return nil, err
	}

	if s.deps.Sessions != nil {
		next := session.AppendTurn(res.History, message, res.Response, s.cfg.MaxMessages)
		if err := s.deps.Sessions.Save(ctx, sessionID, next); err != nil {
			s.logger.WarnContext(ctx, "session.save", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		}
	}
	return res, nil
}

func (s *Server) handleAgentStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Agents.Status())
}

func (s *Server) handleListTurns(c echo.Context) error {
	filter := tracestore.Filter{
		SessionID: c.QueryParam("session_id"),
		Intent:    c.QueryParam("intent"),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	records, err := s.deps.Traces.List(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if records == nil {
		records = []tracestore.Record{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleGetTurn(c echo.Context) error {
	rec, err := s.deps.Traces.Get(c.Request().Context(), c.Param("id"))
	switch {
	case errors.HasCode(err, errors.CodeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "turn not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleListSessions(c echo.Context) error {
	ids, err := s.deps.Sessions.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, ids)
}

func (s *Server) handleGetSession(c echo.Context) error {
	msgs, err := s.deps.Sessions.Load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	if err := s.deps.Sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
