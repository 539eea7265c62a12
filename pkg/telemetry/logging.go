// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/jarvis/pkg/core"
)

// ConfigureSlog builds the process logger and installs it as the slog
// default. Records logged with a turn context get trace_id, span_id, turn_id
// and session_id attached.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	logger := slog.New(newSlogHandler(output, level, format))
	slog.SetDefault(logger)
	return logger
}

// logLevel is shared by every handler built here so it can change at runtime.
var logLevel slog.LevelVar

// SetLogLevel changes the level of every logger built by ConfigureSlog.
func SetLogLevel(level string) {
	logLevel.Set(parseLogLevel(level))
}

func newSlogHandler(output io.Writer, level, format string) slog.Handler {
	SetLogLevel(level)
	opts := &slog.HandlerOptions{Level: &logLevel}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return &turnHandler{next: slog.NewJSONHandler(output, opts)}
	}
	return &turnHandler{next: slog.NewTextHandler(output, opts)}
}

// turnHandler decorates records with the identifiers of the turn in ctx.
type turnHandler struct {
	next slog.Handler
}

func (h *turnHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *turnHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx != nil {
		for _, attr := range turnAttrs(ctx) {
			if !recordHasAttr(record, attr.Key) {
				record.AddAttrs(attr)
			}
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *turnHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &turnHandler{next: h.next.WithAttrs(attrs)}
}

func (h *turnHandler) WithGroup(name string) slog.Handler {
	return &turnHandler{next: h.next.WithGroup(name)}
}

func turnAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := core.TurnID(ctx); ok {
		attrs = append(attrs, slog.String("turn_id", id))
	}
	if id, ok := core.SessionID(ctx); ok {
		attrs = append(attrs, slog.String("session_id", id))
	}
	return attrs
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func recordHasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		found = attr.Key == key
		return !found
	})
	return found
}

// ComponentLogger returns logger, or the default logger, tagged with component.
func ComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", component))
}
