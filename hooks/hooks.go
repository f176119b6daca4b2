// Package hooks provides production-ready Hook, Logger and MetricsCollector
// implementations.
package hooks

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

// NewLogger builds a slog-backed logger writing to w.  level is one of
// "debug", "info", "warn" or "error" (unknown values fall back to info);
// format is "json" or "text".
func NewLogger(w io.Writer, level, format string) *SlogLogger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return NewSlogLogger(slog.New(handler))
}

// Slog exposes the underlying logger.
func (s *SlogLogger) Slog() *slog.Logger { return s.log }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) { s.log.Debug(msg, fields...) }
func (s *SlogLogger) Info(msg string, fields ...interface{})  { s.log.Info(msg, fields...) }
func (s *SlogLogger) Warn(msg string, fields ...interface{})  { s.log.Warn(msg, fields...) }
func (s *SlogLogger) Error(msg string, fields ...interface{}) { s.log.Error(msg, fields...) }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before and after each operator application.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeOperator(_ context.Context, name string, a *core.Asset) {
	h.logger.Debug("pipeline.operator.start",
		"operator", name,
		"mime_type", a.MimeType(),
		"bytes", a.Size(),
	)
}

func (h *LoggingHook) AfterOperator(_ context.Context, name string, a *core.Asset, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("pipeline.operator.error",
			"operator", name,
			"duration_ms", d.Milliseconds(),
			"category", string(apperrors.CategoryOf(err)),
			"error", err.Error(),
		)
		return
	}
	h.logger.Debug("pipeline.operator.done",
		"operator", name,
		"duration_ms", d.Milliseconds(),
		"output", a.String(),
	)
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds pipeline events into a MetricsCollector.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeOperator(context.Context, string, *core.Asset) {}

func (h *MetricsHook) AfterOperator(_ context.Context, name string, a *core.Asset, d time.Duration, err error) {
	h.collector.RecordProcessingTime(name, d)
	if err != nil {
		h.collector.RecordError(name, string(apperrors.CategoryOf(err)))
		return
	}
	if a != nil {
		h.collector.RecordThroughput(a.Size())
	}
}

var (
	_ core.Logger = (*SlogLogger)(nil)
	_ core.Hook   = (*LoggingHook)(nil)
	_ core.Hook   = (*MetricsHook)(nil)
)
