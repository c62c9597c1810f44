// Package logger provides slog-based structured logging.
//
// Core features:
//   - Init() configures the default logger (JSON/text)
//   - FromContext() for context-aware logging
//   - package-level convenience methods (Info/Error/Warn/Debug)
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

var defaultLogger = newLogger(false)

func newLogger(development bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: development,
	}
	var handler slog.Handler
	if development {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Init configures the default logger. env: "development"/"dev" or
// "production" (default).
func Init(env string) {
	dev := env == "development" || env == "dev"
	defaultLogger = newLogger(dev)
	slog.SetDefault(defaultLogger)
}

// ========================================
// Context-aware logging
// ========================================

type ctxKey struct{}

// WithContext injects a logger into ctx.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext extracts a logger from ctx, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// ========================================
// Package-level convenience methods
// ========================================

func Info(msg string, args ...any)  { defaultLogger.Info(msg, args...) }
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }
func Warn(msg string, args ...any)  { defaultLogger.Warn(msg, args...) }
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

func Infof(format string, args ...any)  { defaultLogger.Info(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { defaultLogger.Error(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { defaultLogger.Warn(fmt.Sprintf(format, args...)) }
func Debugf(format string, args ...any) { defaultLogger.Debug(fmt.Sprintf(format, args...)) }

// Fatal logs a fatal error and exits.
func Fatal(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
	os.Exit(1)
}

// Infow/Warnw/Errorw/Debugw are aliases of Info/Warn/Error/Debug.
func Infow(msg string, keysAndValues ...any)  { defaultLogger.Info(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...any)  { defaultLogger.Warn(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...any) { defaultLogger.Error(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...any) { defaultLogger.Debug(msg, keysAndValues...) }

// With returns a logger with additional context attached.
func With(args ...any) *slog.Logger { return defaultLogger.With(args...) }

// Get returns the underlying slog.Logger.
func Get() *slog.Logger { return defaultLogger }

// Attr aliases slog.Attr so callers don't need to import log/slog directly.
type Attr = slog.Attr

// Any creates an arbitrary-type attribute.
func Any(key string, value any) Attr { return slog.Any(key, value) }

// Reserved field key constants — always use these, never hardcode a key.
const (
	FieldCouncilID  = "council_id"
	FieldSessionID  = "session_id"
	FieldAgentID    = "agent_id"
	FieldMessageID  = "message_id"
	FieldVoteID     = "vote_id"
	FieldDecisionID = "decision_id"
	FieldPhase      = "phase"
	FieldOutcome    = "outcome"
	FieldRuleName   = "rule_name"
	FieldRound      = "round"
	FieldTopic      = "topic"
	FieldSource     = "source"
	FieldEventType  = "event_type"
	FieldError      = "error"
	FieldStatus     = "status"
	FieldLatencyMS  = "latency_ms"
	FieldCount      = "count"
)
