// Package obslog provides the component-scoped structured logger used across
// the session engine, mirroring the call shape the reference codebase uses
// against its external agentkit/logging package (New().WithComponent(...),
// Info/Warn/Error/Debug) on top of the standard library's log/slog.
package obslog

import (
	"context"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Environment selects the handler used for output formatting.
type Environment string

const (
	Development Environment = "dev"
	Production  Environment = "prod"
	Test        Environment = "test"
)

// Logger wraps *slog.Logger with a fixed "component" field and small
// phase-style helpers matching the reference codebase's logging idiom.
type Logger struct {
	base *slog.Logger
}

// New builds a root logger for the given environment.
func New(env Environment) *Logger {
	var handler slog.Handler
	switch env {
	case Production:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	case Test:
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug})
	}
	return &Logger{base: slog.New(handler)}
}

// WithComponent returns a child logger tagging every record with component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{base: l.base.With("component", component)}
}

// With returns a child logger with additional structured fields attached.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.base.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.base.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.base.Error(msg, args...) }

// PhaseStart/PhaseComplete mirror the reference codebase's phase-bracketing
// helpers, used around turn execution and tool dispatch rounds.
func (l *Logger) PhaseStart(ctx context.Context, phase string, args ...any) {
	l.base.InfoContext(ctx, "phase start", append([]any{"phase", phase}, args...)...)
}

func (l *Logger) PhaseComplete(ctx context.Context, phase string, durationMs int64, args ...any) {
	l.base.InfoContext(ctx, "phase complete", append([]any{"phase", phase, "duration_ms", durationMs}, args...)...)
}

// ToolResult logs the outcome of a dispatched tool call.
func (l *Logger) ToolResult(ctx context.Context, tool string, success bool, durationMs int64, errMsg string) {
	if success {
		l.base.InfoContext(ctx, "tool result", "tool", tool, "success", true, "duration_ms", durationMs)
		return
	}
	l.base.WarnContext(ctx, "tool result", "tool", tool, "success", false, "duration_ms", durationMs, "error", errMsg)
}
