package geolocate

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with geolocate-specific helpers so that skips,
// numeric guards and lifecycle events share field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// WithGrid tags the logger with a grid kind.
func (l *Logger) WithGrid(kind GridKind) *Logger {
	return &Logger{Logger: l.Logger.With("grid", kind.String())}
}

// WithStrategy tags the logger with a ranking strategy name.
func (l *Logger) WithStrategy(name string) *Logger {
	return &Logger{Logger: l.Logger.With("strategy", name)}
}

// LogSkip logs a document or cell that was skipped for a data-quality reason.
func (l *Logger) LogSkip(ctx context.Context, reason SkipReason, id string) {
	l.WarnContext(ctx, "skipped",
		"reason", reason.String(),
		"id", id,
	)
}

// LogNumericGuard logs a non-positive probability excluded from a logarithm.
func (l *Logger) LogNumericGuard(ctx context.Context, op string, part int, key uint64, p, q float64) {
	l.WarnContext(ctx, "non-positive probability excluded",
		"op", op,
		"part", part,
		"key", key,
		"p", p,
		"q", q,
	)
}

// LogNonFiniteScore logs a cell whose score was not a finite number.
func (l *Logger) LogNonFiniteScore(ctx context.Context, cell string, score float64) {
	l.WarnContext(ctx, "non-finite score demoted",
		"cell", cell,
		"score", score,
	)
}

// LogIngest logs the end of a bulk ingestion run.
func (l *Logger) LogIngest(ctx context.Context, added, skipped int, stopped string) {
	if stopped != "" {
		l.WarnContext(ctx, "ingestion interrupted",
			"added", added,
			"skipped", skipped,
			"stopped_by", stopped,
		)
		return
	}
	l.InfoContext(ctx, "ingestion completed",
		"added", added,
		"skipped", skipped,
	)
}

// LogClose logs a grid transition to CLOSED.
func (l *Logger) LogClose(ctx context.Context, s GridSummary) {
	l.InfoContext(ctx, "grid closed",
		"nonempty_cells", s.NonemptyCells,
		"model_cells", s.NonemptyModelCells,
		"documents", s.Documents,
		"tokens", s.Tokens,
	)
}
