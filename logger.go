package graphstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with graphstore-specific context.
// This provides structured logging with consistent field names.
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
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(1000), // Unreachable level
		})),
	}
}

// WithDB adds the database root to every record.
func (l *Logger) WithDB(dir string) *Logger {
	if dir == "" {
		dir = "(ephemeral)"
	}
	return &Logger{
		Logger: l.Logger.With("db", dir),
	}
}

// WithVersion adds a manifest version field to the logger.
func (l *Logger) WithVersion(version uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("version", version),
	}
}

// LogOpen logs opening a manifest chain.
func (l *Logger) LogOpen(ctx context.Context, version uint64, snapshots int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "manifest chain opened",
		"version", version,
		"snapshots", snapshots,
	)
}

// LogCommit logs a manifest commit.
func (l *Logger) LogCommit(ctx context.Context, version uint64, nodeSegments, edgeSegments int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"version", version,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "manifest committed",
		"version", version,
		"node_segments", nodeSegments,
		"edge_segments", edgeSegments,
		"duration", duration,
	)
}

// LogRepair logs an index rebuild triggered by a pointer/index mismatch.
func (l *Logger) LogRepair(ctx context.Context, indexVersion, currentVersion uint64, rebuilt int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index repair failed",
			"index_version", indexVersion,
			"current_version", currentVersion,
			"error", err,
		)
		return
	}
	l.WarnContext(ctx, "index rebuilt from manifests directory",
		"index_version", indexVersion,
		"current_version", currentVersion,
		"snapshots", rebuilt,
	)
}

// LogGC logs a garbage collection phase ("collect", "purge" or "restore").
func (l *Logger) LogGC(ctx context.Context, phase string, files int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "gc failed",
			"phase", phase,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "gc completed",
		"phase", phase,
		"files", files,
	)
}

// LogBackup logs a backup export or restore.
func (l *Logger) LogBackup(ctx context.Context, op string, version uint64, segments int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup failed",
			"op", op,
			"version", version,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "backup completed",
		"op", op,
		"version", version,
		"segments", segments,
		"bytes", bytes,
	)
}
