package smartchat

import (
	"context"
	"log/slog"
)

// LogInfo logs at info level with trace_id and request_id appended from ctx.
//
// Example:
//
//	smartchat.LogInfo(ctx, "provider selected", "provider", p.Provider, "model", p.Model)
func LogInfo(ctx context.Context, msg string, args ...any) {
	logArgs(ctx, slog.LevelInfo, msg, args)
}

// LogDebug logs at debug level.
func LogDebug(ctx context.Context, msg string, args ...any) {
	logArgs(ctx, slog.LevelDebug, msg, args)
}

// LogWarn logs at warn level.
func LogWarn(ctx context.Context, msg string, args ...any) {
	logArgs(ctx, slog.LevelWarn, msg, args)
}

// LogError logs at error level. A non-nil err is added under the "error" key.
func LogError(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err)
	}
	logArgs(ctx, slog.LevelError, msg, args)
}

// LogWith returns the context logger with request metadata and args attached.
func LogWith(ctx context.Context, args ...any) *slog.Logger {
	return Logger(ctx).With(appendContextFields(ctx, args)...)
}

func logArgs(ctx context.Context, level slog.Level, msg string, args []any) {
	logger := Logger(ctx)
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.Log(ctx, level, msg, appendContextFields(ctx, args)...)
}

func logAttrs(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	logger := Logger(ctx)
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.LogAttrs(ctx, level, msg, attrs...)
}

func appendContextFields(ctx context.Context, args []any) []any {
	if traceID := TraceID(ctx); traceID != "" {
		args = append(args, "trace_id", traceID)
	}
	if requestID := RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	return args
}
