// Package gatewaylog provides structured logging helpers for the gateway.
//
// It wraps log/slog with helpers for trace ID propagation and secret
// redaction. A line carries a trace_id only when the ctx passed to WithTrace
// holds one; redaction applies only to text passed through RedactSecrets.
package gatewaylog

import (
	"context"
	"log/slog"
	"os"

	"github.com/trikhub/gateway/common/redact"
	"github.com/trikhub/gateway/common/trace"
	"github.com/trikhub/gateway/common/version"
)

// Setup configures the global slog logger according to the provided level and
// format strings (e.g. level="info", format="json"), then logs the running
// build's version once so it appears at the top of every process's log.
func Setup(level, format string) {
	var lvl slog.Level
	switch level {
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
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("gatewaylog: starting", "version", version.Info())
}

// WithTrace returns a child logger that always includes the trace_id from ctx.
func WithTrace(ctx context.Context) *slog.Logger {
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return slog.Default()
	}
	return slog.With("trace_id", traceID)
}

// RedactSecrets replaces known-sensitive values in a log message with "[REDACTED]".
func RedactSecrets(msg string, sensitiveValues ...string) string {
	return redact.String(msg, sensitiveValues...)
}

// WithTrik returns a child logger carrying both the trace id from ctx and the
// trik id being dispatched, so a single invocation's lines can be grepped
// out of a busy process log.
func WithTrik(ctx context.Context, trikID string) *slog.Logger {
	return WithTrace(ctx).With("trik_id", trikID)
}

// Fields is a convenience constructor for slog key/value lists built from a
// plain map, for call sites that assemble their log attributes before
// deciding whether the call site is even enabled.
func Fields(m map[string]any) []any {
	out := make([]any, 0, len(m)*2)
	for k, v := range m {
		out = append(out, k, v)
	}
	return out
}
