package observe

import (
	"context"
	"log/slog"
)

// sensitiveKeys are attribute keys stripped from every log record before it
// reaches the wrapped handler. API keys and source/translated text must
// never appear in logs.
var sensitiveKeys = map[string]bool{
	"api_key":          true,
	"deepseek_api_key": true,
	"source_text":      true,
	"translated_text":  true,
	"clipboard_text":   true,
}

const redactedPlaceholder = "[redacted]"

// RedactingHandler wraps an [slog.Handler] and strips known sensitive
// attributes from every record, regardless of which logger in the call
// chain attached them.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next so that sensitiveKeys are replaced with a
// placeholder on every record it handles.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler, redacting sensitive attributes in place.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		if sensitiveKeys[a.Key] {
			a.Value = slog.StringValue(redactedPlaceholder)
		}
		redacted.AddAttrs(a)
		return true
	})
	return h.next.Handle(ctx, redacted)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redactedAttrs := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		if sensitiveKeys[a.Key] {
			a.Value = slog.StringValue(redactedPlaceholder)
		}
		redactedAttrs[i] = a
	}
	return &RedactingHandler{next: h.next.WithAttrs(redactedAttrs)}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}
