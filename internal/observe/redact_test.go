package observe

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestRedactingHandler_StripsSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(NewRedactingHandler(base))

	logger.Info("translate request",
		"api_key", "sk-super-secret",
		"source_text", "hello world",
		"request_id", "req-123",
	)

	out := buf.String()
	if strings.Contains(out, "sk-super-secret") {
		t.Fatalf("log line leaked api key: %s", out)
	}
	if strings.Contains(out, "hello world") {
		t.Fatalf("log line leaked source text: %s", out)
	}
	if !strings.Contains(out, "req-123") {
		t.Fatalf("log line dropped a non-sensitive attr: %s", out)
	}
	if !strings.Contains(out, redactedPlaceholder) {
		t.Fatalf("expected redaction placeholder in output: %s", out)
	}
}

func TestRedactingHandler_WithAttrsRedactsUpfront(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(NewRedactingHandler(base)).With("deepseek_api_key", "sk-ant-leak")

	logger.Info("startup")

	if strings.Contains(buf.String(), "sk-ant-leak") {
		t.Fatalf("WithAttrs leaked api key: %s", buf.String())
	}
}
