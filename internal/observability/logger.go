// Package observability provides structured logging with credential
// redaction, Prometheus metrics, and OpenTelemetry tracing for the
// gateway. Logs and metrics are rendered from the routing engine's
// attempt traces, keeping business logic free of instrumentation.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LoggerConfig controls the gateway logger.
type LoggerConfig struct {
	Level      slog.Level
	Output     io.Writer
	JSONFormat bool
	AddSource  bool
}

// ParseLevel maps a config-file level string to a slog.Level. Unknown
// strings fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// NewLogger builds a slog.Logger whose handler redacts credential-shaped
// strings from every attribute. Credentials must never reach log output,
// even by accident.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:       cfg.Level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if cfg.JSONFormat {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}

var redactPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`sk-[a-zA-Z0-9\-_]{20,}`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`AIza[a-zA-Z0-9\-_]{35}`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_\.]+`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key\s*[=:]\s*)\S+`), "$1[REDACTED]"},
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		a.Value = slog.StringValue(Redact(a.Value.String()))
	}
	return a
}

// Redact masks credential-shaped substrings.
func Redact(s string) string {
	for _, p := range redactPatterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}
