package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Redacted replaces secret values at log call sites.
const Redacted = "[REDACTED]"

// redactedKeys are field names whose values never reach the log stream.
var redactedKeys = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"refreshtoken":  {},
	"accesstoken":   {},
	"apikey":        {},
	"password":      {},
	"secret":        {},
}

// Options configures logger construction.
type Options struct {
	Level   string
	Service string
	// Pretty switches to the console writer for local development.
	Pretty bool
}

// New builds the process logger. Production output is one JSON object per
// line on stdout with UTC timestamps.
func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var out = os.Stdout
	logger := zerolog.New(out)
	if opts.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	}

	return logger.Level(level).With().
		Timestamp().
		Str("service", opts.Service).
		Logger()
}

// Redact returns the value unless its key names secret material, in which
// case the placeholder is returned. Key comparison ignores case and
// separators so "Refresh-Token" and "refreshToken" both match.
func Redact(key, value string) string {
	k := strings.ToLower(key)
	k = strings.ReplaceAll(k, "-", "")
	k = strings.ReplaceAll(k, "_", "")
	if _, ok := redactedKeys[k]; ok {
		return Redacted
	}
	return value
}

// IsSensitive reports whether a field name must never be logged verbatim.
func IsSensitive(key string) bool {
	return Redact(key, "") == Redacted
}

// WithTrace stamps the active span's trace and span ids onto the logger so
// log lines can be joined with traces.
func WithTrace(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	span := trace.SpanContextFromContext(ctx)
	if !span.IsValid() {
		return l
	}
	return l.With().
		Str("trace_id", span.TraceID().String()).
		Str("span_id", span.SpanID().String()).
		Logger()
}
