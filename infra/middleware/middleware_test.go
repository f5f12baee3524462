package middleware

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"mailsift_server/pkg/logger"
	"mailsift_server/pkg/metrics"
)

func loggedApp(buf *bytes.Buffer, level zerolog.Level) *fiber.App {
	log := zerolog.New(buf).Level(level)
	app := fiber.New()
	app.Use(RequestID())
	app.Use(RequestLogger(log, metrics.New()))
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendString("pong")
	})
	return app
}

func TestRequestLogger_RedactsSensitiveHeaders(t *testing.T) {
	var buf bytes.Buffer
	app := loggedApp(&buf, zerolog.DebugLevel)

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Authorization", "Bearer super-secret-token")
	req.Header.Set("User-Agent", "health-check/1.0")
	if _, err := app.Test(req, -1); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if strings.Contains(out, "super-secret-token") {
		t.Errorf("authorization value leaked into log: %s", out)
	}
	if !strings.Contains(out, logger.Redacted) {
		t.Errorf("log does not carry the redaction placeholder: %s", out)
	}
	if !strings.Contains(out, "health-check/1.0") {
		t.Errorf("non-sensitive header missing from debug log: %s", out)
	}
}

func TestRequestLogger_NoHeadersAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	app := loggedApp(&buf, zerolog.InfoLevel)

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Authorization", "Bearer super-secret-token")
	if _, err := app.Test(req, -1); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if strings.Contains(out, "headers") {
		t.Errorf("headers logged at info level: %s", out)
	}
	if strings.Contains(out, "super-secret-token") {
		t.Errorf("authorization value leaked into log: %s", out)
	}
}

func TestRequestLogger_StampsTraceIDs(t *testing.T) {
	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	spanID := trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})

	var buf bytes.Buffer
	log := zerolog.New(&buf)
	app := fiber.New()
	app.Use(RequestID())
	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(trace.ContextWithSpanContext(c.UserContext(), sc))
		return c.Next()
	})
	app.Use(RequestLogger(log, metrics.New()))
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendString("pong")
	})

	req := httptest.NewRequest("GET", "/ping", nil)
	if _, err := app.Test(req, -1); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, traceID.String()) {
		t.Errorf("trace_id missing from request log: %s", out)
	}
	if !strings.Contains(out, spanID.String()) {
		t.Errorf("span_id missing from request log: %s", out)
	}
}
