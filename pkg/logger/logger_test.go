package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"authorization header", "Authorization", "Bearer ya29.abc", Redacted},
		{"cookie", "cookie", "session=xyz", Redacted},
		{"refresh token camel", "refreshToken", "1//0abc", Redacted},
		{"refresh token snake", "refresh_token", "1//0abc", Redacted},
		{"access token", "accessToken", "ya29.def", Redacted},
		{"api key", "apiKey", "AIza-key", Redacted},
		{"password", "password", "hunter2", Redacted},
		{"secret", "secret", "shh", Redacted},
		{"plain field", "subject", "Invoice #42", "Invoice #42"},
		{"message id", "message_id", "m-1", "m-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.key, tt.value); got != tt.want {
				t.Errorf("Redact(%q, %q) = %q, want %q", tt.key, tt.value, got, tt.want)
			}
		})
	}
}

func TestIsSensitive(t *testing.T) {
	if !IsSensitive("Refresh-Token") {
		t.Error("IsSensitive(Refresh-Token) = false, want true")
	}
	if IsSensitive("filename") {
		t.Error("IsSensitive(filename) = true, want false")
	}
}

func TestNew_LevelAndService(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "warn", Service: "mailsift"})
	l = l.Output(&buf)

	l.Info().Msg("dropped")
	l.Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info line logged at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn line missing")
	}
	if !strings.Contains(out, `"service":"mailsift"`) {
		t.Errorf("service field missing from %q", out)
	}
}

func TestNew_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "nope", Service: "mailsift"}).Output(&buf)
	l.Debug().Msg("below")
	l.Info().Msg("at")
	if strings.Contains(buf.String(), "below") {
		t.Error("debug logged despite info default")
	}
	if !strings.Contains(buf.String(), "at") {
		t.Error("info line missing")
	}
}

func TestWithTrace_NoSpanIsNoop(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	l := WithTrace(context.Background(), base)
	l.Info().Msg("x")
	if strings.Contains(buf.String(), "trace_id") {
		t.Error("trace_id stamped without an active span")
	}
}
