package worker

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"mailsift_server/internal/queue"
)

func TestHandler_UnknownKindIsAcknowledged(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(nil, nil, zerolog.New(&buf))

	err := h.Process(context.Background(), &queue.Job{ID: "j-1", Kind: "bogus"})
	if err != nil {
		t.Fatalf("Process() error = %v, want nil for unknown kind", err)
	}
	if !strings.Contains(buf.String(), "unknown job kind") {
		t.Errorf("missing warn line, got: %s", buf.String())
	}
}

func TestHandler_LogLinesJoinTheProducingTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	const traceID = "0102030405060708090a0b0c0d0e0f10"
	job := &queue.Job{
		ID:   "j-2",
		Kind: "bogus",
		Trace: map[string]string{
			"traceparent": "00-" + traceID + "-0102030405060708-01",
		},
	}

	var buf bytes.Buffer
	h := NewHandler(nil, nil, zerolog.New(&buf))
	if err := h.Process(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), traceID) {
		t.Errorf("trace_id missing from worker log: %s", buf.String())
	}
}
