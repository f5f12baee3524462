package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	out "mailsift_server/core/port/out"
	"mailsift_server/pkg/metrics"
)

type fakeQueue struct {
	keys    []string
	err     error
	deduped bool
}

func (f *fakeQueue) Enqueue(_ context.Context, _ string, _ any, jobKey string) (*out.EnqueueResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.keys = append(f.keys, jobKey)
	return &out.EnqueueResult{JobID: "job-1", Deduped: f.deduped}, nil
}

func (f *fakeQueue) Counts(context.Context, string) (*out.QueueCounts, error) {
	return &out.QueueCounts{}, nil
}

func webhookApp(queue out.JobQueue) *fiber.App {
	app := fiber.New(fiber.Config{
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})
	handler := NewWebhookHandler(queue, nil, true, metrics.New(), zerolog.Nop())
	app.Post("/api/webhook/gmail", handler.HandleGmail)
	return app
}

func pushBody(t *testing.T, emailAddress string, historyID any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"emailAddress": emailAddress,
		"historyId":    historyID,
	})
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":      base64.StdEncoding.EncodeToString(payload),
			"messageId": "push-1",
		},
		"subscription": "projects/p/subscriptions/s",
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func post(t *testing.T, app *fiber.App, body []byte) (*nethttp.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(nethttp.MethodPost, "/api/webhook/gmail", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("non-JSON response %q: %v", raw, err)
	}
	return resp, decoded
}

func TestWebhook_EnqueuesWithDedupKey(t *testing.T) {
	queue := &fakeQueue{}
	app := webhookApp(queue)

	resp, body := post(t, app, pushBody(t, "a@x.example", "4711"))
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "queued" || body["jobId"] != "job-1" {
		t.Errorf("body = %v", body)
	}
	if len(queue.keys) != 1 || queue.keys[0] != "sync:a@x.example:4711" {
		t.Errorf("keys = %v", queue.keys)
	}
}

func TestWebhook_NumericHistoryID(t *testing.T) {
	queue := &fakeQueue{}
	app := webhookApp(queue)

	// Publishers send historyId as a bare number as often as a string.
	if _, body := post(t, app, pushBody(t, "a@x.example", 4711)); body["status"] != "queued" {
		t.Errorf("body = %v", body)
	}
	if len(queue.keys) != 1 || queue.keys[0] != "sync:a@x.example:4711" {
		t.Errorf("keys = %v", queue.keys)
	}
}

func TestWebhook_DuplicateSurfacesFirstJob(t *testing.T) {
	app := webhookApp(&fakeQueue{deduped: true})

	_, body := post(t, app, pushBody(t, "a@x.example", "1"))
	if body["duplicate"] != true || body["jobId"] != "job-1" {
		t.Errorf("body = %v", body)
	}
}

func TestWebhook_AlwaysRespondsOK(t *testing.T) {
	cases := []struct {
		name string
		body []byte
	}{
		{"empty body", []byte("")},
		{"not json", []byte("not json at all")},
		{"bad base64", []byte(`{"message":{"data":"!!!not-base64!!!"}}`)},
		{"data not a notification", func() []byte {
			data := base64.StdEncoding.EncodeToString([]byte(`{"something":"else"}`))
			return []byte(fmt.Sprintf(`{"message":{"data":"%s"}}`, data))
		}()},
	}

	queue := &fakeQueue{}
	app := webhookApp(queue)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(nethttp.MethodPost, "/api/webhook/gmail", bytes.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != nethttp.StatusOK {
				t.Errorf("status = %d, the provider must never see a retryable code", resp.StatusCode)
			}
			raw, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(raw), "ignored") {
				t.Errorf("body = %s, want ignored", raw)
			}
		})
	}
	if len(queue.keys) != 0 {
		t.Errorf("garbage input reached the queue: %v", queue.keys)
	}
}

func TestWebhook_EnqueueFailureStillOK(t *testing.T) {
	app := webhookApp(&fakeQueue{err: fmt.Errorf("redis gone")})

	resp, body := post(t, app, pushBody(t, "a@x.example", "1"))
	if resp.StatusCode != nethttp.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if body["status"] != "error" {
		t.Errorf("body = %v", body)
	}
}
