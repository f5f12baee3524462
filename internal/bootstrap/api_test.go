package bootstrap

import (
	"testing"

	"github.com/rs/zerolog"

	"mailsift_server/config"
	"mailsift_server/pkg/metrics"
)

func testDeps() *Dependencies {
	return &Dependencies{
		Config:  &config.Config{FrontendURL: "http://localhost:3000"},
		Log:     zerolog.Nop(),
		Metrics: metrics.New(),
	}
}

func TestNewAPI_BodyLimitFitsLargeBatches(t *testing.T) {
	app := NewAPI(testDeps())

	if got, want := app.Config().BodyLimit, 30*1024*1024; got != want {
		t.Errorf("BodyLimit = %d, want %d", got, want)
	}
}

func TestNewAPI_RegistersOperatorSurface(t *testing.T) {
	app := NewAPI(testDeps())

	want := []string{
		"GET /api/health",
		"POST /api/webhook/gmail",
		"POST /api/process",
		"GET /api/emails",
		"GET /api/documents",
		"GET /api/documents/:id",
		"DELETE /api/documents/:id",
		"POST /api/documents/delete-batch",
		"GET /api/stats",
		"POST /api/user/sync",
		"GET /api/auth/gmail/url",
		"GET /api/auth/gmail/callback",
		"POST /api/auth/gmail/disconnect",
		"POST /api/gmail/watch/start",
		"POST /api/gmail/watch/stop",
		"GET /api/gmail/watch/status",
		"POST /api/gmail/watch/renew-all",
		"GET /api/gmail/watch/list",
		"GET /api/queues/stats",
	}

	registered := map[string]bool{}
	for _, route := range app.GetRoutes() {
		registered[route.Method+" "+route.Path] = true
	}
	for _, key := range want {
		if !registered[key] {
			t.Errorf("route %s not registered", key)
		}
	}
}
