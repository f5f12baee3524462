package http

import (
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func fiberApp() *fiber.App {
	return fiber.New(fiber.Config{
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})
}

func getHealth(t *testing.T, h *HealthHandler) map[string]any {
	t.Helper()
	app := fiberApp()
	app.Get("/api/health", h.Handle)

	req := httptest.NewRequest(nethttp.MethodGet, "/api/health", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatal(err)
	}
	return body
}

func TestHealth_ReportsDisabledDependencies(t *testing.T) {
	body := getHealth(t, NewHealthHandler(nil, nil))

	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["database"] != "disabled" {
		t.Errorf("database = %v, want disabled", body["database"])
	}
	if body["redis"] != "disabled" {
		t.Errorf("redis = %v, want disabled", body["redis"])
	}
	if _, ok := body["pool"]; ok {
		t.Error("pool stats present for disabled database")
	}
	if _, ok := body["redisPool"]; ok {
		t.Error("redis pool stats present for disabled redis")
	}
}

func TestHealth_ReportsRedisPoolStats(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	body := getHealth(t, NewHealthHandler(nil, client))

	if body["redis"] != "ok" {
		t.Fatalf("redis = %v, want ok", body["redis"])
	}
	if _, ok := body["redisPool"]; !ok {
		t.Error("redisPool stats missing for reachable redis")
	}
}

func TestHealth_ReportsUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	body := getHealth(t, NewHealthHandler(nil, client))

	if body["redis"] != "unreachable" {
		t.Errorf("redis = %v, want unreachable", body["redis"])
	}
	if _, ok := body["redisPool"]; ok {
		t.Error("redisPool stats present for unreachable redis")
	}
}
