package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"mailsift_server/infra/database"
)

// HealthHandler serves liveness with dependency pings.
type HealthHandler struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

// NewHealthHandler wires the handler.
func NewHealthHandler(db *pgxpool.Pool, redis *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

// Handle is GET /api/health. The endpoint reports ok as long as the
// process serves requests; dependency states and connection pool
// statistics ride along for operators.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	body := fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	dbStatus := "disabled"
	if h.db != nil {
		dbStatus = "ok"
		if err := h.db.Ping(ctx); err != nil {
			dbStatus = "unreachable"
		} else {
			body["pool"] = database.GetPoolStats(h.db)
		}
	}
	body["database"] = dbStatus

	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unreachable"
		} else {
			body["redisPool"] = database.GetRedisStats(h.redis)
		}
	}
	body["redis"] = redisStatus

	return c.JSON(body)
}
