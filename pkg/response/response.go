// Package response holds shared request/response helpers for the HTTP
// handlers. Response bodies themselves are shaped per endpoint; errors
// flow through the fiber error handler.
package response

import (
	"github.com/gofiber/fiber/v2"
)

// Limit parses the ?limit query parameter with a default and ceiling.
func Limit(c *fiber.Ctx, def, max int) int {
	limit := c.QueryInt("limit", def)
	if limit < 1 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}
