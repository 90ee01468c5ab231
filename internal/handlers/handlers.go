// Package handlers exposes the management API and health endpoint over
// fiber. Each handler is a small struct holding exactly the dependencies
// it needs; routes.Setup wires them.
package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

const defaultListLimit = 25

// parseListParams reads the limit and offset query parameters. On a bad
// value it writes the 400 itself and returns ok=false, so callers just
// return nil.
func parseListParams(c *fiber.Ctx) (limit, offset int, ok bool) {
	limit = defaultListLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
			return 0, 0, false
		}
		limit = n
	}
	if s := c.Query("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "offset must be a non-negative integer",
			})
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
