package handlers

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// AdminAuth guards the management API with a shared key carried in the
// X-Admin-Key header. An empty configured key disables the check, which is
// only sensible for local development.
func AdminAuth(adminKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if adminKey == "" {
			return c.Next()
		}
		presented := c.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(adminKey)) == 1 {
			return c.Next()
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid management key",
		})
	}
}
