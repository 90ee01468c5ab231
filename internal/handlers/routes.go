package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/gateway"
	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

// RoutesHandler exposes CRUD for gateway routes on the management API.
type RoutesHandler struct {
	registry *gateway.RouteRegistry
	logger   *zap.Logger
}

func NewRoutesHandler(registry *gateway.RouteRegistry, logger *zap.Logger) *RoutesHandler {
	return &RoutesHandler{registry: registry, logger: logger}
}

// Create handles POST /api/v1/routes.
func (h *RoutesHandler) Create(c *fiber.Ctx) error {
	var route models.Route
	if err := c.BodyParser(&route); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	id, err := h.registry.Register(c.UserContext(), &route)
	if err != nil {
		if errors.Is(err, gateway.ErrDuplicateRoute) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

// List handles GET /api/v1/routes.
func (h *RoutesHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"routes": h.registry.List()})
}

// Get handles GET /api/v1/routes/:id.
func (h *RoutesHandler) Get(c *fiber.Ctx) error {
	route, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "route not found"})
	}
	return c.JSON(route)
}

// Update handles PUT /api/v1/routes/:id. The new definition applies to
// requests resolved after it lands; requests already past resolution finish
// under the old one.
func (h *RoutesHandler) Update(c *fiber.Ctx) error {
	var route models.Route
	if err := c.BodyParser(&route); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	id := c.Params("id")
	if err := h.registry.Update(c.UserContext(), id, &route); err != nil {
		switch {
		case errors.Is(err, gateway.ErrRouteNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "route not found"})
		case errors.Is(err, gateway.ErrDuplicateRoute):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}

	updated, err := h.registry.Get(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "route not found"})
	}
	return c.JSON(updated)
}

// Delete handles DELETE /api/v1/routes/:id.
func (h *RoutesHandler) Delete(c *fiber.Ctx) error {
	if err := h.registry.Unregister(c.UserContext(), c.Params("id")); err != nil {
		if errors.Is(err, gateway.ErrRouteNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "route not found"})
		}
		h.logger.Error("Failed to delete route", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete route",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
