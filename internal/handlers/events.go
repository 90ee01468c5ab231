package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/store"
	"github.com/CleanExpo/zenith-integration-hub/internal/webhook"
)

// EventsHandler accepts events for webhook fan-out.
type EventsHandler struct {
	engine *webhook.Engine
	store  store.Store
	logger *zap.Logger
}

func NewEventsHandler(engine *webhook.Engine, st store.Store, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{engine: engine, store: st, logger: logger}
}

// Publish handles POST /api/v1/events. The event is persisted and its
// deliveries scheduled before the 202 goes out; the deliveries themselves
// run in the background.
func (h *EventsHandler) Publish(c *fiber.Ctx) error {
	var req models.PublishRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	event, matched, err := h.engine.Publish(c.UserContext(), &req)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "event id already published",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":      event.ID,
		"matched": matched,
	})
}

// Get handles GET /api/v1/events/:id.
func (h *EventsHandler) Get(c *fiber.Ctx) error {
	event, err := h.store.GetEvent(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event not found"})
		}
		h.logger.Error("Failed to load event", zap.String("event_id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch event",
		})
	}
	return c.JSON(event)
}
