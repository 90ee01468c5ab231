package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/store"
)

// DeliveriesHandler reports delivery state and per-attempt history.
type DeliveriesHandler struct {
	store  store.Store
	logger *zap.Logger
}

func NewDeliveriesHandler(st store.Store, logger *zap.Logger) *DeliveriesHandler {
	return &DeliveriesHandler{store: st, logger: logger}
}

func validDeliveryState(state string) bool {
	switch state {
	case models.DeliveryStatePending, models.DeliveryStateDelivering,
		models.DeliveryStateSucceeded, models.DeliveryStateDead:
		return true
	}
	return false
}

// List handles GET /api/v1/deliveries. event_id, subscription_id and state
// narrow the result; limit/offset paginate it.
func (h *DeliveriesHandler) List(c *fiber.Ctx) error {
	limit, offset, ok := parseListParams(c)
	if !ok {
		return nil
	}

	state := c.Query("state")
	if state != "" && !validDeliveryState(state) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "state must be one of pending, delivering, succeeded, dead",
		})
	}

	deliveries, err := h.store.ListDeliveries(c.UserContext(), store.DeliveryFilter{
		EventID:        c.Query("event_id"),
		SubscriptionID: c.Query("subscription_id"),
		State:          state,
		Limit:          limit + 1, // one extra row decides has_more
		Offset:         offset,
	})
	if err != nil {
		h.logger.Error("Failed to list deliveries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch deliveries",
		})
	}

	hasMore := len(deliveries) > limit
	if hasMore {
		deliveries = deliveries[:limit]
	}
	for _, d := range deliveries {
		d.Target.Secret = ""
	}

	return c.JSON(fiber.Map{
		"deliveries": deliveries,
		"has_more":   hasMore,
	})
}

// Get handles GET /api/v1/deliveries/:id.
func (h *DeliveriesHandler) Get(c *fiber.Ctx) error {
	delivery, err := h.store.GetDelivery(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "delivery not found"})
		}
		h.logger.Error("Failed to load delivery", zap.String("delivery_id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch delivery",
		})
	}
	delivery.Target.Secret = ""
	return c.JSON(delivery)
}

// Attempts handles GET /api/v1/deliveries/:id/attempts.
func (h *DeliveriesHandler) Attempts(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.store.GetDelivery(c.UserContext(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "delivery not found"})
		}
		h.logger.Error("Failed to load delivery", zap.String("delivery_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch delivery",
		})
	}

	attempts, err := h.store.ListAttempts(c.UserContext(), id)
	if err != nil {
		h.logger.Error("Failed to list attempts", zap.String("delivery_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch attempts",
		})
	}

	return c.JSON(fiber.Map{
		"delivery_id": id,
		"attempts":    attempts,
	})
}
