package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/webhook"
)

// WebhooksHandler exposes CRUD for webhook subscriptions. Secrets are
// write-only: they never appear in responses.
type WebhooksHandler struct {
	registry *webhook.Registry
	logger   *zap.Logger
}

func NewWebhooksHandler(registry *webhook.Registry, logger *zap.Logger) *WebhooksHandler {
	return &WebhooksHandler{registry: registry, logger: logger}
}

// Create handles POST /api/v1/webhooks.
func (h *WebhooksHandler) Create(c *fiber.Ctx) error {
	var sub models.WebhookSubscription
	if err := c.BodyParser(&sub); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	id, err := h.registry.Register(c.UserContext(), &sub)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

// List handles GET /api/v1/webhooks.
func (h *WebhooksHandler) List(c *fiber.Ctx) error {
	subs := h.registry.List()
	for _, sub := range subs {
		sub.Secret = ""
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

// Get handles GET /api/v1/webhooks/:id.
func (h *WebhooksHandler) Get(c *fiber.Ctx) error {
	sub, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription not found"})
	}
	sub.Secret = ""
	return c.JSON(sub)
}

// Update handles PUT /api/v1/webhooks/:id. Deliveries already created keep
// the endpoint and policy they snapshotted; the new definition applies to
// events published afterwards.
func (h *WebhooksHandler) Update(c *fiber.Ctx) error {
	var sub models.WebhookSubscription
	if err := c.BodyParser(&sub); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	id := c.Params("id")
	if err := h.registry.Update(c.UserContext(), id, &sub); err != nil {
		if errors.Is(err, webhook.ErrSubscriptionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription not found"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	updated, err := h.registry.Get(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription not found"})
	}
	updated.Secret = ""
	return c.JSON(updated)
}

// Delete handles DELETE /api/v1/webhooks/:id.
func (h *WebhooksHandler) Delete(c *fiber.Ctx) error {
	if err := h.registry.Remove(c.UserContext(), c.Params("id")); err != nil {
		if errors.Is(err, webhook.ErrSubscriptionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription not found"})
		}
		h.logger.Error("Failed to delete subscription", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete subscription",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
