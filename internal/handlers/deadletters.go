package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/store"
	"github.com/CleanExpo/zenith-integration-hub/internal/webhook"
)

// DeadLettersHandler lists exhausted deliveries and replays them.
type DeadLettersHandler struct {
	store  store.Store
	engine *webhook.Engine
	logger *zap.Logger
}

func NewDeadLettersHandler(st store.Store, engine *webhook.Engine, logger *zap.Logger) *DeadLettersHandler {
	return &DeadLettersHandler{store: st, engine: engine, logger: logger}
}

// List handles GET /api/v1/dead-letters, newest failures first.
func (h *DeadLettersHandler) List(c *fiber.Ctx) error {
	limit, offset, ok := parseListParams(c)
	if !ok {
		return nil
	}

	letters, err := h.store.ListDeadLetters(c.UserContext(), limit+1, offset)
	if err != nil {
		h.logger.Error("Failed to list dead letters", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch dead letters",
		})
	}

	hasMore := len(letters) > limit
	if hasMore {
		letters = letters[:limit]
	}

	return c.JSON(fiber.Map{
		"dead_letters": letters,
		"has_more":     hasMore,
	})
}

// Replay handles POST /api/v1/dead-letters/:id/replay. A fresh delivery is
// created with a full retry budget; the dead letter itself stays for audit,
// stamped with the replay time.
func (h *DeadLettersHandler) Replay(c *fiber.Ctx) error {
	delivery, err := h.engine.ReplayDeadLetter(c.UserContext(), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "dead letter not found"})
		case errors.Is(err, webhook.ErrAlreadyReplayed):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			h.logger.Error("Failed to replay dead letter", zap.String("dead_letter_id", c.Params("id")), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to replay dead letter",
			})
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"delivery_id": delivery.ID,
	})
}
