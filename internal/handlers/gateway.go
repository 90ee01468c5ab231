package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/gateway"
)

// hopByHop headers are transport artifacts of the upstream connection and
// must not be copied onto our response; fasthttp manages its own framing.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// GatewayHandler is the data plane. Every request not claimed by the
// management API or the health endpoint lands here and runs through the
// dispatcher's fixed stage order.
type GatewayHandler struct {
	dispatcher *gateway.Dispatcher
	logger     *zap.Logger
}

func NewGatewayHandler(dispatcher *gateway.Dispatcher, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{dispatcher: dispatcher, logger: logger}
}

// Proxy handles any method on any path.
func (h *GatewayHandler) Proxy(c *fiber.Ctx) error {
	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	req := &gateway.Request{
		Method:   c.Method(),
		Path:     c.Path(),
		RawQuery: string(c.Request().URI().QueryString()),
		Headers:  headers,
		Body:     c.Body(),
		ClientIP: c.IP(),
		APIKey:   c.Get("X-Api-Key"),
	}
	if bearer := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(bearer, "Bearer ") {
		req.BearerToken = strings.TrimPrefix(bearer, "Bearer ")
	}

	resp, err := h.dispatcher.Handle(c.UserContext(), req)
	if err != nil {
		return h.writeError(c, err)
	}

	for key, value := range resp.Headers {
		if hopByHop[key] {
			continue
		}
		c.Set(key, value)
	}
	if resp.CacheHit {
		c.Set("X-Cache", "HIT")
	}
	return c.Status(resp.StatusCode).Send(resp.Body)
}

// writeError renders the dispatch error taxonomy as a structured body:
// {"error": {"kind", "message", "retry_after_seconds"?}}.
func (h *GatewayHandler) writeError(c *fiber.Ctx, err error) error {
	status := gateway.HTTPStatus(err)

	body := fiber.Map{
		"kind":    gateway.ErrorKind(err),
		"message": err.Error(),
	}
	var rl *gateway.RateLimitError
	if errors.As(err, &rl) {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(rl.RetryAfterSeconds))
		body["retry_after_seconds"] = rl.RetryAfterSeconds
	}

	if status >= fiber.StatusInternalServerError {
		h.logger.Warn("Gateway dispatch failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	return c.Status(status).JSON(fiber.Map{"error": body})
}
