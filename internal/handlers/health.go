package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/CleanExpo/zenith-integration-hub/internal/metrics"
)

// DependencyChecker reports per-dependency connectivity. The service
// implements it; tests substitute a stub.
type DependencyChecker interface {
	DependencyHealth(ctx context.Context) map[string]string
}

// HealthHandler serves the aggregated health endpoint.
type HealthHandler struct {
	checker DependencyChecker
	watcher *metrics.Watcher
}

func NewHealthHandler(checker DependencyChecker, watcher *metrics.Watcher) *HealthHandler {
	return &HealthHandler{checker: checker, watcher: watcher}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles GET /health. A broken dependency makes the whole
// endpoint 503; otherwise the status is the watcher's worst active alert
// level, so degraded routes surface here before they fail outright.
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	services := h.checker.DependencyHealth(ctx)

	unhealthy := false
	for _, state := range services {
		if strings.HasPrefix(state, "unhealthy") {
			unhealthy = true
			break
		}
	}

	status := h.watcher.OverallLevel()
	if unhealthy {
		status = "unhealthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	if unhealthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}
	return c.JSON(response)
}
