package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/CleanExpo/zenith-integration-hub/internal/metrics"
)

// MetricsHandler exposes rolling-window stats and active alerts. Metric ids
// are "route:<id>" for gateway traffic and "subscription:<id>" for webhook
// deliveries.
type MetricsHandler struct {
	agg     *metrics.Aggregator
	watcher *metrics.Watcher
}

func NewMetricsHandler(agg *metrics.Aggregator, watcher *metrics.Watcher) *MetricsHandler {
	return &MetricsHandler{agg: agg, watcher: watcher}
}

// List handles GET /api/v1/metrics: the ids currently carrying samples.
func (h *MetricsHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ids": h.agg.IDs()})
}

// Get handles GET /api/v1/metrics/:id. An id with no samples in the window
// returns zeroed stats rather than 404, since ids appear and expire with
// traffic.
func (h *MetricsHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	return c.JSON(fiber.Map{
		"id":    id,
		"stats": h.agg.Snapshot(id),
	})
}

// Alerts handles GET /api/v1/alerts: every active threshold breach plus the
// folded worst level.
func (h *MetricsHandler) Alerts(c *fiber.Ctx) error {
	alerts := h.watcher.Evaluate()
	if alerts == nil {
		alerts = []metrics.Alert{}
	}
	return c.JSON(fiber.Map{
		"level":  h.watcher.OverallLevel(),
		"alerts": alerts,
	})
}
