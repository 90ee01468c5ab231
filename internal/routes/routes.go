package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/CleanExpo/zenith-integration-hub/internal/handlers"
	"github.com/CleanExpo/zenith-integration-hub/internal/service"
)

// SetupRoutes wires the management API, the health endpoint and the gateway
// data plane. Registration order matters: the data-plane catch-all must
// come last so /health and /api/v1 stay ours.
func SetupRoutes(app *fiber.App, svc *service.Service) {
	health := handlers.NewHealthHandler(svc, svc.Watcher)
	app.Get("/health", health.HealthCheck)

	routesHandler := handlers.NewRoutesHandler(svc.Routes, svc.Logger)
	webhooksHandler := handlers.NewWebhooksHandler(svc.Subscriptions, svc.Logger)
	eventsHandler := handlers.NewEventsHandler(svc.Engine, svc.Store, svc.Logger)
	deliveriesHandler := handlers.NewDeliveriesHandler(svc.Store, svc.Logger)
	deadLettersHandler := handlers.NewDeadLettersHandler(svc.Store, svc.Engine, svc.Logger)
	metricsHandler := handlers.NewMetricsHandler(svc.Metrics, svc.Watcher)

	api := app.Group("/api/v1", handlers.AdminAuth(svc.Config.Auth.AdminKey))
	{
		api.Post("/routes", routesHandler.Create)
		api.Get("/routes", routesHandler.List)
		api.Get("/routes/:id", routesHandler.Get)
		api.Put("/routes/:id", routesHandler.Update)
		api.Delete("/routes/:id", routesHandler.Delete)

		api.Post("/webhooks", webhooksHandler.Create)
		api.Get("/webhooks", webhooksHandler.List)
		api.Get("/webhooks/:id", webhooksHandler.Get)
		api.Put("/webhooks/:id", webhooksHandler.Update)
		api.Delete("/webhooks/:id", webhooksHandler.Delete)

		api.Post("/events", eventsHandler.Publish)
		api.Get("/events/:id", eventsHandler.Get)

		api.Get("/deliveries", deliveriesHandler.List)
		api.Get("/deliveries/:id", deliveriesHandler.Get)
		api.Get("/deliveries/:id/attempts", deliveriesHandler.Attempts)

		api.Get("/dead-letters", deadLettersHandler.List)
		api.Post("/dead-letters/:id/replay", deadLettersHandler.Replay)

		api.Get("/metrics", metricsHandler.List)
		api.Get("/metrics/:id", metricsHandler.Get)
		api.Get("/alerts", metricsHandler.Alerts)
	}

	gatewayHandler := handlers.NewGatewayHandler(svc.Dispatcher, svc.Logger)
	app.All("/*", gatewayHandler.Proxy)
}
