package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/config"
	"github.com/CleanExpo/zenith-integration-hub/internal/logger"
	"github.com/CleanExpo/zenith-integration-hub/internal/routes"
	"github.com/CleanExpo/zenith-integration-hub/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (overrides CONFIG_FILE)")
	flag.Parse()

	// Logger level comes straight from the environment so config load
	// failures are already logged properly.
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		logger.Fatal("Failed to reconfigure logger", zap.Error(err))
	}

	svc, err := service.New(cfg, logger.L())
	if err != nil {
		logger.Fatal("Failed to build service", zap.Error(err))
	}
	if err := svc.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start service", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "Zenith Integration Hub",
		ServerHeader: "Fiber",
		// Proxied upstream payloads can exceed fiber's 4MB default.
		BodyLimit: 16 << 20,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Api-Key,X-Admin-Key",
	}))

	routes.SetupRoutes(app, svc)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		logger.Info("Server starting",
			zap.String("address", addr),
		)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	svc.Stop()

	logger.Info("Server stopped")
}
