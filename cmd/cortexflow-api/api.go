// Package main provides the CortexFlow API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/metrics"
	"github.com/cortexbuild/cortexflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger   *slog.Logger
	handlers *web.APIHandlers
	verifier web.TokenVerifier
	metrics  *metrics.Metrics
}

func NewAPI(
	logger *slog.Logger,
	handlers *web.APIHandlers,
	verifier web.TokenVerifier,
	metrics *metrics.Metrics,
) *API {
	return &API{
		logger:   logger,
		handlers: handlers,
		verifier: verifier,
		metrics:  metrics,
	}
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("CortexFlow API")
	})

	if a.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))
	}

	web.Register(app, a.handlers, a.verifier)

	return app
}

// Start serves on port until ctx is done, then drains in-flight requests.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := app.ShutdownWithContext(shutdownCtx)
		if err != nil {
			a.logger.Error("Failed to shutdown API server", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
