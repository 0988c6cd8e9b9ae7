// Package main provides the groundgame API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/groundgame/groundgame/pkg/cmd"
	"github.com/groundgame/groundgame/pkg/web"
)

type API struct {
	logger   *slog.Logger
	services *cmd.Services
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, services *cmd.Services) *API {
	return &API{
		logger:   logger,
		services: services,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.services.Evaluator,
		a.services.Engine,
		a.services.Plane,
		a.services.Allocator,
		a.services.Persistence,
		a.services.Ledger,
		a.services.EventBus,
		a.validate,
		a.services.Clock,
	)

	return web.NewApp(handlers)
}

func (a *API) Start(ctx context.Context, port int) error {
	a.logger.InfoContext(ctx, "Starting API server", "port", port)

	return a.App().Listen(":" + strconv.Itoa(port))
}
