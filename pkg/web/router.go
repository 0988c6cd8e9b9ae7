package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp builds the fiber application with every route registered.
func NewApp(handlers *APIHandlers) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "groundgame-api",
	})

	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get("/health", handlers.HealthCheck)

	app.Post("/events", handlers.SubmitEvent)

	app.Get("/decisions", handlers.GetDecisions)
	app.Get("/decisions/:id", handlers.GetDecision)
	app.Post("/decisions/:id/outcome", handlers.RecordOutcome)

	app.Get("/triggers", handlers.GetTriggers)
	app.Post("/triggers", handlers.CreateTrigger)
	app.Get("/triggers/:id", handlers.GetTrigger)
	app.Delete("/triggers/:id", handlers.DeactivateTrigger)

	app.Get("/workflows", handlers.GetWorkflows)
	app.Get("/workflows/:id", handlers.GetWorkflow)

	app.Post("/enrollments", handlers.CreateEnrollment)
	app.Get("/enrollments/:id", handlers.GetEnrollment)
	app.Post("/enrollments/:id/pause", handlers.PauseEnrollment)
	app.Post("/enrollments/:id/resume", handlers.ResumeEnrollment)
	app.Post("/enrollments/:id/stop", handlers.StopEnrollment)
	app.Post("/enrollments/:id/steps/:order/outcome", handlers.RecordStepOutcome)

	app.Put("/control/:scope", handlers.SetControl)
	app.Get("/control/:scope", handlers.GetControl)
	app.Get("/control/:scope/history", handlers.GetControlHistory)

	app.Get("/budgets/:scope", handlers.GetBudget)

	return app
}
