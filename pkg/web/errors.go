package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/groundgame/groundgame/pkg/engine"
	"github.com/groundgame/groundgame/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, errType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(errType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleError maps domain errors onto problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsNotFound(err):
		return notFound(c, err.Error())
	case persistence.IsDuplicateEnrollment(err):
		return conflict(c, "duplicate_enrollment", err.Error())
	case errors.Is(err, persistence.ErrOutcomeAlreadyRecorded):
		return conflict(c, "outcome_already_recorded", err.Error())
	case errors.Is(err, engine.ErrInvalidTransition):
		return conflict(c, "invalid_transition", err.Error())
	case errors.Is(err, engine.ErrWorkflowNotEnrollable):
		return conflict(c, "workflow_not_enrollable", err.Error())
	default:
		return internalError(c, err)
	}
}
