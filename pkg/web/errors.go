package web

import (
	"errors"
	"log/slog"

	"github.com/cortexbuild/cortexflow/pkg/services"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// validationProblem is a 400 problem carrying every rejected field message.
type validationProblem struct {
	*problems.Problem

	Errors []string `json:"errors"`
}

func badRequest(c fiber.Ctx, messages ...string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest)
	problem.Type = "validation_error"
	problem.Instance = c.Path()

	if len(messages) > 0 {
		problem.Detail = messages[0]
	}

	return c.Status(fiber.StatusBadRequest).JSON(validationProblem{
		Problem: problem,
		Errors:  messages,
	})
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func forbidden(c fiber.Ctx) error {
	problem := problems.NewStatusProblem(fiber.StatusForbidden).
		WithInstance(c.Path()).
		WithType("forbidden").
		WithDetail(services.ErrForbidden.Error())

	return c.Status(fiber.StatusForbidden).JSON(problem)
}

func unauthorized(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusUnauthorized).
		WithInstance(c.Path()).
		WithType("unauthorized").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

func internalError(c fiber.Ctx, logger *slog.Logger, err error) error {
	logger.ErrorContext(c.Context(), "request failed", "path", c.Path(), "method", c.Method(), "error", err)

	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithDetail("internal server error")

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps service and dispatch errors to problem responses.
// Forbidden and not found details stay generic so tenants cannot discover each other's resources.
func handleServiceError(c fiber.Ctx, logger *slog.Logger, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, services.ValidationMessages(err)...)

	case services.IsNotFound(err):
		detail := "resource not found"
		if errors.Is(err, services.ErrAgentNotPublishable) {
			detail = services.ErrAgentNotPublishable.Error()
		}

		return notFound(c, detail)

	case services.IsForbidden(err):
		return forbidden(c)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(fiber.StatusConflict).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(services.ErrExecutionFinished.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, tasks.ErrQueueFull), errors.Is(err, tasks.ErrClosed):
		logger.WarnContext(c.Context(), "dispatch rejected", "path", c.Path(), "error", err)

		problem := problems.NewStatusProblem(fiber.StatusServiceUnavailable).
			WithInstance(c.Path()).
			WithType("unavailable").
			WithDetail("execution queue is unavailable, retry later")

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		return internalError(c, logger, err)
	}
}
