// Package web provides the HTTP handlers of the workflow and agent marketplace API.
package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/runtime"
	"github.com/cortexbuild/cortexflow/pkg/services"
	"github.com/cortexbuild/cortexflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService *services.Workflow
	coordinator     *workflow.Coordinator
	agentService    *services.Agents
	runtime         *runtime.Runtime
	validator       *validator.Validate
	logger          *slog.Logger
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	coordinator *workflow.Coordinator,
	agentService *services.Agents,
	runtime *runtime.Runtime,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		coordinator:     coordinator,
		agentService:    agentService,
		runtime:         runtime,
		validator:       validator,
		logger:          logger.With("module", "web"),
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "CortexFlow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "CortexFlow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// bind decodes an optional JSON body into req and validates it.
func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(req); err != nil {
			return services.NewValidationErrors("invalid JSON body")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return services.NewValidationErrors(err.Error())
	}

	return nil
}

func (h *APIHandlers) actor(c fiber.Ctx) models.Actor {
	actor, _ := ActorFrom(c)

	return actor
}

func (h *APIHandlers) fail(c fiber.Ctx, err error) error {
	return handleServiceError(c, h.logger, err)
}

// executionsLimit parses the limit query parameter, clamped to MaxExecutionsLimit.
func executionsLimit(c fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return MaxExecutionsLimit, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, services.NewValidationErrors("limit must be a positive integer")
	}

	return min(value, MaxExecutionsLimit), nil
}
