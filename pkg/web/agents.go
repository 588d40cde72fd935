package web

import (
	"strconv"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/cortexbuild/cortexflow/pkg/runtime"
	"github.com/cortexbuild/cortexflow/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) ListMarketplace(c fiber.Ctx) error {
	filter := persistence.MarketplaceFilter{
		Category: models.AgentCategory(c.Query("category")),
		Search:   c.Query("search"),
	}

	if raw := c.Query("minRating"); raw != "" {
		minRating, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return badRequest(c, "minRating must be a number")
		}

		filter.MinRating = &minRating
	}

	agents, err := h.agentService.ListMarketplace(c.Context(), h.actor(c), filter)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "agents": agents, "count": len(agents)})
}

func (h *APIHandlers) GetAgent(c fiber.Ctx) error {
	agent, err := h.agentService.Get(c.Context(), h.actor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "agent": agent})
}

func (h *APIHandlers) CreateAgent(c fiber.Ctx) error {
	var req services.AgentInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	agent, err := h.agentService.Create(c.Context(), h.actor(c), req)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"agentId": agent.ID,
		"message": "Agent created successfully",
	})
}

func (h *APIHandlers) PublishAgent(c fiber.Ctx) error {
	published, err := h.agentService.Publish(c.Context(), h.actor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}

	if !published {
		return notFound(c, services.ErrAgentNotPublishable.Error())
	}

	return c.JSON(fiber.Map{"success": true, "message": "Agent published to marketplace"})
}

func (h *APIHandlers) SubscribeAgent(c fiber.Ctx) error {
	var req SubscribeRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}

	subscription, created, err := h.agentService.Subscribe(c.Context(), h.actor(c), c.Params("id"), req.Config)
	if err != nil {
		return h.fail(c, err)
	}

	status := fiber.StatusOK
	message := "Already subscribed to agent"

	if created {
		status = fiber.StatusCreated
		message = "Subscribed to agent successfully"
	}

	return c.Status(status).JSON(fiber.Map{
		"success":        true,
		"subscriptionId": subscription.ID,
		"message":        message,
	})
}

func (h *APIHandlers) ListSubscriptions(c fiber.Ctx) error {
	subscriptions, err := h.agentService.ListUserSubscriptions(c.Context(), h.actor(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "subscriptions": subscriptions, "count": len(subscriptions)})
}

func (h *APIHandlers) RateAgent(c fiber.Ctx) error {
	var req services.RatingInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	err := h.agentService.Rate(c.Context(), h.actor(c), c.Params("id"), req)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "message": "Rating saved"})
}

func (h *APIHandlers) ExecuteAgent(c fiber.Ctx) error {
	var req ExecuteRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}

	execution, err := h.runtime.Execute(c.Context(), h.actor(c), c.Params("id"), req.Input)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":     true,
		"executionId": execution.ID,
		"message":     runtime.AcceptedMessage,
		"statusUrl":   runtime.StatusURL(execution.ID),
	})
}

func (h *APIHandlers) GetAgentExecution(c fiber.Ctx) error {
	execution, err := h.runtime.GetStatus(c.Context(), h.actor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "execution": execution})
}

func (h *APIHandlers) CancelAgentExecution(c fiber.Ctx) error {
	execution, err := h.runtime.Cancel(c.Context(), h.actor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "execution": execution})
}

func (h *APIHandlers) ListAgentExecutions(c fiber.Ctx) error {
	limit, err := executionsLimit(c)
	if err != nil {
		return h.fail(c, err)
	}

	executions, err := h.runtime.ListExecutions(c.Context(), h.actor(c), c.Params("id"), limit)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "executions": executions, "count": len(executions)})
}
