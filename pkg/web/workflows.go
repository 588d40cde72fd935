package web

import (
	"github.com/cortexbuild/cortexflow/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context(), h.actor(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "data": workflows})
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "data": h.workflowService.Templates()})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req services.WorkflowInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	created, err := h.workflowService.Create(c.Context(), h.actor(c), req)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "workflow": created})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Get(c.Context(), h.actor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "data": workflow})
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req services.WorkflowInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	updated, err := h.workflowService.Update(c.Context(), h.actor(c), c.Params("id"), req)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "workflow": updated})
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), h.actor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "message": "Workflow deleted successfully"})
}

func (h *APIHandlers) AddNode(c fiber.Ctx) error {
	var req AddNodeRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}

	node, err := h.workflowService.AddNode(c.Context(), h.actor(c), c.Params("id"), req.Template, req.Position)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "node": node})
}

func (h *APIHandlers) DeleteNode(c fiber.Ctx) error {
	workflow, err := h.workflowService.DeleteNode(c.Context(), h.actor(c), c.Params("id"), c.Params("nodeId"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "workflow": workflow})
}

func (h *APIHandlers) MoveNode(c fiber.Ctx) error {
	var req MoveNodeRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}

	node, err := h.workflowService.UpdateNodePosition(c.Context(), h.actor(c), c.Params("id"), c.Params("nodeId"), req.Position)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "node": node})
}

func (h *APIHandlers) Connect(c fiber.Ctx) error {
	var req ConnectRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}

	connection, created, err := h.workflowService.Connect(c.Context(), h.actor(c), c.Params("id"), req.From, req.To, req.Condition)
	if err != nil {
		return h.fail(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(fiber.Map{"success": true, "connection": connection})
}

func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}

	execution, err := h.coordinator.Run(c.Context(), h.actor(c), c.Params("id"), req.Trigger)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"message":     "Workflow execution started",
		"executionId": execution.ID,
	})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	limit, err := executionsLimit(c)
	if err != nil {
		return h.fail(c, err)
	}

	executions, err := h.coordinator.GetExecutions(c.Context(), h.actor(c), c.Params("id"), limit)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "data": executions})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.coordinator.GetExecution(c.Context(), h.actor(c), c.Params("id"), c.Params("executionId"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "data": execution})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.coordinator.Cancel(c.Context(), h.actor(c), c.Params("id"), c.Params("executionId"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "data": execution})
}

// Webhook runs the workflow when one of its webhook triggers matches the
// request method and path. It is the only unauthenticated workflow route.
func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	payload := map[string]any{}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "webhook body must be a JSON object")
		}
	}

	execution, err := h.coordinator.RunWebhook(c.Context(), c.Params("workflowId"), c.Method(), "/"+c.Params("*"), payload)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":     true,
		"message":     "Workflow execution started",
		"executionId": execution.ID,
	})
}
