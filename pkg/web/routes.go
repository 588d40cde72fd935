package web

import "github.com/gofiber/fiber/v3"

// Register mounts the API routes. Static segments are registered before the
// parameterized ones they would otherwise collide with.
func Register(router fiber.Router, h *APIHandlers, verifier TokenVerifier) {
	router.Get("/health", h.HealthCheck)
	router.All("/webhooks/:workflowId/*", h.Webhook)

	auth := RequireActor(verifier)

	w := router.Group("/workflows", auth)
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/templates", h.GetTemplates)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/nodes", h.AddNode)
	w.Delete("/:id/nodes/:nodeId", h.DeleteNode)
	w.Put("/:id/nodes/:nodeId/position", h.MoveNode)
	w.Post("/:id/connections", h.Connect)
	w.Post("/:id/run", h.RunWorkflow)
	w.Get("/:id/executions", h.GetExecutions)
	w.Get("/:id/executions/:executionId", h.GetExecution)
	w.Post("/:id/executions/:executionId/cancel", h.CancelExecution)

	a := router.Group("/agents", auth)
	a.Get("/", h.ListMarketplace)
	a.Get("/marketplace", h.ListMarketplace)
	a.Post("/", h.CreateAgent)
	a.Get("/subscriptions/my", h.ListSubscriptions)
	a.Get("/executions/:id", h.GetAgentExecution)
	a.Post("/executions/:id/cancel", h.CancelAgentExecution)
	a.Get("/:id", h.GetAgent)
	a.Post("/:id/publish", h.PublishAgent)
	a.Post("/:id/subscribe", h.SubscribeAgent)
	a.Post("/:id/rate", h.RateAgent)
	a.Post("/:id/execute", h.ExecuteAgent)
	a.Get("/:id/executions", h.ListAgentExecutions)
}
