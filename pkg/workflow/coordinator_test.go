package workflow

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/events"
	"github.com/cortexbuild/cortexflow/pkg/metrics"
	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence/file"
	"github.com/cortexbuild/cortexflow/pkg/policy"
	"github.com/cortexbuild/cortexflow/pkg/registry"
	"github.com/cortexbuild/cortexflow/pkg/services"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	siteManager = models.Actor{UserID: "u-a", Role: models.RoleUser, CompanyID: "company-a"}
	outsider    = models.Actor{UserID: "u-b", Role: models.RoleUser, CompanyID: "company-b"}
)

type harness struct {
	coordinator *Coordinator
	workflows   *services.Workflow
	persistence *file.Persistence
	pool        *tasks.Pool
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.RegisterDefaultNodes(registry.Collaborators{
		RecordWriter: NewRecordWriter(p.Records(), nil, logger),
		Logger:       logger,
	}))

	workflows := services.NewWorkflow(p, reg, policy.Default(), nil, logger)

	mux := tasks.NewMux()
	pool := tasks.NewPool(logger, mux.Process, tasks.PoolConfig{Workers: 2, QueueSize: 16, Timeout: timeout})

	coordinator := NewCoordinator(Options{
		Persistence: p,
		Workflows:   workflows,
		Nodes:       reg,
		Dispatcher:  pool,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Logger:      logger,
	})
	mux.Handle(tasks.TypeWorkflowRun, coordinator.Process)

	pool.Start()
	t.Cleanup(func() { _ = pool.Close() })

	return &harness{coordinator: coordinator, workflows: workflows, persistence: p, pool: pool}
}

func (h *harness) create(t *testing.T, input services.WorkflowInput) *models.Workflow {
	t.Helper()

	workflow, err := h.workflows.Create(t.Context(), siteManager, input)
	require.NoError(t, err)

	return workflow
}

func (h *harness) waitTerminal(t *testing.T, workflowID, executionID string) *models.ExecutionWithLogs {
	t.Helper()

	require.Eventually(t, func() bool {
		execution, err := h.coordinator.GetExecution(t.Context(), siteManager, workflowID, executionID)

		return err == nil && execution.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	execution, err := h.coordinator.GetExecution(t.Context(), siteManager, workflowID, executionID)
	require.NoError(t, err)

	return execution
}

func node(id string, nodeType models.NodeType, template string, config map[string]any) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Type: nodeType, Template: template, Title: id, Config: config}
}

func triggerNode() *models.WorkflowNode {
	return node("start", models.NodeTypeTrigger, models.TemplateManualTrigger, map[string]any{})
}

func logNode(id, message string) *models.WorkflowNode {
	return node(id, models.NodeTypeAction, models.TemplateLog, map[string]any{"message": message})
}

func nodeIDs(logs []*models.ExecutionLog) []string {
	ids := make([]string, 0, len(logs))
	for _, entry := range logs {
		ids = append(ids, entry.NodeID)
	}

	return ids
}

func TestCoordinator_RunTriggerThenAction(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, services.WorkflowInput{
		Name:        "Daily site report",
		Nodes:       []*models.WorkflowNode{triggerNode(), logNode("notify", "site {{ .trigger.site }} checked")},
		Connections: []*models.Connection{{From: "start", To: "notify"}},
	})

	execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, map[string]any{"site": "north"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, "u-a", execution.TriggeredBy())

	finished := h.waitTerminal(t, workflow.ID, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
	assert.NotNil(t, finished.CompletedAt)
	assert.Empty(t, finished.ErrorMessage)
	require.Len(t, finished.Logs, 2)
	assert.Equal(t, []string{"start", "notify"}, nodeIDs(finished.Logs))
	assert.Equal(t, "site north checked", finished.Logs[1].Data["message"])

	history, err := h.coordinator.GetExecutions(t.Context(), siteManager, workflow.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, execution.ID, history[0].ID)
}

func TestCoordinator_RunInactiveCreatesNoExecution(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	inactive := false
	workflow := h.create(t, services.WorkflowInput{
		Name:     "Paused workflow",
		Nodes:    []*models.WorkflowNode{triggerNode()},
		IsActive: &inactive,
	})

	_, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, nil)
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
	assert.EqualError(t, err, "run workflow: workflow is not active")

	history, err := h.coordinator.GetExecutions(t.Context(), siteManager, workflow.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCoordinator_TenantIsolation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, services.WorkflowInput{Name: "Private flow", Nodes: []*models.WorkflowNode{triggerNode()}})

	_, err := h.coordinator.Run(t.Context(), outsider, workflow.ID, nil)
	assert.True(t, services.IsNotFound(err))

	_, missingErr := h.coordinator.Run(t.Context(), outsider, "missing", nil)
	assert.Equal(t, missingErr.Error(), err.Error())

	_, err = h.coordinator.GetExecutions(t.Context(), outsider, workflow.ID, 10)
	assert.True(t, services.IsNotFound(err))

	execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, nil)
	require.NoError(t, err)

	_, err = h.coordinator.GetExecution(t.Context(), outsider, workflow.ID, execution.ID)
	assert.True(t, services.IsNotFound(err))

	other := h.create(t, services.WorkflowInput{Name: "Other flow"})
	_, err = h.coordinator.GetExecution(t.Context(), siteManager, other.ID, execution.ID)
	assert.True(t, services.IsNotFound(err))
}

func TestCoordinator_ConditionBranches(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, services.WorkflowInput{
		Name: "Change order approval",
		Nodes: []*models.WorkflowNode{
			triggerNode(),
			node("check", models.NodeTypeCondition, models.TemplateIf, map[string]any{"condition": "[trigger.amount] > 1000"}),
			logNode("escalate", "needs director approval"),
			logNode("approve", "auto approved"),
			logNode("audit", "recorded"),
		},
		Connections: []*models.Connection{
			{From: "start", To: "check"},
			{From: "check", To: "escalate", Condition: models.BranchTrue},
			{From: "check", To: "approve", Condition: models.BranchFalse},
			{From: "approve", To: "audit"},
		},
	})

	tests := []struct {
		name   string
		amount float64
		nodes  []string
	}{
		{"large amount takes the true edge", 2500, []string{"start", "check", "escalate"}},
		{"small amount takes the false edge", 300, []string{"start", "check", "approve", "audit"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, map[string]any{"amount": tt.amount})
			require.NoError(t, err)

			finished := h.waitTerminal(t, workflow.ID, execution.ID)
			assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
			assert.Equal(t, tt.nodes, nodeIDs(finished.Logs))
		})
	}
}

func TestCoordinator_FirstFailureFailsExecution(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, services.WorkflowInput{
		Name: "Broken notification",
		Nodes: []*models.WorkflowNode{
			triggerNode(),
			node("call", models.NodeTypeAction, models.TemplateHTTP, map[string]any{"url": ""}),
			logNode("after", "never"),
		},
		Connections: []*models.Connection{{From: "start", To: "call"}, {From: "call", To: "after"}},
	})

	execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, nil)
	require.NoError(t, err)

	finished := h.waitTerminal(t, workflow.ID, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, finished.Status)
	require.Len(t, finished.Logs, 2)
	assert.Equal(t, models.ExecutionStatusCompleted, finished.Logs[0].Status)
	assert.Equal(t, models.ExecutionStatusFailed, finished.Logs[1].Status)
	assert.NotEmpty(t, finished.Logs[1].ErrorMessage)
	assert.Equal(t, finished.Logs[1].ErrorMessage, finished.ErrorMessage)
}

func TestCoordinator_FailureSparesIndependentBranches(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, services.WorkflowInput{
		Name: "Notify and log",
		Nodes: []*models.WorkflowNode{
			triggerNode(),
			node("call", models.NodeTypeAction, models.TemplateHTTP, map[string]any{"url": ""}),
			logNode("after", "never"),
			logNode("audit", "logged"),
			node("broken", models.NodeTypeAction, models.TemplateHTTP, map[string]any{"url": ""}),
		},
		Connections: []*models.Connection{
			{From: "start", To: "call"},
			{From: "call", To: "after"},
			{From: "start", To: "audit"},
			{From: "audit", To: "broken"},
		},
	})

	execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, nil)
	require.NoError(t, err)

	finished := h.waitTerminal(t, workflow.ID, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, finished.Status)
	assert.ElementsMatch(t, []string{"start", "call", "audit", "broken"}, nodeIDs(finished.Logs))
	assert.NotContains(t, nodeIDs(finished.Logs), "after")

	statuses := make(map[string]models.ExecutionStatus, len(finished.Logs))
	for _, entry := range finished.Logs {
		statuses[entry.NodeID] = entry.Status
	}

	assert.Equal(t, models.ExecutionStatusFailed, statuses["call"])
	assert.Equal(t, models.ExecutionStatusCompleted, statuses["audit"])
	assert.Equal(t, models.ExecutionStatusFailed, statuses["broken"])

	// The execution keeps the first failure in traversal order.
	first := ""
	for _, entry := range finished.Logs {
		if entry.Status == models.ExecutionStatusFailed {
			first = entry.ErrorMessage

			break
		}
	}

	assert.Equal(t, first, finished.ErrorMessage)
}

func TestCoordinator_CycleFailsExecution(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, services.WorkflowInput{
		Name:        "Loop",
		Nodes:       []*models.WorkflowNode{logNode("a", "a"), logNode("b", "b")},
		Connections: []*models.Connection{{From: "a", To: "b"}, {From: "b", To: "a"}},
	})

	execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, nil)
	require.NoError(t, err)

	finished := h.waitTerminal(t, workflow.ID, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, finished.Status)
	assert.Equal(t, "workflow graph contains a cycle", finished.ErrorMessage)
	assert.Empty(t, finished.Logs)
}

func waitingWorkflow() services.WorkflowInput {
	return services.WorkflowInput{
		Name: "Concrete curing",
		Nodes: []*models.WorkflowNode{
			triggerNode(),
			node("cure", models.NodeTypeDelay, models.TemplateWait, map[string]any{"duration": 10, "unit": "minutes"}),
			logNode("done", "cured"),
		},
		Connections: []*models.Connection{{From: "start", To: "cure"}, {From: "cure", To: "done"}},
	}
}

func TestCoordinator_Cancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, waitingWorkflow())

	execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := h.coordinator.GetExecution(t.Context(), siteManager, workflow.ID, execution.ID)

		return err == nil && len(current.Logs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err = h.coordinator.Cancel(t.Context(), outsider, workflow.ID, execution.ID)
	assert.True(t, services.IsNotFound(err))

	cancelled, err := h.coordinator.Cancel(t.Context(), siteManager, workflow.ID, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, cancelled.Status)
	assert.Equal(t, "execution cancelled", cancelled.ErrorMessage)

	require.Eventually(t, func() bool { return h.pool.Running() == 0 }, 5*time.Second, 10*time.Millisecond)

	finished, err := h.coordinator.GetExecution(t.Context(), siteManager, workflow.ID, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "execution cancelled", finished.ErrorMessage)
	assert.Equal(t, []string{"start"}, nodeIDs(finished.Logs))

	_, err = h.coordinator.Cancel(t.Context(), siteManager, workflow.ID, execution.ID)
	assert.True(t, services.IsConflictError(err))
}

func TestCoordinator_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	h := newHarness(t, 50*time.Millisecond)
	workflow := h.create(t, services.WorkflowInput{
		Name:        "Slow supplier API",
		Nodes:       []*models.WorkflowNode{triggerNode(), node("call", models.NodeTypeAction, models.TemplateHTTP, map[string]any{"url": server.URL})},
		Connections: []*models.Connection{{From: "start", To: "call"}},
	})

	execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, nil)
	require.NoError(t, err)

	finished := h.waitTerminal(t, workflow.ID, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, finished.Status)
	assert.Equal(t, "execution timed out", finished.ErrorMessage)
	require.Len(t, finished.Logs, 2)
	assert.Equal(t, "execution timed out", finished.Logs[1].ErrorMessage)
}

func (h *harness) waitParked(t *testing.T, executionID string) models.ResumePoint {
	t.Helper()

	var point models.ResumePoint

	require.Eventually(t, func() bool {
		execution, err := h.persistence.Executions().Get(t.Context(), executionID)
		if err != nil {
			return false
		}

		var parked bool
		point, parked = execution.Resume()

		return parked
	}, 5*time.Second, 10*time.Millisecond)

	return point
}

func TestCoordinator_WaitReleasesWorkers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	curing := h.create(t, waitingWorkflow())

	parked := make([]string, 0, 2)

	// As many parked runs as the pool has workers.
	for range 2 {
		execution, err := h.coordinator.Run(t.Context(), siteManager, curing.ID, nil)
		require.NoError(t, err)

		point := h.waitParked(t, execution.ID)
		assert.Equal(t, "cure", point.NodeID)
		assert.WithinDuration(t, point.Since.Add(10*time.Minute), point.At, time.Second)

		parked = append(parked, execution.ID)
	}

	require.Eventually(t, func() bool { return h.pool.Running() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, h.pool.Delayed())

	report := h.create(t, services.WorkflowInput{
		Name:        "Daily report",
		Nodes:       []*models.WorkflowNode{triggerNode(), logNode("notify", "sent")},
		Connections: []*models.Connection{{From: "start", To: "notify"}},
	})

	execution, err := h.coordinator.Run(t.Context(), siteManager, report.ID, nil)
	require.NoError(t, err)

	finished := h.waitTerminal(t, report.ID, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)

	for _, id := range parked {
		current, err := h.coordinator.GetExecution(t.Context(), siteManager, curing.ID, id)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusRunning, current.Status)
		assert.Equal(t, []string{"start"}, nodeIDs(current.Logs))
	}
}

func TestCoordinator_WaitResumesAfterDuration(t *testing.T) {
	t.Parallel()

	// The wait outlasts the per-task timeout; parked time does not count against it.
	h := newHarness(t, 100*time.Millisecond)
	workflow := h.create(t, services.WorkflowInput{
		Name: "Pour then inspect",
		Nodes: []*models.WorkflowNode{
			triggerNode(),
			node("check", models.NodeTypeCondition, models.TemplateIf, map[string]any{"condition": "[trigger.slabs] > 0"}),
			node("cure", models.NodeTypeDelay, models.TemplateWait, map[string]any{"duration": 0.3, "unit": "seconds"}),
			logNode("inspect", "inspect slab {{ .trigger.slab }}"),
			logNode("skip", "nothing poured"),
		},
		Connections: []*models.Connection{
			{From: "start", To: "check"},
			{From: "check", To: "cure", Condition: models.BranchTrue},
			{From: "check", To: "skip", Condition: models.BranchFalse},
			{From: "cure", To: "inspect"},
		},
	})

	execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, map[string]any{"slabs": 2, "slab": "B2"})
	require.NoError(t, err)

	finished := h.waitTerminal(t, workflow.ID, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
	assert.Empty(t, finished.ErrorMessage)
	assert.Equal(t, []string{"start", "check", "cure", "inspect"}, nodeIDs(finished.Logs))
	assert.GreaterOrEqual(t, finished.Logs[2].Data["waitedMs"], float64(250))
	assert.Equal(t, "inspect slab B2", finished.Logs[3].Data["message"])

	_, parked := finished.Resume()
	assert.False(t, parked)
}

func TestCoordinator_CancelParkedExecution(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, waitingWorkflow())

	execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, nil)
	require.NoError(t, err)

	h.waitParked(t, execution.ID)

	cancelled, err := h.coordinator.Cancel(t.Context(), siteManager, workflow.ID, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "execution cancelled", cancelled.ErrorMessage)
	assert.Equal(t, 0, h.pool.Delayed())

	// A resume that still arrives finds the execution finished.
	require.NoError(t, h.coordinator.Process(t.Context(), tasks.Task{Type: tasks.TypeWorkflowRun, ID: execution.ID}))

	finished, err := h.coordinator.GetExecution(t.Context(), siteManager, workflow.ID, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, finished.Status)
	assert.Equal(t, "execution cancelled", finished.ErrorMessage)
	assert.Equal(t, []string{"start"}, nodeIDs(finished.Logs))
}

func TestCoordinator_RecoverStaleKeepsParkedExecutions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, waitingWorkflow())

	execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, nil)
	require.NoError(t, err)

	h.waitParked(t, execution.ID)

	count, err := h.coordinator.RecoverStale(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	resumed, err := h.coordinator.ResumeParked(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	assert.Equal(t, 1, h.pool.Delayed())

	current, err := h.coordinator.GetExecution(t.Context(), siteManager, workflow.ID, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, current.Status)
}

func TestCoordinator_TerminalExecutionIsStable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, services.WorkflowInput{
		Name: "Broken notification",
		Nodes: []*models.WorkflowNode{
			triggerNode(),
			node("call", models.NodeTypeAction, models.TemplateHTTP, map[string]any{"url": ""}),
		},
		Connections: []*models.Connection{{From: "start", To: "call"}},
	})

	execution, err := h.coordinator.Run(t.Context(), siteManager, workflow.ID, nil)
	require.NoError(t, err)

	first := h.waitTerminal(t, workflow.ID, execution.ID)

	for range 3 {
		again, err := h.coordinator.GetExecution(t.Context(), siteManager, workflow.ID, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// A redelivered task leaves the terminal state untouched.
	require.NoError(t, h.coordinator.Process(t.Context(), tasks.Task{Type: tasks.TypeWorkflowRun, ID: execution.ID}))

	again, err := h.coordinator.GetExecution(t.Context(), siteManager, workflow.ID, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestCoordinator_RecoverStale(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, services.WorkflowInput{Name: "Interrupted flow"})

	stale := &models.WorkflowExecution{
		ID:            "stale-1",
		WorkflowID:    workflow.ID,
		Status:        models.ExecutionStatusRunning,
		StartedAt:     time.Now().UTC().Add(-time.Hour),
		ExecutionData: models.NewExecutionData("u-a", nil),
	}
	require.NoError(t, h.persistence.Executions().Create(t.Context(), stale))

	count, err := h.coordinator.RecoverStale(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	recovered, err := h.coordinator.GetExecution(t.Context(), siteManager, workflow.ID, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, recovered.Status)
	assert.Equal(t, "execution interrupted", recovered.ErrorMessage)
}

func TestCoordinator_ProcessSkipsFinishedExecutions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, services.WorkflowInput{Name: "Done flow", Nodes: []*models.WorkflowNode{triggerNode()}})

	done := time.Now().UTC()
	finished := &models.WorkflowExecution{
		ID:            "finished-1",
		WorkflowID:    workflow.ID,
		Status:        models.ExecutionStatusCompleted,
		StartedAt:     done,
		CompletedAt:   &done,
		ExecutionData: models.NewExecutionData("u-a", nil),
	}
	require.NoError(t, h.persistence.Executions().Create(t.Context(), finished))

	require.NoError(t, h.coordinator.Process(t.Context(), tasks.Task{Type: tasks.TypeWorkflowRun, ID: finished.ID}))
	require.NoError(t, h.coordinator.Process(t.Context(), tasks.Task{Type: tasks.TypeWorkflowRun, ID: "missing"}))

	logs, err := h.persistence.Executions().Logs(t.Context(), finished.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestCoordinator_RunScheduled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, services.WorkflowInput{
		Name:  "Morning safety check",
		Nodes: []*models.WorkflowNode{node("cron", models.NodeTypeTrigger, models.TemplateScheduleTrigger, map[string]any{"schedule": "daily", "time": "07:30"})},
	})

	execution, err := h.coordinator.RunScheduled(t.Context(), workflow.ID, time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, TriggeredByScheduler, execution.TriggeredBy())
	assert.Equal(t, "2026-03-02T07:30:00Z", execution.TriggerData()["scheduledAt"])

	finished := h.waitTerminal(t, workflow.ID, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
	assert.Equal(t, TriggeredByScheduler, finished.Logs[0].Data["triggeredBy"])
}

func TestCoordinator_RunWebhook(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)
	workflow := h.create(t, services.WorkflowInput{
		Name: "Photo upload",
		Nodes: []*models.WorkflowNode{
			node("hook", models.NodeTypeTrigger, models.TemplateWebhookTrigger, map[string]any{"method": "POST", "path": "/site-photos"}),
			logNode("store", "photo {{ .trigger.photoId }}"),
		},
		Connections: []*models.Connection{{From: "hook", To: "store"}},
	})

	execution, err := h.coordinator.RunWebhook(t.Context(), workflow.ID, "POST", "site-photos", map[string]any{"photoId": "p-9"})
	require.NoError(t, err)
	assert.Equal(t, TriggeredByWebhook, execution.TriggeredBy())

	finished := h.waitTerminal(t, workflow.ID, execution.ID)
	assert.Equal(t, "photo p-9", finished.Logs[1].Data["message"])

	_, err = h.coordinator.RunWebhook(t.Context(), workflow.ID, "GET", "/site-photos", nil)
	assert.True(t, services.IsNotFound(err))

	_, err = h.coordinator.RunWebhook(t.Context(), "missing", "POST", "/site-photos", nil)
	assert.True(t, services.IsNotFound(err))
}

func TestCoordinator_HandleRecordSaved(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Minute)

	databaseTrigger := func() *models.WorkflowNode {
		return node("db", models.NodeTypeTrigger, models.TemplateDatabaseTrigger, map[string]any{"table": "inspections", "event": "insert"})
	}

	listener := h.create(t, services.WorkflowInput{
		Name:        "Inspection follow-up",
		Nodes:       []*models.WorkflowNode{databaseTrigger(), logNode("note", "inspection {{ .trigger.recordId }}")},
		Connections: []*models.Connection{{From: "db", To: "note"}},
	})
	producer := h.create(t, services.WorkflowInput{Name: "Inspection writer", Nodes: []*models.WorkflowNode{databaseTrigger()}})

	foreign, err := h.workflows.Create(t.Context(), outsider, services.WorkflowInput{
		Name:  "Other company listener",
		Nodes: []*models.WorkflowNode{databaseTrigger()},
	})
	require.NoError(t, err)

	record := &models.WorkflowRecord{
		ID:         "rec-1",
		WorkflowID: producer.ID,
		CompanyID:  "company-a",
		Table:      "inspections",
		Action:     "insert",
		Data:       map[string]any{"site": "north"},
	}

	require.NoError(t, h.coordinator.HandleRecordSaved(t.Context(), &events.RecordSaved{Record: record}))

	started, err := h.coordinator.GetExecutions(t.Context(), siteManager, listener.ID, 10)
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, TriggeredByDatabase, started[0].TriggeredBy())

	finished := h.waitTerminal(t, listener.ID, started[0].ID)
	assert.Equal(t, "inspection rec-1", finished.Logs[1].Data["message"])

	own, err := h.coordinator.GetExecutions(t.Context(), siteManager, producer.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, own)

	other, err := h.coordinator.GetExecutions(t.Context(), outsider, foreign.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}
