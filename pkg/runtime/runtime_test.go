package runtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/cache"
	"github.com/cortexbuild/cortexflow/pkg/metrics"
	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence/file"
	"github.com/cortexbuild/cortexflow/pkg/policy"
	"github.com/cortexbuild/cortexflow/pkg/sandbox"
	"github.com/cortexbuild/cortexflow/pkg/services"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	developer = models.Actor{UserID: "dev-1", Role: models.RoleDeveloper, CompanyID: "vendor"}
	foreman   = models.Actor{UserID: "u-1", Role: models.RoleUser, CompanyID: "company-a"}
	inspector = models.Actor{UserID: "u-2", Role: models.RoleUser, CompanyID: "company-a"}
)

type harness struct {
	runtime     *Runtime
	agents      *services.Agents
	persistence *file.Persistence
	cache       *cache.Memory
}

func newHarness(t *testing.T, box sandbox.Sandbox, timeout time.Duration) *harness {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	statusCache := cache.NewMemory(time.Minute)

	mux := tasks.NewMux()
	pool := tasks.NewPool(logger, mux.Process, tasks.PoolConfig{Workers: 2, QueueSize: 16, Timeout: timeout})

	rt := New(Options{
		Persistence: p,
		Policy:      policy.Default(),
		Sandbox:     box,
		Dispatcher:  pool,
		Cache:       statusCache,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Logger:      logger,
	})
	mux.Handle(tasks.TypeAgentExecute, rt.Process)

	pool.Start()
	t.Cleanup(func() { _ = pool.Close() })

	return &harness{
		runtime:     rt,
		agents:      services.NewAgents(p, policy.Default(), logger),
		persistence: p,
		cache:       statusCache,
	}
}

func (h *harness) publish(t *testing.T, code string, config map[string]any) *models.Agent {
	t.Helper()

	agent, err := h.agents.Create(t.Context(), developer, services.AgentInput{
		Name:        "Scaffold inspector",
		Description: "Flags missing scaffold inspection tags",
		Category:    models.AgentCategorySafety,
		Code:        code,
		Config:      config,
		IsPublic:    true,
	})
	require.NoError(t, err)

	published, err := h.agents.Publish(t.Context(), developer, agent.ID)
	require.NoError(t, err)
	require.True(t, published)

	return agent
}

func (h *harness) subscribe(t *testing.T, actor models.Actor, agentID string, config map[string]any) {
	t.Helper()

	_, _, err := h.agents.Subscribe(t.Context(), actor, agentID, config)
	require.NoError(t, err)
}

func (h *harness) waitStatus(t *testing.T, actor models.Actor, id string, done func(models.ExecutionStatus) bool) *models.AgentExecution {
	t.Helper()

	var execution *models.AgentExecution

	require.Eventually(t, func() bool {
		current, err := h.runtime.GetStatus(t.Context(), actor, id)
		if err != nil {
			return false
		}

		execution = current

		return done(current.Status)
	}, 5*time.Second, 10*time.Millisecond)

	return execution
}

func terminal(status models.ExecutionStatus) bool {
	return status.Terminal()
}

func TestRuntime_ExecuteCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewEcho(), time.Minute)
	agent := h.publish(t, "return input", map[string]any{"threshold": 3, "units": "metric"})
	h.subscribe(t, foreman, agent.ID, map[string]any{"threshold": 5})

	execution, err := h.runtime.Execute(t.Context(), foreman, agent.ID, map[string]any{"siteId": "s-1"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, "/agents/executions/"+execution.ID, StatusURL(execution.ID))

	finished := h.waitStatus(t, foreman, execution.ID, terminal)
	assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
	require.NotNil(t, finished.CompletedAt)
	require.NotNil(t, finished.Duration)
	assert.GreaterOrEqual(t, *finished.Duration, int64(0))
	assert.Equal(t, true, finished.Output["success"])
	assert.Equal(t, sandbox.SuccessMessage, finished.Output["message"])
	assert.Equal(t, map[string]any{"siteId": "s-1"}, finished.Output["input"])

	config, ok := finished.Output["config"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 5, config["threshold"])
	assert.Equal(t, "metric", config["units"])

	cached, err := h.cache.Get(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, cached.Status)
}

func TestRuntime_ExecuteRequiresSubscription(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewEcho(), time.Minute)
	agent := h.publish(t, "return input", nil)

	_, err := h.runtime.Execute(t.Context(), foreman, agent.ID, map[string]any{"siteId": "s-1"})
	require.Error(t, err)
	assert.True(t, services.IsForbidden(err))

	executions, err := h.persistence.AgentExecutions().ListByAgentAndUser(t.Context(), agent.ID, foreman.UserID, 10)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestRuntime_ExecuteValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewEcho(), time.Minute)
	agent := h.publish(t, "return input", map[string]any{
		"inputSchema": map[string]any{
			"type":     "object",
			"required": []any{"siteId"},
			"properties": map[string]any{
				"siteId": map[string]any{"type": "string"},
			},
		},
	})
	h.subscribe(t, foreman, agent.ID, nil)

	tests := []struct {
		name  string
		input any
	}{
		{"array input", []any{"s-1"}},
		{"string input", "s-1"},
		{"null input", nil},
		{"missing required property", map[string]any{"site": "s-1"}},
		{"wrong property type", map[string]any{"siteId": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := h.runtime.Execute(t.Context(), foreman, agent.ID, tt.input)
			require.Error(t, err)
			assert.True(t, services.IsValidationError(err))
		})
	}

	_, err := h.runtime.Execute(t.Context(), foreman, "missing", map[string]any{})
	assert.True(t, services.IsNotFound(err))
}

func TestRuntime_GetStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewEcho(), time.Minute)
	agent := h.publish(t, "return input", nil)
	h.subscribe(t, foreman, agent.ID, nil)

	execution, err := h.runtime.Execute(t.Context(), foreman, agent.ID, map[string]any{})
	require.NoError(t, err)

	h.waitStatus(t, foreman, execution.ID, terminal)

	_, err = h.runtime.GetStatus(t.Context(), inspector, execution.ID)
	require.Error(t, err)
	assert.True(t, services.IsForbidden(err))
	assert.EqualError(t, err, "get agent execution: access denied")

	_, err = h.runtime.GetStatus(t.Context(), foreman, "missing")
	assert.True(t, services.IsNotFound(err))
}

func TestRuntime_GetStatusStableAfterFinish(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewEcho(), time.Minute)
	agent := h.publish(t, "return input", map[string]any{"units": "metric"})
	h.subscribe(t, foreman, agent.ID, nil)

	execution, err := h.runtime.Execute(t.Context(), foreman, agent.ID, map[string]any{"siteId": "s-9"})
	require.NoError(t, err)

	first := h.waitStatus(t, foreman, execution.ID, terminal)

	uncached := New(Options{
		Persistence: h.persistence,
		Policy:      policy.Default(),
		Logger:      slog.New(slog.DiscardHandler),
	})

	tests := []struct {
		name    string
		runtime *Runtime
	}{
		{"status cache", h.runtime},
		{"store", uncached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for range 3 {
				again, err := tt.runtime.GetStatus(t.Context(), foreman, execution.ID)
				require.NoError(t, err)
				assert.Equal(t, first.Status, again.Status)
				assert.Equal(t, first.Output, again.Output)
				assert.Equal(t, first.ErrorMessage, again.ErrorMessage)
				assert.Equal(t, first.CompletedAt, again.CompletedAt)
				assert.Equal(t, first.Duration, again.Duration)
			}
		})
	}
}

type panickingSandbox struct{}

func (panickingSandbox) Kind() string { return "panicking" }

func (panickingSandbox) Run(context.Context, sandbox.Request) (map[string]any, error) {
	panic("index out of range [3] with length 3")
}

func TestRuntime_PanicFailsExecution(t *testing.T) {
	t.Parallel()

	h := newHarness(t, panickingSandbox{}, time.Minute)
	agent := h.publish(t, "return input", nil)
	h.subscribe(t, foreman, agent.ID, nil)

	execution, err := h.runtime.Execute(t.Context(), foreman, agent.ID, map[string]any{})
	require.NoError(t, err)

	finished := h.waitStatus(t, foreman, execution.ID, terminal)
	assert.Equal(t, models.ExecutionStatusFailed, finished.Status)
	assert.Equal(t, "execution panicked: index out of range [3] with length 3", finished.ErrorMessage)
	assert.NotNil(t, finished.CompletedAt)
	assert.NotNil(t, finished.Duration)
}

func TestRuntime_JavaScriptTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewJavaScript(0), 50*time.Millisecond)
	agent := h.publish(t, "while (true) {}", nil)
	h.subscribe(t, foreman, agent.ID, nil)

	execution, err := h.runtime.Execute(t.Context(), foreman, agent.ID, map[string]any{})
	require.NoError(t, err)

	finished := h.waitStatus(t, foreman, execution.ID, terminal)
	assert.Equal(t, models.ExecutionStatusFailed, finished.Status)
	assert.Equal(t, "execution timed out", finished.ErrorMessage)
	assert.NotNil(t, finished.Duration)
}

func TestRuntime_JavaScriptResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewJavaScript(0), time.Minute)
	agent := h.publish(t, "function run(input, config) { return input.tags.length < config.minimum; }",
		map[string]any{"minimum": 2})
	h.subscribe(t, foreman, agent.ID, nil)

	execution, err := h.runtime.Execute(t.Context(), foreman, agent.ID, map[string]any{"tags": []any{"A-12"}})
	require.NoError(t, err)

	finished := h.waitStatus(t, foreman, execution.ID, terminal)
	assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
	assert.Equal(t, true, finished.Output["result"])
}

func TestRuntime_Cancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewJavaScript(0), time.Minute)
	agent := h.publish(t, "while (true) {}", nil)
	h.subscribe(t, foreman, agent.ID, nil)

	execution, err := h.runtime.Execute(t.Context(), foreman, agent.ID, map[string]any{})
	require.NoError(t, err)

	h.waitStatus(t, foreman, execution.ID, func(status models.ExecutionStatus) bool {
		return status == models.ExecutionStatusRunning
	})

	_, err = h.runtime.Cancel(t.Context(), inspector, execution.ID)
	assert.True(t, services.IsForbidden(err))

	cancelled, err := h.runtime.Cancel(t.Context(), foreman, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, cancelled.Status)
	assert.Equal(t, "execution cancelled", cancelled.ErrorMessage)

	_, err = h.runtime.Cancel(t.Context(), foreman, execution.ID)
	assert.True(t, services.IsConflictError(err))

	_, err = h.runtime.Cancel(t.Context(), foreman, "missing")
	assert.True(t, services.IsNotFound(err))

	status, err := h.runtime.GetStatus(t.Context(), foreman, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "execution cancelled", status.ErrorMessage)
}

func TestRuntime_ListExecutions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewEcho(), time.Minute)
	agent := h.publish(t, "return input", nil)
	h.subscribe(t, foreman, agent.ID, nil)
	h.subscribe(t, inspector, agent.ID, nil)

	for range 3 {
		_, err := h.runtime.Execute(t.Context(), foreman, agent.ID, map[string]any{})
		require.NoError(t, err)
	}

	_, err := h.runtime.Execute(t.Context(), inspector, agent.ID, map[string]any{})
	require.NoError(t, err)

	own, err := h.runtime.ListExecutions(t.Context(), foreman, agent.ID, 0)
	require.NoError(t, err)
	assert.Len(t, own, 3)

	for i, execution := range own {
		assert.Equal(t, foreman.UserID, execution.UserID)

		if i > 0 {
			assert.False(t, execution.StartedAt.After(own[i-1].StartedAt))
		}
	}

	limited, err := h.runtime.ListExecutions(t.Context(), foreman, agent.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	stranger := models.Actor{UserID: "u-9", Role: models.RoleUser, CompanyID: "company-z"}
	_, err = h.runtime.ListExecutions(t.Context(), stranger, agent.ID, 10)
	assert.True(t, services.IsForbidden(err))
}

func TestRuntime_ProcessFailsRedeliveredExecution(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewEcho(), time.Minute)
	agent := h.publish(t, "return input", nil)

	running := &models.AgentExecution{
		ID:        "exec-running",
		AgentID:   agent.ID,
		UserID:    foreman.UserID,
		CompanyID: foreman.CompanyID,
		Input:     map[string]any{},
		Status:    models.ExecutionStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, h.persistence.AgentExecutions().Create(t.Context(), running))

	require.NoError(t, h.runtime.Process(t.Context(), tasks.Task{Type: tasks.TypeAgentExecute, ID: running.ID}))
	require.NoError(t, h.runtime.Process(t.Context(), tasks.Task{Type: tasks.TypeAgentExecute, ID: "missing"}))

	failed, err := h.persistence.AgentExecutions().Get(t.Context(), running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, "execution interrupted", failed.ErrorMessage)
}

func TestRuntime_RecoverStale(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewEcho(), time.Minute)

	for _, status := range []models.ExecutionStatus{models.ExecutionStatusPending, models.ExecutionStatusRunning} {
		require.NoError(t, h.persistence.AgentExecutions().Create(t.Context(), &models.AgentExecution{
			ID:        "stale-" + string(status),
			AgentID:   "agent-1",
			UserID:    foreman.UserID,
			Status:    status,
			StartedAt: time.Now().UTC(),
		}))
	}

	count, err := h.runtime.RecoverStale(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

type rejectingDispatcher struct{}

func (rejectingDispatcher) Dispatch(context.Context, tasks.Task) error { return tasks.ErrQueueFull }
func (rejectingDispatcher) Cancel(context.Context, string) error       { return nil }
func (rejectingDispatcher) Close() error                               { return nil }

func (rejectingDispatcher) DispatchAt(context.Context, tasks.Task, time.Time) error {
	return tasks.ErrQueueFull
}

func TestRuntime_ExecuteQueueFull(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sandbox.NewEcho(), time.Minute)
	h.runtime.dispatcher = rejectingDispatcher{}

	agent := h.publish(t, "return input", nil)
	h.subscribe(t, foreman, agent.ID, nil)

	_, err := h.runtime.Execute(t.Context(), foreman, agent.ID, map[string]any{})
	require.ErrorIs(t, err, tasks.ErrQueueFull)

	executions, err := h.persistence.AgentExecutions().ListByAgentAndUser(t.Context(), agent.ID, foreman.UserID, 10)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusFailed, executions[0].Status)
	assert.Contains(t, executions[0].ErrorMessage, "failed to dispatch execution")
}
