package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Workflow(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())

	m.WorkflowStarted()
	m.WorkflowStarted()
	m.WorkflowFinished("completed", "user-1", time.Second)

	assert.InDelta(t, 1, testutil.ToFloat64(m.WorkflowExecutionsRunning), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.WorkflowExecutionsTotal.WithLabelValues("completed", "user-1")), 0)

	m.NodeFinished("log", "completed", time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(m.NodeExecutionsTotal.WithLabelValues("log", "completed")), 0)
}

func TestMetrics_AgentsAndTasks(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())

	m.AgentFinished("echo", "failed", 10*time.Millisecond)
	m.TaskDispatched("agent:execute")
	m.TaskRejected("agent:execute")
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	assert.InDelta(t, 1, testutil.ToFloat64(m.AgentExecutionsTotal.WithLabelValues("echo", "failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TasksDispatchedTotal.WithLabelValues("agent:execute")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TasksRejectedTotal.WithLabelValues("agent:execute")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.StatusCacheTotal.WithLabelValues("miss")), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics

	assert.NotPanics(t, func() {
		m.WorkflowStarted()
		m.WorkflowFinished("failed", "scheduler", time.Second)
		m.NodeFinished("http", "failed", time.Second)
		m.AgentFinished("javascript", "completed", time.Second)
		m.TaskDispatched("workflow:run")
		m.TaskRejected("workflow:run")
		m.CacheLookup(true)
	})
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.TaskDispatched("workflow:run")

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, strings.Contains(recorder.Body.String(), `cortexflow_tasks_dispatched_total{type="workflow:run"} 1`))
}
