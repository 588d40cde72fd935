// Package metrics holds the Prometheus collectors of the workflow engine and the agent runtime.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cortexflow"

// Metrics groups every collector. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	WorkflowExecutionsTotal   *prometheus.CounterVec
	WorkflowExecutionDuration *prometheus.HistogramVec
	WorkflowExecutionsRunning prometheus.Gauge
	WorkflowExecutionsParked  prometheus.Counter
	NodeExecutionsTotal       *prometheus.CounterVec
	NodeExecutionDuration     *prometheus.HistogramVec

	AgentExecutionsTotal   *prometheus.CounterVec
	AgentExecutionDuration *prometheus.HistogramVec

	TasksDispatchedTotal *prometheus.CounterVec
	TasksRejectedTotal   *prometheus.CounterVec

	StatusCacheTotal *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		WorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_executions_total",
				Help:      "Finished workflow executions by status",
			},
			[]string{"status", "triggered_by"},
		),
		WorkflowExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_execution_duration_seconds",
				Help:      "Wall time of workflow executions",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 30, 60, 300, 900},
			},
			[]string{"status"},
		),
		WorkflowExecutionsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workflow_executions_running",
				Help:      "Workflow executions currently being traversed by this process",
			},
		),
		WorkflowExecutionsParked: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_executions_parked_total",
				Help:      "Workflow executions suspended on a wait node",
			},
		),
		NodeExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_total",
				Help:      "Visited workflow nodes by template and status",
			},
			[]string{"template", "status"},
		),
		NodeExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_execution_duration_seconds",
				Help:      "Duration of workflow node executions",
				Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"template"},
		),
		AgentExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_executions_total",
				Help:      "Finished agent executions by sandbox and status",
			},
			[]string{"sandbox", "status"},
		),
		AgentExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_execution_duration_seconds",
				Help:      "Duration of agent executions",
				Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"sandbox"},
		),
		TasksDispatchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_dispatched_total",
				Help:      "Background tasks handed to the dispatcher",
			},
			[]string{"type"},
		),
		TasksRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_rejected_total",
				Help:      "Background tasks the dispatcher refused",
			},
			[]string{"type"},
		),
		StatusCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_cache_requests_total",
				Help:      "Agent execution status cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) WorkflowStarted() {
	if m == nil {
		return
	}

	m.WorkflowExecutionsRunning.Inc()
}

func (m *Metrics) WorkflowFinished(status, triggeredBy string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.WorkflowExecutionsRunning.Dec()
	m.WorkflowExecutionsTotal.WithLabelValues(status, triggeredBy).Inc()
	m.WorkflowExecutionDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// WorkflowParked records a run that released its worker until a wait node resumes it.
func (m *Metrics) WorkflowParked() {
	if m == nil {
		return
	}

	m.WorkflowExecutionsRunning.Dec()
	m.WorkflowExecutionsParked.Inc()
}

func (m *Metrics) NodeFinished(template, status string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.NodeExecutionsTotal.WithLabelValues(template, status).Inc()
	m.NodeExecutionDuration.WithLabelValues(template).Observe(elapsed.Seconds())
}

func (m *Metrics) AgentFinished(sandbox, status string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.AgentExecutionsTotal.WithLabelValues(sandbox, status).Inc()
	m.AgentExecutionDuration.WithLabelValues(sandbox).Observe(elapsed.Seconds())
}

func (m *Metrics) TaskDispatched(taskType string) {
	if m == nil {
		return
	}

	m.TasksDispatchedTotal.WithLabelValues(taskType).Inc()
}

func (m *Metrics) TaskRejected(taskType string) {
	if m == nil {
		return
	}

	m.TasksRejectedTotal.WithLabelValues(taskType).Inc()
}

// CacheLookup records a status cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	m.StatusCacheTotal.WithLabelValues(result).Inc()
}
