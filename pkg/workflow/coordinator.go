package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/eventbus"
	"github.com/cortexbuild/cortexflow/pkg/events"
	"github.com/cortexbuild/cortexflow/pkg/metrics"
	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/nodes/trigger"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/cortexbuild/cortexflow/pkg/policy"
	"github.com/cortexbuild/cortexflow/pkg/services"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Values of executionData.triggeredBy for runs not started by a user.
const (
	TriggeredByScheduler = "scheduler"
	TriggeredByWebhook   = "webhook"
	TriggeredByDatabase  = "database"
)

// Options wires a Coordinator. Publisher, Tracer and Metrics are optional.
type Options struct {
	Persistence persistence.Persistence
	Workflows   *services.Workflow
	Nodes       NodeBuilder
	Dispatcher  tasks.Dispatcher
	Publisher   eventbus.EventPublisher
	Tracer      trace.Tracer
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Coordinator starts workflow executions and serves their history.
type Coordinator struct {
	persistence persistence.Persistence
	workflows   *services.Workflow
	dispatcher  tasks.Dispatcher
	publisher   eventbus.EventPublisher
	executor    *Executor
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{
		persistence: opts.Persistence,
		workflows:   opts.Workflows,
		dispatcher:  opts.Dispatcher,
		publisher:   opts.Publisher,
		executor: NewExecutor(
			opts.Nodes,
			opts.Persistence.Executions(),
			opts.Dispatcher,
			opts.Publisher,
			opts.Tracer,
			opts.Metrics,
			opts.Logger,
		),
		metrics: opts.Metrics,
		logger:  opts.Logger.With("module", "workflow_coordinator"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run starts a manual execution. The workflow must be visible to the actor
// and active; the traversal happens in the background.
func (c *Coordinator) Run(ctx context.Context, actor models.Actor, workflowID string, triggerData map[string]any) (*models.WorkflowExecution, error) {
	workflow, err := c.workflows.Authorize(ctx, actor, workflowID, policy.ActionRun)
	if err != nil {
		return nil, err
	}

	if !workflow.IsActive {
		return nil, &services.ServiceError{
			Op:      "run workflow",
			Code:    "inactive",
			Message: services.ErrWorkflowInactive.Error(),
			Err:     services.ErrWorkflowInactive,
		}
	}

	return c.start(ctx, workflow, actor.UserID, triggerData)
}

// RunScheduled starts an execution on behalf of the scheduler.
func (c *Coordinator) RunScheduled(ctx context.Context, workflowID string, scheduledAt time.Time) (*models.WorkflowExecution, error) {
	workflow, err := c.loadActive(ctx, "run scheduled workflow", workflowID)
	if err != nil {
		return nil, err
	}

	return c.start(ctx, workflow, TriggeredByScheduler, map[string]any{
		"scheduledAt": scheduledAt.UTC().Format(time.RFC3339),
	})
}

// RunWebhook starts an execution for an inbound request. The workflow must
// be active and own a webhook trigger matching method and path; anything
// else is reported as not found.
func (c *Coordinator) RunWebhook(ctx context.Context, workflowID, method, path string, payload map[string]any) (*models.WorkflowExecution, error) {
	workflow, err := c.loadActive(ctx, "run webhook", workflowID)
	if err != nil {
		if services.IsValidationError(err) {
			return nil, workflowNotFound("run webhook")
		}

		return nil, err
	}

	matched := false

	for _, node := range workflow.Nodes {
		if node.Template != models.TemplateWebhookTrigger {
			continue
		}

		cfg, err := trigger.DecodeWebhookConfig(node.Config)
		if err == nil && cfg.Matches(method, path) {
			matched = true

			break
		}
	}

	if !matched {
		return nil, workflowNotFound("run webhook")
	}

	if payload == nil {
		payload = map[string]any{}
	}

	payload["method"] = method
	payload["path"] = path

	return c.start(ctx, workflow, TriggeredByWebhook, payload)
}

// HandleRecordSaved starts the active workflows of the record's company whose
// database trigger matches it. The workflow that wrote the record is skipped.
func (c *Coordinator) HandleRecordSaved(ctx context.Context, event any) error {
	var record *models.WorkflowRecord

	switch e := event.(type) {
	case *events.RecordSaved:
		record = e.Record
	case events.RecordSaved:
		record = e.Record
	}

	if record == nil {
		c.logger.WarnContext(ctx, "Ignoring record saved event without record")

		return nil
	}

	workflows, err := c.persistence.Workflows().ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active workflows: %w", err)
	}

	for _, workflow := range workflows {
		if workflow.ID == record.WorkflowID || workflow.CompanyID != record.CompanyID {
			continue
		}

		if !hasDatabaseTrigger(workflow, record) {
			continue
		}

		_, err := c.start(ctx, workflow, TriggeredByDatabase, map[string]any{
			"table":    record.Table,
			"event":    record.Action,
			"recordId": record.ID,
			"record":   record.Data,
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "Failed to start database triggered workflow", "workflow_id", workflow.ID, "error", err)
		}
	}

	return nil
}

func hasDatabaseTrigger(workflow *models.Workflow, record *models.WorkflowRecord) bool {
	for _, node := range workflow.Nodes {
		if node.Template != models.TemplateDatabaseTrigger {
			continue
		}

		cfg, err := trigger.DecodeDatabaseConfig(node.Config)
		if err == nil && cfg.Matches(record) {
			return true
		}
	}

	return false
}

// GetExecutions returns the most recent executions of a workflow, newest first.
func (c *Coordinator) GetExecutions(ctx context.Context, actor models.Actor, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	workflow, err := c.workflows.Authorize(ctx, actor, workflowID, policy.ActionRead)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > persistence.DefaultExecutionLimit {
		limit = persistence.DefaultExecutionLimit
	}

	executions, err := c.persistence.Executions().ListByWorkflow(ctx, workflow.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// GetExecution returns an execution of the workflow with its logs in timestamp order.
func (c *Coordinator) GetExecution(ctx context.Context, actor models.Actor, workflowID, executionID string) (*models.ExecutionWithLogs, error) {
	execution, err := c.loadExecution(ctx, actor, workflowID, executionID, policy.ActionRead)
	if err != nil {
		return nil, err
	}

	logs, err := c.persistence.Executions().Logs(ctx, execution.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution logs: %w", err)
	}

	return &models.ExecutionWithLogs{WorkflowExecution: execution, Logs: logs}, nil
}

// Cancel fails a running execution with "execution cancelled" and interrupts its traversal.
func (c *Coordinator) Cancel(ctx context.Context, actor models.Actor, workflowID, executionID string) (*models.WorkflowExecution, error) {
	execution, err := c.loadExecution(ctx, actor, workflowID, executionID, policy.ActionCancel)
	if err != nil {
		return nil, err
	}

	if execution.Status.Terminal() {
		return nil, executionFinished("cancel execution")
	}

	changed, err := c.persistence.Executions().Finish(ctx, execution.ID, models.ExecutionStatusFailed, ErrExecutionCancelled.Error(), c.now())
	if err != nil {
		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}

	if !changed {
		return nil, executionFinished("cancel execution")
	}

	err = c.dispatcher.Cancel(ctx, execution.ID)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to interrupt cancelled execution", "execution_id", execution.ID, "error", err)
	}

	c.logger.InfoContext(ctx, "Execution cancelled", "workflow_id", workflowID, "execution_id", execution.ID, "user_id", actor.UserID)

	c.publish(ctx, workflowID, events.ExecutionFailed{
		BaseEvent:   events.NewBase(uuid.NewString(), events.ExecutionFailedEvent),
		WorkflowID:  workflowID,
		ExecutionID: execution.ID,
		Error:       ErrExecutionCancelled.Error(),
		Duration:    c.now().Sub(execution.StartedAt),
	})

	updated, err := c.persistence.Executions().Get(ctx, execution.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload execution: %w", err)
	}

	return updated, nil
}

// RecoverStale fails executions a previous process left unfinished.
func (c *Coordinator) RecoverStale(ctx context.Context) (int64, error) {
	count, err := c.persistence.Executions().FailStale(ctx, ErrExecutionInterrupted.Error(), c.now())
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale executions: %w", err)
	}

	if count > 0 {
		c.logger.WarnContext(ctx, "Failed stale executions", "count", count)
	}

	return count, nil
}

// ResumeParked schedules the executions parked on a wait node again. The
// in-process pool keeps its timers in memory, so a restart must re-arm them.
func (c *Coordinator) ResumeParked(ctx context.Context) (int, error) {
	parked, err := c.persistence.Executions().ListParked(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list parked executions: %w", err)
	}

	for _, execution := range parked {
		point, _ := execution.Resume()

		err := c.dispatcher.DispatchAt(ctx, tasks.Task{Type: tasks.TypeWorkflowRun, ID: execution.ID}, point.At)
		if err != nil {
			return 0, fmt.Errorf("failed to resume execution %s: %w", execution.ID, err)
		}
	}

	if len(parked) > 0 {
		c.logger.InfoContext(ctx, "Rescheduled parked executions", "count", len(parked))
	}

	return len(parked), nil
}

// Process is the task handler of workflow runs.
func (c *Coordinator) Process(ctx context.Context, task tasks.Task) error {
	logger := c.logger.With("execution_id", task.ID)

	execution, err := c.persistence.Executions().Get(ctx, task.ID)
	if err != nil {
		if persistence.IsNotFound(err) {
			logger.WarnContext(ctx, "Execution of dispatched task does not exist")

			return nil
		}

		return fmt.Errorf("failed to load execution: %w", err)
	}

	if execution.Status.Terminal() {
		logger.InfoContext(ctx, "Execution already finished, skipping", "status", execution.Status)

		return nil
	}

	logs, err := c.persistence.Executions().Logs(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to load execution logs: %w", err)
	}

	// Only a run parked on a wait node continues from its logs; any other
	// redelivered task whose traversal already started cannot resume.
	if _, parked := execution.Resume(); len(logs) > 0 && !parked {
		return c.fail(ctx, execution, ErrExecutionInterrupted.Error())
	}

	workflow, err := c.persistence.Workflows().Get(ctx, execution.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return c.fail(ctx, execution, services.ErrWorkflowNotFound.Error())
		}

		return fmt.Errorf("failed to load workflow: %w", err)
	}

	return c.executor.Execute(ctx, workflow, execution, logs)
}

func (c *Coordinator) start(ctx context.Context, workflow *models.Workflow, triggeredBy string, triggerData map[string]any) (*models.WorkflowExecution, error) {
	execution := &models.WorkflowExecution{
		ID:            uuid.NewString(),
		WorkflowID:    workflow.ID,
		Status:        models.ExecutionStatusRunning,
		StartedAt:     c.now(),
		ExecutionData: models.NewExecutionData(triggeredBy, triggerData),
	}

	err := c.persistence.Executions().Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	logger := c.logger.With("workflow_id", workflow.ID, "execution_id", execution.ID, "triggered_by", triggeredBy)

	err = c.dispatcher.Dispatch(ctx, tasks.Task{Type: tasks.TypeWorkflowRun, ID: execution.ID})
	if err != nil {
		c.metrics.TaskRejected(tasks.TypeWorkflowRun)
		logger.ErrorContext(ctx, "Failed to dispatch execution", "error", err)

		failErr := c.fail(ctx, execution, "failed to dispatch execution: "+err.Error())
		if failErr != nil {
			logger.ErrorContext(ctx, "Failed to fail undispatched execution", "error", failErr)
		}

		return nil, fmt.Errorf("failed to dispatch execution: %w", err)
	}

	c.metrics.TaskDispatched(tasks.TypeWorkflowRun)
	logger.InfoContext(ctx, "Execution dispatched")

	c.publish(ctx, workflow.ID, events.ExecutionStarted{
		BaseEvent:   events.NewBase(uuid.NewString(), events.ExecutionStartedEvent),
		WorkflowID:  workflow.ID,
		ExecutionID: execution.ID,
		TriggeredBy: triggeredBy,
	})

	return execution, nil
}

func (c *Coordinator) fail(ctx context.Context, execution *models.WorkflowExecution, message string) error {
	_, err := c.persistence.Executions().Finish(context.WithoutCancel(ctx), execution.ID, models.ExecutionStatusFailed, message, c.now())
	if err != nil {
		return fmt.Errorf("failed to fail execution %s: %w", execution.ID, err)
	}

	return nil
}

func (c *Coordinator) loadActive(ctx context.Context, op, workflowID string) (*models.Workflow, error) {
	workflow, err := c.persistence.Workflows().Get(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, workflowNotFound(op)
		}

		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if !workflow.IsActive {
		return nil, &services.ServiceError{
			Op:      op,
			Code:    "inactive",
			Message: services.ErrWorkflowInactive.Error(),
			Err:     services.ErrWorkflowInactive,
		}
	}

	return workflow, nil
}

func (c *Coordinator) loadExecution(
	ctx context.Context,
	actor models.Actor,
	workflowID, executionID string,
	action policy.Action,
) (*models.WorkflowExecution, error) {
	workflow, err := c.workflows.Authorize(ctx, actor, workflowID, action)
	if err != nil {
		return nil, err
	}

	execution, err := c.persistence.Executions().Get(ctx, executionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, executionNotFound(string(action) + " execution")
		}

		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if execution.WorkflowID != workflow.ID {
		return nil, executionNotFound(string(action) + " execution")
	}

	return execution, nil
}

func (c *Coordinator) publish(ctx context.Context, key string, event eventbus.Event) {
	if c.publisher == nil {
		return
	}

	err := c.publisher.Publish(ctx, key, event)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish event", "type", event.GetType(), "error", err)
	}
}
