package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/eventbus"
	"github.com/cortexbuild/cortexflow/pkg/events"
	"github.com/cortexbuild/cortexflow/pkg/graph"
	"github.com/cortexbuild/cortexflow/pkg/metrics"
	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/otelhelper"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// errStopped ends a traversal whose execution was finished by someone else.
	errStopped = errors.New("execution already finished")
	// errParked ends a traversal that released its worker at a wait node.
	errParked = errors.New("execution parked")
)

// NodeBuilder constructs executable nodes from their definitions.
type NodeBuilder interface {
	CreateNode(ctx context.Context, node *models.WorkflowNode) (protocol.Node, error)
}

// Executor walks a workflow graph for one execution.
type Executor struct {
	nodes      NodeBuilder
	executions persistence.ExecutionRepository
	dispatcher tasks.Dispatcher
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewExecutor(
	nodes NodeBuilder,
	executions persistence.ExecutionRepository,
	dispatcher tasks.Dispatcher,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	metrics *metrics.Metrics,
	logger *slog.Logger,
) *Executor {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Executor{
		nodes:      nodes,
		executions: executions,
		dispatcher: dispatcher,
		publisher:  publisher,
		tracer:     tracer,
		metrics:    metrics,
		logger:     logger.With("module", "workflow_executor"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Execute traverses the workflow and writes the execution's terminal state.
// Node failures are recorded on the execution; the returned error reports
// storage failures only. logs are the entries of a run resuming from a wait
// node; those nodes are replayed, not run again.
func (e *Executor) Execute(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	logs []*models.ExecutionLog,
) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.CompanyIDKey, workflow.CompanyID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.TriggeredByKey, execution.TriggeredBy()),
	)
	defer span.End()

	logger := e.logger.With("workflow_id", workflow.ID, "execution_id", execution.ID)
	logger.InfoContext(ctx, "Starting workflow execution")

	started := e.now()

	e.metrics.WorkflowStarted()

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		logger.ErrorContext(ctx, "Workflow execution panicked", "panic", r)
		e.metrics.WorkflowFinished(string(models.ExecutionStatusFailed), execution.TriggeredBy(), e.now().Sub(started))

		message := fmt.Sprintf("%s: %v", ErrExecutionPanicked, r)

		_, err := e.executions.Finish(context.WithoutCancel(ctx), execution.ID, models.ExecutionStatusFailed, message, e.now())
		if err != nil {
			logger.ErrorContext(ctx, "Failed to finish panicked execution", "error", err)
		}
	}()

	failure := e.traverse(ctx, logger, workflow, execution, logs)
	if errors.Is(failure, errParked) {
		e.metrics.WorkflowParked()

		return nil
	}

	if errors.Is(failure, errStopped) {
		logger.InfoContext(ctx, "Execution was finished elsewhere, stopping")
		e.metrics.WorkflowFinished(string(models.ExecutionStatusFailed), execution.TriggeredBy(), e.now().Sub(started))

		return nil
	}

	status := models.ExecutionStatusCompleted
	message := ""

	if failure != nil {
		status = models.ExecutionStatusFailed
		message = failure.Error()

		otelhelper.SetError(span, failure)
	}

	// The terminal write must land even when ctx ended the traversal.
	finishCtx := context.WithoutCancel(ctx)
	completedAt := e.now()
	elapsed := completedAt.Sub(started)

	e.metrics.WorkflowFinished(string(status), execution.TriggeredBy(), elapsed)

	changed, err := e.executions.Finish(finishCtx, execution.ID, status, message, completedAt)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to finish execution", "error", err)

		return fmt.Errorf("failed to finish execution %s: %w", execution.ID, err)
	}

	if !changed {
		logger.InfoContext(ctx, "Execution already finished, keeping its terminal state", "status", status)

		return nil
	}

	logger.InfoContext(ctx, "Workflow execution finished", "status", status, "duration", elapsed, "error", message)

	e.publishFinished(finishCtx, workflow, execution, failure, elapsed)

	return nil
}

func (e *Executor) traverse(
	ctx context.Context,
	logger *slog.Logger,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	logs []*models.ExecutionLog,
) error {
	order, err := graph.TopologicalOrder(workflow)
	if err != nil {
		return err
	}

	executionCtx := &models.ExecutionContext{
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		CompanyID:   workflow.CompanyID,
		TriggeredBy: execution.TriggeredBy(),
		Trigger:     execution.TriggerData(),
		NodeResults: make(map[string]any, len(order)),
	}

	activated := make(map[string]bool, len(order))
	for _, root := range graph.Roots(workflow) {
		activated[root.ID] = true
	}

	visited := make(map[string]*models.ExecutionLog, len(logs))
	for _, entry := range logs {
		visited[entry.NodeID] = entry
	}

	point, parked := execution.Resume()

	// A failed node deactivates only its own descendants; the execution
	// fails with the first node error once every reachable node ran.
	var failure error

	for _, node := range order {
		if !activated[node.ID] {
			continue
		}

		if entry, ok := visited[node.ID]; ok {
			if entry.Status == models.ExecutionStatusFailed {
				if failure == nil {
					failure = errors.New(entry.ErrorMessage)
				}

				continue
			}

			executionCtx.NodeResults[node.ID] = entry.Data
			activate(workflow, node, replayed(node, entry), activated)

			continue
		}

		if ctx.Err() != nil {
			return interruption(ctx)
		}

		err := e.checkRunning(ctx, execution.ID)
		if err != nil {
			return err
		}

		var result models.NodeResult

		if parked && node.ID == point.NodeID {
			result, err = e.resume(ctx, logger, execution, node, point)
		} else {
			result, err = e.visit(ctx, logger, node, executionCtx)
		}

		if err != nil {
			var failed *nodeError
			if !errors.As(err, &failed) {
				return err
			}

			if failure == nil {
				failure = failed.err
			}

			continue
		}

		if !result.ResumeAt.IsZero() {
			return e.park(ctx, logger, execution, node, result.ResumeAt)
		}

		executionCtx.NodeResults[node.ID] = result.Data
		activate(workflow, node, result, activated)
	}

	return failure
}

func activate(workflow *models.Workflow, node *models.WorkflowNode, result models.NodeResult, activated map[string]bool) {
	for _, conn := range graph.Outgoing(workflow, node.ID) {
		if node.Type == models.NodeTypeCondition && branch(conn) != result.Branch {
			continue
		}

		activated[conn.To] = true
	}
}

// replayed rebuilds the result of a node visited before the run parked.
func replayed(node *models.WorkflowNode, entry *models.ExecutionLog) models.NodeResult {
	result := models.NodeResult{Data: entry.Data}

	if node.Type == models.NodeTypeCondition {
		result.Branch = models.BranchFalse
		if matched, _ := entry.Data["result"].(bool); matched {
			result.Branch = models.BranchTrue
		}
	}

	return result
}

// park stores the resume point of the wait node and schedules the run to
// continue at resumeAt. The worker is released when the traversal returns.
func (e *Executor) park(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
	resumeAt time.Time,
) error {
	ctx = context.WithoutCancel(ctx)
	point := models.ResumePoint{NodeID: node.ID, Since: e.now(), At: resumeAt.UTC()}

	ok, err := e.executions.Park(ctx, execution.ID, point)
	if err != nil {
		return fmt.Errorf("failed to park execution: %w", err)
	}

	if !ok {
		return errStopped
	}

	err = e.dispatcher.DispatchAt(ctx, tasks.Task{Type: tasks.TypeWorkflowRun, ID: execution.ID}, point.At)
	if err != nil {
		return fmt.Errorf("failed to schedule resume of execution: %w", err)
	}

	logger.InfoContext(ctx, "Execution parked", "node_id", node.ID, "resume_at", point.At)

	return errParked
}

// resume completes the wait node a parked run stopped at.
func (e *Executor) resume(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.WorkflowExecution,
	node *models.WorkflowNode,
	point models.ResumePoint,
) (models.NodeResult, error) {
	now := e.now()

	if now.Before(point.At) {
		logger.InfoContext(ctx, "Execution resumed early, parking again", "resume_at", point.At)

		err := e.dispatcher.DispatchAt(context.WithoutCancel(ctx), tasks.Task{Type: tasks.TypeWorkflowRun, ID: execution.ID}, point.At)
		if err != nil {
			return models.NodeResult{}, fmt.Errorf("failed to schedule resume of execution: %w", err)
		}

		return models.NodeResult{}, errParked
	}

	claimed, err := e.executions.Unpark(ctx, execution.ID)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to unpark execution: %w", err)
	}

	if !claimed {
		return models.NodeResult{}, errStopped
	}

	waited := now.Sub(point.Since)
	entry := &models.ExecutionLog{
		ID:          uuid.NewString(),
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		Status:      models.ExecutionStatusCompleted,
		Timestamp:   now,
		Data:        map[string]any{"waitedMs": waited.Milliseconds()},
	}

	e.metrics.NodeFinished(node.Template, string(entry.Status), waited)

	err = e.executions.AppendLog(context.WithoutCancel(ctx), entry)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to record log of node %s: %w", node.ID, err)
	}

	logger.InfoContext(ctx, "Execution resumed", "node_id", node.ID, "waited", waited)

	return models.NodeResult{Data: entry.Data}, nil
}

// checkRunning stops the traversal when the execution was cancelled from
// another process.
func (e *Executor) checkRunning(ctx context.Context, executionID string) error {
	current, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to reload execution: %w", err)
	}

	if current.Status.Terminal() {
		return errStopped
	}

	return nil
}

// visit runs one node and appends its log. The returned error is the message
// the execution fails with.
func (e *Executor) visit(
	ctx context.Context,
	logger *slog.Logger,
	node *models.WorkflowNode,
	executionCtx *models.ExecutionContext,
) (models.NodeResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTemplateKey, node.Template),
	)
	defer span.End()

	logger = logger.With("node_id", node.ID, "template", node.Template)
	started := e.now()

	interrupted := false

	result, err := e.run(ctx, node, executionCtx)
	if err != nil && ctx.Err() != nil {
		err = interruption(ctx)
		interrupted = true

		// A cancelled execution is already terminal; its trail stays as it was.
		if errors.Is(err, ErrExecutionCancelled) {
			return models.NodeResult{}, err
		}
	}

	// A wait node is logged when the run resumes.
	if err == nil && !result.ResumeAt.IsZero() {
		return result, nil
	}

	entry := &models.ExecutionLog{
		ID:          uuid.NewString(),
		ExecutionID: executionCtx.ExecutionID,
		NodeID:      node.ID,
		Status:      models.ExecutionStatusCompleted,
		Timestamp:   e.now(),
		Data:        result.Data,
	}

	if err != nil {
		entry.Status = models.ExecutionStatusFailed
		entry.Data = nil
		entry.ErrorMessage = err.Error()

		otelhelper.SetError(span, err)
		logger.WarnContext(ctx, "Node failed", "error", err)
	} else {
		logger.DebugContext(ctx, "Node completed")
	}

	e.metrics.NodeFinished(node.Template, string(entry.Status), entry.Timestamp.Sub(started))

	appendErr := e.executions.AppendLog(context.WithoutCancel(ctx), entry)
	if appendErr != nil {
		return models.NodeResult{}, fmt.Errorf("failed to record log of node %s: %w", node.ID, appendErr)
	}

	if err != nil && !interrupted {
		return result, &nodeError{err: err}
	}

	return result, err
}

// nodeError is a failure of the node itself, as opposed to an interruption
// or a storage failure that ends the whole traversal.
type nodeError struct {
	err error
}

func (e *nodeError) Error() string { return e.err.Error() }

func (e *nodeError) Unwrap() error { return e.err }

func (e *Executor) run(ctx context.Context, node *models.WorkflowNode, executionCtx *models.ExecutionContext) (models.NodeResult, error) {
	instance, err := e.nodes.CreateNode(ctx, node)
	if err != nil {
		return models.NodeResult{}, err
	}

	result, err := instance.Execute(ctx, executionCtx)
	if err != nil {
		return models.NodeResult{}, err
	}

	if result.Data == nil {
		result.Data = map[string]any{}
	}

	return result, nil
}

func (e *Executor) publishFinished(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	failure error,
	elapsed time.Duration,
) {
	if e.publisher == nil {
		return
	}

	var event eventbus.Event = events.ExecutionCompleted{
		BaseEvent:   events.NewBase(uuid.NewString(), events.ExecutionCompletedEvent),
		WorkflowID:  workflow.ID,
		ExecutionID: execution.ID,
		Duration:    elapsed,
	}

	if failure != nil {
		event = events.ExecutionFailed{
			BaseEvent:   events.NewBase(uuid.NewString(), events.ExecutionFailedEvent),
			WorkflowID:  workflow.ID,
			ExecutionID: execution.ID,
			Error:       failure.Error(),
			Duration:    elapsed,
		}
	}

	err := e.publisher.Publish(ctx, workflow.ID, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish execution event", "execution_id", execution.ID, "error", err)
	}
}

// branch is the label of a connection; unlabeled edges count as true.
func branch(conn *models.Connection) string {
	if conn.Condition == "" {
		return models.BranchTrue
	}

	return conn.Condition
}
