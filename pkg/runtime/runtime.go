// Package runtime executes marketplace agents asynchronously on behalf of
// their subscribers and serves the status of those executions.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/cache"
	"github.com/cortexbuild/cortexflow/pkg/eventbus"
	"github.com/cortexbuild/cortexflow/pkg/events"
	"github.com/cortexbuild/cortexflow/pkg/metrics"
	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/otelhelper"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/cortexbuild/cortexflow/pkg/policy"
	"github.com/cortexbuild/cortexflow/pkg/sandbox"
	"github.com/cortexbuild/cortexflow/pkg/services"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultListLimit = 50
	AcceptedMessage  = "Agent execution started"
)

// StatusURL is where clients poll an execution.
func StatusURL(executionID string) string {
	return "/agents/executions/" + executionID
}

// Options wires a Runtime. Cache, Publisher, Tracer and Metrics are optional.
type Options struct {
	Persistence persistence.Persistence
	Policy      *policy.Policy
	Sandbox     sandbox.Sandbox
	Dispatcher  tasks.Dispatcher
	Cache       cache.StatusCache
	Publisher   eventbus.EventPublisher
	Tracer      trace.Tracer
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type Runtime struct {
	persistence persistence.Persistence
	policy      *policy.Policy
	sandbox     sandbox.Sandbox
	dispatcher  tasks.Dispatcher
	cache       cache.StatusCache
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func New(opts Options) *Runtime {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	box := opts.Sandbox
	if box == nil {
		box = sandbox.NewEcho()
	}

	return &Runtime{
		persistence: opts.Persistence,
		policy:      opts.Policy,
		sandbox:     box,
		dispatcher:  opts.Dispatcher,
		cache:       opts.Cache,
		publisher:   opts.Publisher,
		tracer:      tracer,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("module", "agent_runtime"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Execute records a pending execution of the agent with input and hands it
// to the dispatcher. The caller needs an active subscription and input must
// be a JSON object satisfying the agent's inputSchema, if any.
func (r *Runtime) Execute(ctx context.Context, actor models.Actor, agentID string, input any) (*models.AgentExecution, error) {
	document, ok := input.(map[string]any)
	if !ok || document == nil {
		return nil, serviceError("execute agent", "invalid_input", services.ErrInvalidAgentInput)
	}

	agent, err := r.loadAgent(ctx, "execute agent", agentID)
	if err != nil {
		return nil, err
	}

	if !r.policy.Allows(actor, models.ResourceAgent, policy.ActionExecute) {
		return nil, forbidden("execute agent", services.ErrForbidden)
	}

	_, err = r.persistence.Subscriptions().FindActive(ctx, agent.ID, actor.UserID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, forbidden("execute agent", services.ErrNotSubscribed)
		}

		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}

	err = validateInput(agent, document)
	if err != nil {
		return nil, err
	}

	execution := &models.AgentExecution{
		ID:        uuid.NewString(),
		AgentID:   agent.ID,
		UserID:    actor.UserID,
		CompanyID: actor.CompanyID,
		Input:     document,
		Status:    models.ExecutionStatusPending,
		StartedAt: r.now(),
	}

	err = r.persistence.AgentExecutions().Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent execution: %w", err)
	}

	logger := r.logger.With("agent_id", agent.ID, "agent_execution_id", execution.ID, "user_id", actor.UserID)

	err = r.dispatcher.Dispatch(ctx, tasks.Task{Type: tasks.TypeAgentExecute, ID: execution.ID})
	if err != nil {
		r.metrics.TaskRejected(tasks.TypeAgentExecute)
		logger.ErrorContext(ctx, "Failed to dispatch agent execution", "error", err)

		_, failErr := r.persistence.AgentExecutions().Fail(context.WithoutCancel(ctx), execution.ID,
			"failed to dispatch execution: "+err.Error(), r.now(), nil)
		if failErr != nil {
			logger.ErrorContext(ctx, "Failed to fail undispatched agent execution", "error", failErr)
		}

		return nil, fmt.Errorf("failed to dispatch agent execution: %w", err)
	}

	r.metrics.TaskDispatched(tasks.TypeAgentExecute)
	logger.InfoContext(ctx, "Agent execution dispatched")

	return execution, nil
}

func validateInput(agent *models.Agent, input map[string]any) error {
	schema, ok := agent.Config[services.InputSchemaKey]
	if !ok || schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(input))
	if err != nil {
		return fmt.Errorf("failed to validate agent input: %w", err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		messages = append(messages, resultErr.String())
	}

	return services.NewValidationErrors(messages...)
}

// GetStatus returns an execution the actor started. Finished executions are
// served from the status cache when one is configured.
func (r *Runtime) GetStatus(ctx context.Context, actor models.Actor, executionID string) (*models.AgentExecution, error) {
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, executionID)

		switch {
		case err == nil:
			r.metrics.CacheLookup(true)

			return r.authorize(actor, cached, policy.ActionRead, "get agent execution")
		case !errors.Is(err, cache.ErrMiss):
			r.logger.WarnContext(ctx, "Failed to read status cache", "agent_execution_id", executionID, "error", err)
		}

		r.metrics.CacheLookup(false)
	}

	execution, err := r.load(ctx, "get agent execution", executionID)
	if err != nil {
		return nil, err
	}

	execution, err = r.authorize(actor, execution, policy.ActionRead, "get agent execution")
	if err != nil {
		return nil, err
	}

	r.remember(ctx, execution)

	return execution, nil
}

// ListExecutions returns the actor's own executions of an agent, newest first.
// The actor must have subscribed to the agent at some point.
func (r *Runtime) ListExecutions(ctx context.Context, actor models.Actor, agentID string, limit int) ([]*models.AgentExecution, error) {
	agent, err := r.loadAgent(ctx, "list agent executions", agentID)
	if err != nil {
		return nil, err
	}

	subscribed, err := r.persistence.Subscriptions().HasAny(ctx, agent.ID, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}

	if !subscribed || actor.UserID == "" {
		return nil, forbidden("list agent executions", services.ErrNotSubscribed)
	}

	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}

	executions, err := r.persistence.AgentExecutions().ListByAgentAndUser(ctx, agent.ID, actor.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent executions: %w", err)
	}

	return executions, nil
}

// Cancel fails an unfinished execution the actor started.
func (r *Runtime) Cancel(ctx context.Context, actor models.Actor, executionID string) (*models.AgentExecution, error) {
	const op = "cancel agent execution"

	execution, err := r.load(ctx, op, executionID)
	if err != nil {
		return nil, err
	}

	execution, err = r.authorize(actor, execution, policy.ActionCancel, op)
	if err != nil {
		return nil, err
	}

	if execution.Status.Terminal() {
		return nil, serviceError(op, "conflict", services.ErrExecutionFinished)
	}

	now := r.now()
	duration := now.Sub(execution.StartedAt).Milliseconds()

	changed, err := r.persistence.AgentExecutions().Fail(ctx, execution.ID, ErrExecutionCancelled.Error(), now, &duration)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel agent execution: %w", err)
	}

	if !changed {
		return nil, serviceError(op, "conflict", services.ErrExecutionFinished)
	}

	err = r.dispatcher.Cancel(ctx, execution.ID)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to interrupt agent execution", "agent_execution_id", execution.ID, "error", err)
	}

	finished, err := r.load(ctx, op, execution.ID)
	if err != nil {
		return nil, err
	}

	r.finished(ctx, finished)

	return finished, nil
}

// RecoverStale fails executions left unfinished by a previous process.
func (r *Runtime) RecoverStale(ctx context.Context) (int64, error) {
	count, err := r.persistence.AgentExecutions().FailStale(ctx, ErrExecutionInterrupted.Error(), r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale agent executions: %w", err)
	}

	if count > 0 {
		r.logger.WarnContext(ctx, "Failed stale agent executions", "count", count)
	}

	return count, nil
}

// Process is the task handler of agent executions. The execution moves from
// pending to running, runs once in the sandbox and is finished exactly once.
func (r *Runtime) Process(ctx context.Context, task tasks.Task) error {
	logger := r.logger.With("agent_execution_id", task.ID)

	execution, err := r.persistence.AgentExecutions().Get(ctx, task.ID)
	if err != nil {
		if persistence.IsNotFound(err) {
			logger.WarnContext(ctx, "Agent execution of dispatched task does not exist")

			return nil
		}

		return fmt.Errorf("failed to load agent execution: %w", err)
	}

	if execution.Status.Terminal() {
		logger.InfoContext(ctx, "Agent execution already finished, skipping", "status", execution.Status)

		return nil
	}

	started, err := r.persistence.AgentExecutions().MarkRunning(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to mark agent execution running: %w", err)
	}

	// A running row seen here belongs to a run that never finished.
	if !started {
		return r.fail(ctx, execution, ErrExecutionInterrupted.Error(), nil)
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "agent.execute",
		attribute.String(otelhelper.AgentIDKey, execution.AgentID),
		attribute.String(otelhelper.AgentExecutionIDKey, execution.ID),
		attribute.String(otelhelper.CompanyIDKey, execution.CompanyID),
	)
	defer span.End()

	begin := time.Now()

	defer func() {
		p := recover()
		if p == nil {
			return
		}

		logger.ErrorContext(ctx, "Agent execution panicked", "panic", p)
		r.metrics.AgentFinished(r.sandbox.Kind(), string(models.ExecutionStatusFailed), time.Since(begin))

		durationMs := time.Since(begin).Milliseconds()

		err := r.fail(ctx, execution, fmt.Sprintf("%s: %v", ErrExecutionPanicked, p), &durationMs)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to fail panicked agent execution", "error", err)
		}
	}()

	output, runErr := r.run(ctx, execution)
	elapsed := time.Since(begin)
	durationMs := elapsed.Milliseconds()

	if runErr != nil {
		if ctx.Err() != nil {
			runErr = interruption(ctx)
		}

		otelhelper.SetError(span, runErr)
		logger.WarnContext(ctx, "Agent execution failed", "error", runErr)
		r.metrics.AgentFinished(r.sandbox.Kind(), string(models.ExecutionStatusFailed), elapsed)

		return r.fail(ctx, execution, runErr.Error(), &durationMs)
	}

	changed, err := r.persistence.AgentExecutions().Complete(context.WithoutCancel(ctx), execution.ID, output, r.now(), durationMs)
	if err != nil {
		return fmt.Errorf("failed to complete agent execution: %w", err)
	}

	if !changed {
		logger.InfoContext(ctx, "Agent execution finished elsewhere, dropping result")

		return nil
	}

	r.metrics.AgentFinished(r.sandbox.Kind(), string(models.ExecutionStatusCompleted), elapsed)
	logger.InfoContext(ctx, "Agent execution completed", "duration_ms", durationMs)

	r.reloadFinished(ctx, execution.ID)

	return nil
}

func (r *Runtime) run(ctx context.Context, execution *models.AgentExecution) (map[string]any, error) {
	agent, err := r.persistence.Agents().Get(ctx, execution.AgentID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, services.ErrAgentNotFound
		}

		return nil, fmt.Errorf("failed to load agent: %w", err)
	}

	config := make(map[string]any, len(agent.Config))
	maps.Copy(config, agent.Config)

	subscription, err := r.persistence.Subscriptions().FindActive(ctx, agent.ID, execution.UserID)
	switch {
	case err == nil:
		maps.Copy(config, subscription.Config)
	case persistence.IsNotFound(err):
	default:
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	return r.sandbox.Run(ctx, sandbox.Request{Code: agent.Code, Input: execution.Input, Config: config})
}

func (r *Runtime) fail(ctx context.Context, execution *models.AgentExecution, message string, durationMs *int64) error {
	changed, err := r.persistence.AgentExecutions().Fail(context.WithoutCancel(ctx), execution.ID, message, r.now(), durationMs)
	if err != nil {
		return fmt.Errorf("failed to fail agent execution %s: %w", execution.ID, err)
	}

	if changed {
		r.reloadFinished(ctx, execution.ID)
	}

	return nil
}

func (r *Runtime) reloadFinished(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)

	execution, err := r.persistence.AgentExecutions().Get(ctx, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to reload finished agent execution", "agent_execution_id", id, "error", err)

		return
	}

	r.finished(ctx, execution)
}

func (r *Runtime) finished(ctx context.Context, execution *models.AgentExecution) {
	r.remember(ctx, execution)

	if r.publisher == nil {
		return
	}

	err := r.publisher.Publish(ctx, execution.AgentID, events.AgentExecutionFinished{
		BaseEvent:        events.NewBase(uuid.NewString(), events.AgentExecutionFinishedEvent),
		AgentExecutionID: execution.ID,
		AgentID:          execution.AgentID,
		UserID:           execution.UserID,
		Status:           execution.Status,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish event", "type", events.AgentExecutionFinishedEvent, "error", err)
	}
}

func (r *Runtime) remember(ctx context.Context, execution *models.AgentExecution) {
	if r.cache == nil || !execution.Status.Terminal() {
		return
	}

	err := r.cache.Set(ctx, execution)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to cache agent execution", "agent_execution_id", execution.ID, "error", err)
	}
}

func (r *Runtime) authorize(actor models.Actor, execution *models.AgentExecution, action policy.Action, op string) (*models.AgentExecution, error) {
	if !r.policy.CanAccess(actor, execution.Resource(), action) {
		return nil, forbidden(op, services.ErrForbidden)
	}

	return execution, nil
}

func (r *Runtime) load(ctx context.Context, op, id string) (*models.AgentExecution, error) {
	execution, err := r.persistence.AgentExecutions().Get(ctx, id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, notFound(op, services.ErrAgentExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to get agent execution: %w", err)
	}

	return execution, nil
}

func (r *Runtime) loadAgent(ctx context.Context, op, id string) (*models.Agent, error) {
	agent, err := r.persistence.Agents().Get(ctx, id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, notFound(op, services.ErrAgentNotFound)
		}

		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	return agent, nil
}
