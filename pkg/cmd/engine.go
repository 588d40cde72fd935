package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/cache"
	"github.com/cortexbuild/cortexflow/pkg/eventbus"
	"github.com/cortexbuild/cortexflow/pkg/metrics"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/cortexbuild/cortexflow/pkg/policy"
	"github.com/cortexbuild/cortexflow/pkg/registry"
	"github.com/cortexbuild/cortexflow/pkg/runtime"
	"github.com/cortexbuild/cortexflow/pkg/sandbox"
	"github.com/cortexbuild/cortexflow/pkg/services"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/cortexbuild/cortexflow/pkg/workflow"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

// EngineConfig carries the shared dependencies of the API and the worker.
type EngineConfig struct {
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Policy      *policy.Policy
	Nodes       NodeOptions
	Sandbox     sandbox.Sandbox
	Cache       cache.StatusCache
	Dispatcher  tasks.Dispatcher
	Tracer      trace.Tracer
	Metrics     *metrics.Metrics
}

// Engine is the wired service layer.
type Engine struct {
	Registry    *registry.Registry
	Workflows   *services.Workflow
	Agents      *services.Agents
	Coordinator *workflow.Coordinator
	Runtime     *runtime.Runtime
}

// NewEngine builds the services and registers their task handlers on mux.
func NewEngine(logger *slog.Logger, cfg EngineConfig, mux *tasks.Mux) (*Engine, error) {
	nodes := cfg.Nodes
	nodes.Records = workflow.NewRecordWriter(cfg.Persistence.Records(), cfg.EventBus, logger)

	reg, err := NewRegistry(logger, nodes)
	if err != nil {
		return nil, err
	}

	workflows := services.NewWorkflow(cfg.Persistence, reg, cfg.Policy, cfg.EventBus, logger)

	coordinator := workflow.NewCoordinator(workflow.Options{
		Persistence: cfg.Persistence,
		Workflows:   workflows,
		Nodes:       reg,
		Dispatcher:  cfg.Dispatcher,
		Publisher:   cfg.EventBus,
		Tracer:      cfg.Tracer,
		Metrics:     cfg.Metrics,
		Logger:      logger,
	})

	rt := runtime.New(runtime.Options{
		Persistence: cfg.Persistence,
		Policy:      cfg.Policy,
		Sandbox:     cfg.Sandbox,
		Dispatcher:  cfg.Dispatcher,
		Cache:       cfg.Cache,
		Publisher:   cfg.EventBus,
		Tracer:      cfg.Tracer,
		Metrics:     cfg.Metrics,
		Logger:      logger,
	})

	mux.Handle(tasks.TypeWorkflowRun, coordinator.Process)
	mux.Handle(tasks.TypeAgentExecute, rt.Process)

	return &Engine{
		Registry:    reg,
		Workflows:   workflows,
		Agents:      services.NewAgents(cfg.Persistence, cfg.Policy, logger),
		Coordinator: coordinator,
		Runtime:     rt,
	}, nil
}

// RecoverStale fails the workflow and agent executions a previous in-process
// run left unfinished and reschedules the workflow runs parked on a wait node.
func (e *Engine) RecoverStale(ctx context.Context) error {
	_, err := e.Coordinator.RecoverStale(ctx)
	if err != nil {
		return err
	}

	_, err = e.Coordinator.ResumeParked(ctx)
	if err != nil {
		return err
	}

	_, err = e.Runtime.RecoverStale(ctx)

	return err
}

// NewPolicy loads the capability table from path, or the embedded default when path is empty.
func NewPolicy(path string) (*policy.Policy, error) {
	if path == "" {
		return policy.Default(), nil
	}

	p, err := policy.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	return p, nil
}

// NewStatusCache connects the Redis status cache when redisURL is set and
// falls back to an in-process cache otherwise.
func NewStatusCache(ctx context.Context, redisURL string, ttl time.Duration) (cache.StatusCache, error) {
	if redisURL == "" {
		return cache.NewMemory(ttl), nil
	}

	c, err := cache.NewRedis(ctx, redisURL, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect status cache: %w", err)
	}

	return c, nil
}

var errMissingRedisURL = errors.New("a redis URL is required for the redis queue")

// RedisConnOpt parses a redis:// URL for asynq.
//
// nolint:ireturn // asynq takes the interface
func RedisConnOpt(redisURL string) (asynq.RedisConnOpt, error) {
	if redisURL == "" {
		return nil, errMissingRedisURL
	}

	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return opt, nil
}
