package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/eventbus"
	"github.com/cortexbuild/cortexflow/pkg/metrics"
	"github.com/cortexbuild/cortexflow/pkg/nodes/email"
	"github.com/cortexbuild/cortexflow/pkg/otelhelper"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/cortexbuild/cortexflow/pkg/sandbox"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// StoreFlags are the flags every binary needs to reach persistence and the event bus.
func StoreFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database URL (postgres://... or file://<dir>)",
			Value:   "file://./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (memory, kafka)",
			Value:   "memory",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// EngineFlags configure the node collaborators, the agent sandbox and task dispatch.
func EngineFlags() []cli.Flag {
	pool := tasks.DefaultPoolConfig()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "policy-file",
			Usage:   "YAML capability table overriding the built-in policy",
			Sources: cli.EnvVars("POLICY_FILE"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing node plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.StringFlag{
			Name:    "queue",
			Usage:   "Task dispatch (memory, redis)",
			Value:   "memory",
			Sources: cli.EnvVars("QUEUE_TYPE"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the task queue and the status cache",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Concurrent task workers",
			Value:   pool.Workers,
			Sources: cli.EnvVars("WORKERS"),
		},
		&cli.IntFlag{
			Name:    "queue-size",
			Usage:   "Pending tasks accepted by the in-process queue",
			Value:   pool.QueueSize,
			Sources: cli.EnvVars("QUEUE_SIZE"),
		},
		&cli.DurationFlag{
			Name:    "execution-timeout",
			Usage:   "Upper bound of a workflow run or agent execution",
			Value:   pool.Timeout,
			Sources: cli.EnvVars("EXECUTION_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "status-cache-ttl",
			Usage:   "Lifetime of cached finished agent executions",
			Value:   10 * time.Minute,
			Sources: cli.EnvVars("STATUS_CACHE_TTL"),
		},
		&cli.StringFlag{
			Name:    "sandbox",
			Usage:   "Agent sandbox (echo, javascript)",
			Value:   sandbox.KindEcho,
			Sources: cli.EnvVars("AGENT_SANDBOX"),
		},
		&cli.IntFlag{
			Name:    "sandbox-max-call-stack",
			Usage:   "Call stack limit of the javascript sandbox",
			Value:   1024,
			Sources: cli.EnvVars("AGENT_SANDBOX_MAX_CALL_STACK"),
		},
		&cli.DurationFlag{
			Name:    "http-timeout",
			Usage:   "Timeout of HTTP request nodes",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("HTTP_NODE_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP relay host; email nodes only log messages when empty",
			Sources: cli.EnvVars("SMTP_HOST"),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Sources: cli.EnvVars("SMTP_PORT"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Sources: cli.EnvVars("SMTP_USERNAME"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Sources: cli.EnvVars("SMTP_PASSWORD"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Value:   "noreply@cortexbuild.local",
			Sources: cli.EnvVars("SMTP_FROM"),
		},
	}
}

// Stack holds the process-wide infrastructure of a binary.
type Stack struct {
	Logger      *slog.Logger
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Tracer      trace.Tracer
	Metrics     *metrics.Metrics
	Registry    *prometheus.Registry

	shutdownTracer otelhelper.ShutdownFunc
}

// OpenStack connects persistence, the event bus and the tracer named by the StoreFlags.
func OpenStack(ctx context.Context, logger *slog.Logger, command *cli.Command, service string) (*Stack, error) {
	p, err := NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	bus, err := NewEventBus(logger, command.String("event-bus"), command.String("kafka-brokers"), service)
	if err != nil {
		_ = p.Close(ctx)

		return nil, err
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, service, command.Bool("otel"))
	if err != nil {
		_ = bus.Close()
		_ = p.Close(ctx)

		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Stack{
		Logger:         logger,
		Persistence:    p,
		EventBus:       bus,
		Tracer:         tracer,
		Metrics:        metrics.New(registry),
		Registry:       registry,
		shutdownTracer: shutdown,
	}, nil
}

// Close releases the stack, logging every failure.
func (s *Stack) Close(ctx context.Context) {
	if err := s.shutdownTracer(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
	}

	if err := s.EventBus.Close(); err != nil {
		s.Logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := s.Persistence.Close(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}

// EngineConfig builds the engine configuration from the EngineFlags. The
// dispatcher is chosen by the caller.
func (s *Stack) EngineConfig(ctx context.Context, command *cli.Command, dispatcher tasks.Dispatcher) (EngineConfig, error) {
	rules, err := NewPolicy(command.String("policy-file"))
	if err != nil {
		return EngineConfig{}, err
	}

	box, err := sandbox.New(sandbox.Config{
		Kind:             command.String("sandbox"),
		MaxCallStackSize: command.Int("sandbox-max-call-stack"),
	})
	if err != nil {
		return EngineConfig{}, err
	}

	statusCache, err := NewStatusCache(ctx, command.String("redis-url"), command.Duration("status-cache-ttl"))
	if err != nil {
		return EngineConfig{}, err
	}

	return EngineConfig{
		Persistence: s.Persistence,
		EventBus:    s.EventBus,
		Policy:      rules,
		Nodes: NodeOptions{
			PluginsPath: command.String("plugins-path"),
			HTTPTimeout: command.Duration("http-timeout"),
			SMTP: email.SMTPConfig{
				Host:     command.String("smtp-host"),
				Port:     command.Int("smtp-port"),
				Username: command.String("smtp-username"),
				Password: command.String("smtp-password"),
				From:     command.String("smtp-from"),
			},
		},
		Sandbox:    box,
		Cache:      statusCache,
		Dispatcher: dispatcher,
		Tracer:     s.Tracer,
		Metrics:    s.Metrics,
	}, nil
}

// PoolConfig reads the in-process pool settings from the EngineFlags.
func PoolConfig(command *cli.Command) tasks.PoolConfig {
	return tasks.PoolConfig{
		Workers:   command.Int("workers"),
		QueueSize: command.Int("queue-size"),
		Timeout:   command.Duration("execution-timeout"),
	}
}
