package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"

	"github.com/cortexbuild/cortexflow/pkg/auth"
	"github.com/cortexbuild/cortexflow/pkg/cmd"
	"github.com/cortexbuild/cortexflow/pkg/events"
	"github.com/cortexbuild/cortexflow/pkg/log"
	"github.com/cortexbuild/cortexflow/pkg/scheduler"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/cortexbuild/cortexflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	_ = godotenv.Load()

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:    "scheduler",
			Usage:   "Fire schedule and database triggers inside the API process",
			Sources: cli.EnvVars("EMBEDDED_SCHEDULER"),
		},
		&cli.DurationFlag{
			Name:    "scheduler-resync",
			Usage:   "Interval of the scheduler's full resync",
			Value:   scheduler.DefaultResyncInterval,
			Sources: cli.EnvVars("SCHEDULER_RESYNC_INTERVAL"),
		},
	}
	flags = append(flags, jwtFlags()...)
	flags = append(flags, cmd.StoreFlags()...)
	flags = append(flags, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  "cortexflow-api",
		Usage:                 "Serve the workflow and agent marketplace API",
		EnableShellCompletion: true,
		Flags:                 flags,
		Commands:              []*cli.Command{tokenCommand()},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, command)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("cortexflow-api").Error("API stopped", "error", err)
		os.Exit(1)
	}
}

func jwtFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "jwt-secret",
			Usage:    "HS256 secret of access tokens",
			Required: true,
			Sources:  cli.EnvVars("JWT_SECRET"),
		},
		&cli.StringFlag{
			Name:    "jwt-issuer",
			Usage:   "Expected issuer of access tokens",
			Value:   auth.DefaultIssuer,
			Sources: cli.EnvVars("JWT_ISSUER"),
		},
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("cortexflow-api")
	logger.InfoContext(ctx, "Initializing CortexFlow API")

	authenticator, err := auth.NewAuthenticator(command.String("jwt-secret"), command.String("jwt-issuer"))
	if err != nil {
		return err
	}

	stack, err := cmd.OpenStack(ctx, logger, command, "cortexflow-api")
	if err != nil {
		return err
	}
	defer stack.Close(context.WithoutCancel(ctx))

	mux := tasks.NewMux()

	var (
		dispatcher tasks.Dispatcher
		pool       *tasks.Pool
	)

	switch command.String("queue") {
	case "redis":
		opt, err := cmd.RedisConnOpt(command.String("redis-url"))
		if err != nil {
			return err
		}

		dispatcher = tasks.NewAsynqDispatcher(opt, command.Duration("execution-timeout"))
	default:
		pool = tasks.NewPool(logger, mux.Process, cmd.PoolConfig(command))
		dispatcher = pool
	}

	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close task dispatcher", "error", err)
		}
	}()

	cfg, err := stack.EngineConfig(ctx, command, dispatcher)
	if err != nil {
		return err
	}
	defer func() { _ = cfg.Cache.Close() }()

	engine, err := cmd.NewEngine(logger, cfg, mux)
	if err != nil {
		return err
	}

	if pool != nil {
		// Nothing else runs in-process tasks, so unfinished rows are orphans.
		err = engine.RecoverStale(ctx)
		if err != nil {
			return err
		}

		pool.Start()
	}

	if command.Bool("scheduler") {
		err = stack.EventBus.Handle(events.RecordSavedEvent, engine.Coordinator.HandleRecordSaved)
		if err != nil {
			return err
		}

		sched := scheduler.New(stack.Persistence.Workflows(), engine.Coordinator, command.Duration("scheduler-resync"), logger)

		for _, eventType := range []events.EventType{events.WorkflowSavedEvent, events.WorkflowDeletedEvent} {
			err = stack.EventBus.Handle(eventType, sched.HandleWorkflowEvent)
			if err != nil {
				return err
			}
		}

		err = sched.Start(ctx)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	err = stack.EventBus.Subscribe(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	handlers := web.NewAPIHandlers(
		engine.Workflows,
		engine.Coordinator,
		engine.Agents,
		engine.Runtime,
		validator.New(validator.WithRequiredStructEnabled()),
		logger,
	)

	api := NewAPI(logger, handlers, authenticator, stack.Metrics)

	return api.Start(ctx, command.Int("port"))
}
