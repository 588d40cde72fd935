// Package main runs the trigger process: cron schedules and database record
// triggers, enqueueing the runs they start.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"

	"github.com/cortexbuild/cortexflow/pkg/cmd"
	"github.com/cortexbuild/cortexflow/pkg/events"
	"github.com/cortexbuild/cortexflow/pkg/log"
	"github.com/cortexbuild/cortexflow/pkg/scheduler"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	_ = godotenv.Load()

	flags := []cli.Flag{
		&cli.DurationFlag{
			Name:    "resync-interval",
			Usage:   "Interval of the full resync against persistence",
			Value:   scheduler.DefaultResyncInterval,
			Sources: cli.EnvVars("SCHEDULER_RESYNC_INTERVAL"),
		},
	}
	flags = append(flags, cmd.StoreFlags()...)
	flags = append(flags, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  "cortexflow-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Fire schedule and database triggers of active workflows",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, command)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("cortexflow-scheduler").Error("Scheduler stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("cortexflow-scheduler")
	logger.InfoContext(ctx, "Initializing CortexFlow Scheduler")

	stack, err := cmd.OpenStack(ctx, logger, command, "cortexflow-scheduler")
	if err != nil {
		return err
	}
	defer stack.Close(context.WithoutCancel(ctx))

	mux := tasks.NewMux()

	var (
		dispatcher tasks.Dispatcher
		pool       *tasks.Pool
	)

	if command.String("queue") == "redis" {
		opt, err := cmd.RedisConnOpt(command.String("redis-url"))
		if err != nil {
			return err
		}

		dispatcher = tasks.NewAsynqDispatcher(opt, command.Duration("execution-timeout"))
	} else {
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
		pool.Start()
	}

	sched := scheduler.New(stack.Persistence.Workflows(), engine.Coordinator, command.Duration("resync-interval"), logger)

	for _, eventType := range []events.EventType{events.WorkflowSavedEvent, events.WorkflowDeletedEvent} {
		err = stack.EventBus.Handle(eventType, sched.HandleWorkflowEvent)
		if err != nil {
			return err
		}
	}

	err = stack.EventBus.Handle(events.RecordSavedEvent, engine.Coordinator.HandleRecordSaved)
	if err != nil {
		return err
	}

	err = stack.EventBus.Subscribe(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	err = sched.Start(ctx)
	if err != nil {
		return err
	}
	defer sched.Stop()

	<-ctx.Done()
	logger.Info("Shutting down scheduler")

	return nil
}
