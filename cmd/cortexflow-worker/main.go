// Package main runs the background worker consuming workflow runs and agent
// executions from the Redis task queue.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/cortexbuild/cortexflow/pkg/cmd"
	"github.com/cortexbuild/cortexflow/pkg/log"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	_ = godotenv.Load()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port serving /metrics; disabled when 0",
			Sources: cli.EnvVars("METRICS_PORT"),
		},
	}
	flags = append(flags, cmd.StoreFlags()...)
	flags = append(flags, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  "cortexflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Execute queued workflow runs and agent executions",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, command)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("cortexflow-worker").Error("Worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("cortexflow-worker").With("workerId", workerID)
	logger.InfoContext(ctx, "Initializing CortexFlow Worker")

	opt, err := cmd.RedisConnOpt(command.String("redis-url"))
	if err != nil {
		return err
	}

	stack, err := cmd.OpenStack(ctx, logger, command, "cortexflow-worker")
	if err != nil {
		return err
	}
	defer stack.Close(context.WithoutCancel(ctx))

	dispatcher := tasks.NewAsynqDispatcher(opt, command.Duration("execution-timeout"))
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

	mux := tasks.NewMux()

	_, err = cmd.NewEngine(logger, cfg, mux)
	if err != nil {
		return err
	}

	if port := command.Int("metrics-port"); port > 0 {
		go serveMetrics(ctx, stack, port)
	}

	return tasks.NewAsynqServer(logger, opt, command.Int("workers"), mux).Run(ctx)
}

func serveMetrics(ctx context.Context, stack *cmd.Stack, port int) {
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           stack.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		_ = server.Shutdown(context.WithoutCancel(ctx))
	}()

	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		stack.Logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
	}
}
