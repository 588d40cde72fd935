package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// QueueName is the asynq queue every task is enqueued on.
const QueueName = "cortexflow"

// AsynqDispatcher enqueues tasks to Redis for cortexflow-worker.
type AsynqDispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	timeout   time.Duration
}

func NewAsynqDispatcher(opt asynq.RedisConnOpt, timeout time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		timeout:   timeout,
	}
}

// Dispatch enqueues task with the execution id as asynq task id, so
// dispatching the same execution twice enqueues it once.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, task Task) error {
	return d.enqueue(ctx, task, asynq.TaskID(task.ID))
}

// DispatchAt schedules task in Redis. The asynq task id carries the due time
// so a resumed execution does not collide with the task that parked it.
func (d *AsynqDispatcher) DispatchAt(ctx context.Context, task Task, at time.Time) error {
	return d.enqueue(ctx, task, asynq.TaskID(resumeTaskID(task.ID, at)), asynq.ProcessAt(at))
}

func (d *AsynqDispatcher) enqueue(ctx context.Context, task Task, extra ...asynq.Option) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueName),
		asynq.MaxRetry(0),
		asynq.Retention(24 * time.Hour),
	}

	if d.timeout > 0 {
		opts = append(opts, asynq.Timeout(d.timeout))
	}

	opts = append(opts, extra...)

	_, err = d.client.EnqueueContext(ctx, asynq.NewTask(task.Type, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("could not enqueue %s task: %w", task.Type, err)
	}

	return nil
}

// Cancel interrupts the active task of an execution, including one that
// resumed from a wait.
func (d *AsynqDispatcher) Cancel(_ context.Context, id string) error {
	err := d.inspector.CancelProcessing(id)
	if err != nil {
		return fmt.Errorf("failed to cancel task %s: %w", id, err)
	}

	active, err := d.inspector.ListActiveTasks(QueueName, asynq.PageSize(activeScanSize))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to list active tasks: %w", err)
	}

	for _, info := range active {
		if !strings.HasPrefix(info.ID, id+"@") {
			continue
		}

		err := d.inspector.CancelProcessing(info.ID)
		if err != nil {
			return fmt.Errorf("failed to cancel task %s: %w", info.ID, err)
		}
	}

	return nil
}

const activeScanSize = 500

func resumeTaskID(id string, at time.Time) string {
	return id + "@" + strconv.FormatInt(at.Unix(), 10)
}

func (d *AsynqDispatcher) Close() error {
	return errors.Join(d.client.Close(), d.inspector.Close())
}

// AsynqServer consumes the queue and routes tasks through a Mux.
type AsynqServer struct {
	logger *slog.Logger
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewAsynqServer(logger *slog.Logger, opt asynq.RedisConnOpt, concurrency int, mux *Mux) *AsynqServer {
	logger = logger.With("module", "asynq_server")

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      &asynqLogger{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.ErrorContext(ctx, "Task failed", "type", task.Type(), "error", err)
		}),
	})

	serveMux := asynq.NewServeMux()

	handler := asynqHandler(mux)
	for _, taskType := range mux.Types() {
		serveMux.HandleFunc(taskType, handler)
	}

	return &AsynqServer{logger: logger, server: server, mux: serveMux}
}

// Run processes tasks until ctx is done.
func (s *AsynqServer) Run(ctx context.Context) error {
	err := s.server.Start(s.mux)
	if err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}

	s.logger.InfoContext(ctx, "Asynq server started", "queue", QueueName)

	<-ctx.Done()

	s.server.Shutdown()
	s.logger.Info("Asynq server stopped")

	return nil
}

func asynqHandler(mux *Mux) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var task Task

		err := json.Unmarshal(t.Payload(), &task)
		if err != nil {
			return fmt.Errorf("failed to decode task: %w: %w", err, asynq.SkipRetry)
		}

		task.Type = t.Type()

		err = mux.Process(ctx, task)
		if err != nil {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}

		return nil
	}
}

type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
