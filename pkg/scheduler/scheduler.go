// Package scheduler fires active workflows whose schedule triggers are due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/events"
	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/nodes/trigger"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// DefaultResyncInterval bounds how long a missed lifecycle event can leave the schedule stale.
const DefaultResyncInterval = time.Minute

// Runner starts scheduled executions.
type Runner interface {
	RunScheduled(ctx context.Context, workflowID string, scheduledAt time.Time) (*models.WorkflowExecution, error)
}

type entry struct {
	spec string
	id   cron.EntryID
}

type Scheduler struct {
	workflows persistence.WorkflowRepository
	runner    Runner
	logger    *slog.Logger
	cron      *cron.Cron
	interval  time.Duration

	mu      sync.Mutex
	ctx     context.Context //nolint:containedctx // jobs outlive the call that registered them
	entries map[string][]entry
}

func New(workflows persistence.WorkflowRepository, runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultResyncInterval
	}

	logger = logger.With("module", "scheduler")
	cronLog := cronLogger{logger: logger}

	return &Scheduler{
		workflows: workflows,
		runner:    runner,
		logger:    logger,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLog), cron.Recover(cronLog))),
		interval:  interval,
		ctx:       context.Background(),
		entries:   make(map[string][]entry),
	}
}

// Start loads the schedule, starts the cron loop and resyncs every interval
// until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	err := s.Sync(ctx)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "workflows", s.size())

	go s.resync(ctx)

	return nil
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) resync(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.Sync(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to resync schedules", "error", err)
			}
		}
	}
}

// Sync reconciles the registered jobs with every active workflow.
func (s *Scheduler) Sync(ctx context.Context) error {
	workflows, err := s.workflows.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active workflows: %w", err)
	}

	seen := make(map[string]struct{}, len(workflows))

	for _, workflow := range workflows {
		seen[workflow.ID] = struct{}{}
		s.apply(ctx, workflow.ID, s.specs(ctx, workflow))
	}

	s.mu.Lock()
	stale := make([]string, 0)

	for id := range s.entries {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.apply(ctx, id, nil)
	}

	return nil
}

// SyncWorkflow reconciles the jobs of a single workflow.
func (s *Scheduler) SyncWorkflow(ctx context.Context, workflowID string) error {
	workflow, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			s.apply(ctx, workflowID, nil)

			return nil
		}

		return fmt.Errorf("failed to get workflow: %w", err)
	}

	var specs []string
	if workflow.IsActive {
		specs = s.specs(ctx, workflow)
	}

	s.apply(ctx, workflowID, specs)

	return nil
}

// HandleWorkflowEvent keeps the schedule current as workflows change.
func (s *Scheduler) HandleWorkflowEvent(ctx context.Context, event any) error {
	switch e := event.(type) {
	case *events.WorkflowSaved:
		return s.SyncWorkflow(ctx, e.WorkflowID)
	case events.WorkflowSaved:
		return s.SyncWorkflow(ctx, e.WorkflowID)
	case *events.WorkflowDeleted:
		s.apply(ctx, e.WorkflowID, nil)
	case events.WorkflowDeleted:
		s.apply(ctx, e.WorkflowID, nil)
	default:
		s.logger.WarnContext(ctx, "Ignoring unexpected event", "type", fmt.Sprintf("%T", event))
	}

	return nil
}

// Specs returns the cron specs registered for a workflow.
func (s *Scheduler) Specs(workflowID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	specs := make([]string, 0, len(s.entries[workflowID]))
	for _, e := range s.entries[workflowID] {
		specs = append(specs, e.spec)
	}

	return specs
}

func (s *Scheduler) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Scheduler) specs(ctx context.Context, workflow *models.Workflow) []string {
	specs := make([]string, 0)

	for _, node := range workflow.Nodes {
		if node.Template != models.TemplateScheduleTrigger {
			continue
		}

		spec, err := trigger.CronSpec(node.Config)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping invalid schedule", "workflow_id", workflow.ID, "node_id", node.ID, "error", err)

			continue
		}

		if !slices.Contains(specs, spec) {
			specs = append(specs, spec)
		}
	}

	slices.Sort(specs)

	return specs
}

func (s *Scheduler) apply(ctx context.Context, workflowID string, specs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.entries[workflowID]
	if slices.EqualFunc(current, specs, func(e entry, spec string) bool { return e.spec == spec }) {
		return
	}

	for _, e := range current {
		s.cron.Remove(e.id)
	}

	delete(s.entries, workflowID)

	if len(specs) == 0 {
		if len(current) > 0 {
			s.logger.InfoContext(ctx, "Unscheduled workflow", "workflow_id", workflowID)
		}

		return
	}

	registered := make([]entry, 0, len(specs))

	for _, spec := range specs {
		id, err := s.cron.AddFunc(spec, func() { s.fire(workflowID) })
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to schedule workflow", "workflow_id", workflowID, "spec", spec, "error", err)

			continue
		}

		registered = append(registered, entry{spec: spec, id: id})
	}

	if len(registered) > 0 {
		s.entries[workflowID] = registered
		s.logger.InfoContext(ctx, "Scheduled workflow", "workflow_id", workflowID, "specs", specs)
	}
}

func (s *Scheduler) fire(workflowID string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	execution, err := s.runner.RunScheduled(ctx, workflowID, time.Now().UTC().Truncate(time.Minute))
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to run scheduled workflow", "workflow_id", workflowID, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Started scheduled workflow", "workflow_id", workflowID, "execution_id", execution.ID)
}

// cronLogger routes cron's own diagnostics to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
