package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/events"
	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (r *recordingRunner) RunScheduled(_ context.Context, workflowID string, _ time.Time) (*models.WorkflowExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}

	r.runs = append(r.runs, workflowID)

	return &models.WorkflowExecution{ID: "exec-" + workflowID, WorkflowID: workflowID}, nil
}

func (r *recordingRunner) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.runs...)
}

func scheduledWorkflow(id string, active bool, configs ...map[string]any) *models.Workflow {
	nodes := make([]*models.WorkflowNode, 0, len(configs)+1)
	for i, config := range configs {
		nodes = append(nodes, &models.WorkflowNode{
			ID:       "cron-" + string(rune('a'+i)),
			Type:     models.NodeTypeTrigger,
			Template: models.TemplateScheduleTrigger,
			Config:   config,
		})
	}

	nodes = append(nodes, &models.WorkflowNode{
		ID:       "note",
		Type:     models.NodeTypeAction,
		Template: models.TemplateLog,
		Config:   map[string]any{"message": "tick"},
	})

	now := time.Now().UTC()

	return &models.Workflow{
		ID:        id,
		Name:      "Workflow " + id,
		Nodes:     nodes,
		IsActive:  active,
		CompanyID: "company-a",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newScheduler(t *testing.T) (*Scheduler, *file.Persistence, *recordingRunner) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	runner := &recordingRunner{}
	s := New(p.Workflows(), runner, time.Hour, slog.New(slog.DiscardHandler))

	return s, p, runner
}

func TestScheduler_Sync(t *testing.T) {
	t.Parallel()

	s, p, _ := newScheduler(t)
	ctx := t.Context()

	require.NoError(t, p.Workflows().Save(ctx, scheduledWorkflow("daily", true,
		map[string]any{"schedule": "daily", "time": "07:30"},
		map[string]any{"schedule": "daily", "time": "07:30"},
		map[string]any{"schedule": "weekly", "time": "16:00", "dayOfWeek": 5},
	)))
	require.NoError(t, p.Workflows().Save(ctx, scheduledWorkflow("paused", false, map[string]any{"schedule": "hourly", "time": "00:15"})))
	require.NoError(t, p.Workflows().Save(ctx, scheduledWorkflow("broken", true, map[string]any{"schedule": "cron", "cron": "not a spec"})))
	require.NoError(t, p.Workflows().Save(ctx, scheduledWorkflow("manual", true)))

	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Stop)

	assert.Equal(t, []string{"0 16 * * 5", "30 7 * * *"}, s.Specs("daily"))
	assert.Empty(t, s.Specs("paused"))
	assert.Empty(t, s.Specs("broken"))
	assert.Empty(t, s.Specs("manual"))

	for _, e := range s.cron.Entries() {
		assert.False(t, e.Next.IsZero())
	}

	require.NoError(t, p.Workflows().Delete(ctx, "daily"))
	require.NoError(t, s.Sync(ctx))
	assert.Empty(t, s.Specs("daily"))
	assert.Empty(t, s.cron.Entries())
}

func TestScheduler_HandleWorkflowEvent(t *testing.T) {
	t.Parallel()

	s, p, _ := newScheduler(t)
	ctx := t.Context()

	workflow := scheduledWorkflow("wf-1", true, map[string]any{"schedule": "hourly", "time": "00:05"})
	require.NoError(t, p.Workflows().Save(ctx, workflow))

	require.NoError(t, s.HandleWorkflowEvent(ctx, &events.WorkflowSaved{WorkflowID: "wf-1"}))
	assert.Equal(t, []string{"5 * * * *"}, s.Specs("wf-1"))

	workflow.Nodes[0].Config = map[string]any{"schedule": "cron", "cron": "*/10 6-18 * * 1-5", "timezone": "America/Chicago"}
	require.NoError(t, p.Workflows().Save(ctx, workflow))
	require.NoError(t, s.HandleWorkflowEvent(ctx, events.WorkflowSaved{WorkflowID: "wf-1"}))
	assert.Equal(t, []string{"CRON_TZ=America/Chicago */10 6-18 * * 1-5"}, s.Specs("wf-1"))
	assert.Len(t, s.cron.Entries(), 1)

	workflow.IsActive = false
	require.NoError(t, p.Workflows().Save(ctx, workflow))
	require.NoError(t, s.HandleWorkflowEvent(ctx, &events.WorkflowSaved{WorkflowID: "wf-1"}))
	assert.Empty(t, s.Specs("wf-1"))

	workflow.IsActive = true
	require.NoError(t, p.Workflows().Save(ctx, workflow))
	require.NoError(t, s.SyncWorkflow(ctx, "wf-1"))
	require.NotEmpty(t, s.Specs("wf-1"))

	require.NoError(t, s.HandleWorkflowEvent(ctx, &events.WorkflowDeleted{WorkflowID: "wf-1"}))
	assert.Empty(t, s.Specs("wf-1"))
	assert.Empty(t, s.cron.Entries())

	require.NoError(t, s.HandleWorkflowEvent(ctx, "unexpected"))
	require.NoError(t, s.SyncWorkflow(ctx, "missing"))
}

func TestScheduler_Fire(t *testing.T) {
	t.Parallel()

	s, _, runner := newScheduler(t)

	s.fire("wf-1")
	assert.Equal(t, []string{"wf-1"}, runner.calls())

	runner.err = errors.New("workflow is not active")
	s.fire("wf-2")
	assert.Equal(t, []string{"wf-1"}, runner.calls())
}
