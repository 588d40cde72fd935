package file

import (
	"context"
	"sort"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
)

type workflowRepository struct {
	fp *Persistence
}

func (r *workflowRepository) List(_ context.Context, filter persistence.TenantFilter) ([]*models.Workflow, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	all, err := readAll[models.Workflow](r.fp, workflowsDir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if filter.Matches(workflow.CompanyID) {
			workflows = append(workflows, workflow)
		}
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *workflowRepository) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	all, err := r.List(ctx, persistence.TenantFilter{All: true})
	if err != nil {
		return nil, err
	}

	active := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if workflow.IsActive {
			active = append(active, workflow)
		}
	}

	return active, nil
}

func (r *workflowRepository) Get(_ context.Context, id string) (*models.Workflow, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	var workflow models.Workflow

	err := r.fp.read(workflowsDir, id, &workflow, persistence.ErrWorkflowNotFound)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (r *workflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return r.fp.write(workflowsDir, workflow.ID, workflow)
}

func (r *workflowRepository) Delete(_ context.Context, id string) error {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	return r.fp.remove(workflowsDir, id, persistence.ErrWorkflowNotFound)
}
