package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/jmoiron/sqlx"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

type workflowRow struct {
	ID          string                             `db:"id"`
	Name        string                             `db:"name"`
	Description string                             `db:"description"`
	Nodes       jsonColumn[[]*models.WorkflowNode] `db:"nodes"`
	Connections jsonColumn[[]*models.Connection]   `db:"connections"`
	IsActive    bool                               `db:"is_active"`
	CompanyID   string                             `db:"company_id"`
	CreatedBy   string                             `db:"created_by"`
	CreatedAt   time.Time                          `db:"created_at"`
	UpdatedAt   time.Time                          `db:"updated_at"`
}

func (r workflowRow) model() *models.Workflow {
	nodes := r.Nodes.V
	if nodes == nil {
		nodes = []*models.WorkflowNode{}
	}

	connections := r.Connections.V
	if connections == nil {
		connections = []*models.Connection{}
	}

	return &models.Workflow{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Nodes:       nodes,
		Connections: connections,
		IsActive:    r.IsActive,
		CompanyID:   r.CompanyID,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

const workflowColumns = `id, name, description, nodes, connections, is_active, company_id, created_by, created_at, updated_at`

// List returns the workflows passing filter, newest first.
func (r *WorkflowRepository) List(ctx context.Context, filter persistence.TenantFilter) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	args := []any{}

	if !filter.All {
		query += ` WHERE company_id = $1 AND company_id <> ''`

		args = append(args, filter.CompanyID)
	}

	query += ` ORDER BY created_at DESC`

	return r.selectWorkflows(ctx, query, args...)
}

func (r *WorkflowRepository) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	return r.selectWorkflows(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE is_active ORDER BY created_at`)
}

func (r *WorkflowRepository) selectWorkflows(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	var rows []workflowRow

	err := r.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(rows))
	for _, row := range rows {
		workflows = append(workflows, row.model())
	}

	return workflows, nil
}

func (r *WorkflowRepository) Get(ctx context.Context, id string) (*models.Workflow, error) {
	var row workflowRow

	err := r.db.GetContext(ctx, &row, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewOpError("get", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return row.model(), nil
}

// Save inserts or fully replaces a workflow.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	row := workflowRow{
		ID:          workflow.ID,
		Name:        workflow.Name,
		Description: workflow.Description,
		Nodes:       jsonColumn[[]*models.WorkflowNode]{V: workflow.Nodes},
		Connections: jsonColumn[[]*models.Connection]{V: workflow.Connections},
		IsActive:    workflow.IsActive,
		CompanyID:   workflow.CompanyID,
		CreatedBy:   workflow.CreatedBy,
		CreatedAt:   workflow.CreatedAt,
		UpdatedAt:   workflow.UpdatedAt,
	}

	if row.Nodes.V == nil {
		row.Nodes.V = []*models.WorkflowNode{}
	}

	if row.Connections.V == nil {
		row.Connections.V = []*models.Connection{}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES (:id, :name, :description, :nodes, :connections, :is_active, :company_id, :created_by, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , nodes = EXCLUDED.nodes
		  , connections = EXCLUDED.connections
		  , is_active = EXCLUDED.is_active
		  , updated_at = EXCLUDED.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	deleted, err := changed(result)
	if err != nil {
		return err
	}

	if !deleted {
		return persistence.NewOpError("delete", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}
