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

// AgentExecutionRepository stores asynchronous agent runs.
type AgentExecutionRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

type agentExecutionRow struct {
	ID           string                     `db:"id"`
	AgentID      string                     `db:"agent_id"`
	UserID       string                     `db:"user_id"`
	CompanyID    string                     `db:"company_id"`
	Input        jsonColumn[map[string]any] `db:"input"`
	Output       jsonColumn[map[string]any] `db:"output"`
	Status       string                     `db:"status"`
	ErrorMessage string                     `db:"error_message"`
	StartedAt    time.Time                  `db:"started_at"`
	CompletedAt  sql.NullTime               `db:"completed_at"`
	DurationMs   sql.NullInt64              `db:"duration_ms"`
}

func (r agentExecutionRow) model() *models.AgentExecution {
	execution := &models.AgentExecution{
		ID:           r.ID,
		AgentID:      r.AgentID,
		UserID:       r.UserID,
		CompanyID:    r.CompanyID,
		Input:        r.Input.V,
		Output:       r.Output.V,
		Status:       models.ExecutionStatus(r.Status),
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt.UTC(),
	}

	if r.CompletedAt.Valid {
		completedAt := r.CompletedAt.Time.UTC()
		execution.CompletedAt = &completedAt
	}

	if r.DurationMs.Valid {
		duration := r.DurationMs.Int64
		execution.Duration = &duration
	}

	return execution
}

const agentExecutionColumns = `id, agent_id, user_id, company_id, input, output, status, error_message, started_at, completed_at, duration_ms`

func (r *AgentExecutionRepository) Create(ctx context.Context, execution *models.AgentExecution) error {
	input := execution.Input
	if input == nil {
		input = map[string]any{}
	}

	var output any
	if execution.Output != nil {
		output = jsonColumn[map[string]any]{V: execution.Output}
	}

	var duration sql.NullInt64
	if execution.Duration != nil {
		duration = sql.NullInt64{Int64: *execution.Duration, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_executions (`+agentExecutionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		execution.ID,
		execution.AgentID,
		execution.UserID,
		execution.CompanyID,
		jsonColumn[map[string]any]{V: input},
		output,
		string(execution.Status),
		execution.ErrorMessage,
		execution.StartedAt,
		nullTime(execution.CompletedAt),
		duration,
	)
	if err != nil {
		return fmt.Errorf("failed to create agent execution: %w", err)
	}

	return nil
}

func (r *AgentExecutionRepository) Get(ctx context.Context, id string) (*models.AgentExecution, error) {
	var row agentExecutionRow

	err := r.db.GetContext(ctx, &row, `SELECT `+agentExecutionColumns+` FROM agent_executions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewOpError("get", "agent execution", id, persistence.ErrAgentExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get agent execution: %w", err)
	}

	return row.model(), nil
}

func (r *AgentExecutionRepository) ListByAgentAndUser(ctx context.Context, agentID, userID string, limit int) ([]*models.AgentExecution, error) {
	if limit <= 0 {
		limit = persistence.DefaultExecutionLimit
	}

	var rows []agentExecutionRow

	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+agentExecutionColumns+`
		FROM agent_executions
		WHERE agent_id = $1 AND user_id = $2
		ORDER BY started_at DESC
		LIMIT $3
	`, agentID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent executions: %w", err)
	}

	executions := make([]*models.AgentExecution, 0, len(rows))
	for _, row := range rows {
		executions = append(executions, row.model())
	}

	return executions, nil
}

func (r *AgentExecutionRepository) MarkRunning(ctx context.Context, id string) (bool, error) {
	return r.update(ctx, `
		UPDATE agent_executions SET status = 'running'
		WHERE id = $1 AND status = 'pending'
	`, id)
}

func (r *AgentExecutionRepository) Complete(ctx context.Context, id string, output map[string]any, completedAt time.Time, durationMs int64) (bool, error) {
	return r.update(ctx, `
		UPDATE agent_executions
		SET status = 'completed', output = $2, completed_at = $3, duration_ms = $4
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id, jsonColumn[map[string]any]{V: output}, completedAt, durationMs)
}

func (r *AgentExecutionRepository) Fail(ctx context.Context, id, errorMessage string, completedAt time.Time, durationMs *int64) (bool, error) {
	var duration sql.NullInt64
	if durationMs != nil {
		duration = sql.NullInt64{Int64: *durationMs, Valid: true}
	}

	return r.update(ctx, `
		UPDATE agent_executions
		SET status = 'failed', error_message = $2, completed_at = $3, duration_ms = $4
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id, errorMessage, completedAt, duration)
}

func (r *AgentExecutionRepository) FailStale(ctx context.Context, errorMessage string, completedAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE agent_executions
		SET status = 'failed', error_message = $1, completed_at = $2
		WHERE status IN ('pending', 'running')
	`, errorMessage, completedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale agent executions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return count, nil
}

func (r *AgentExecutionRepository) update(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update agent execution: %w", err)
	}

	return changed(result)
}
