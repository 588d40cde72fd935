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

// ExecutionRepository stores workflow executions and their node logs.
type ExecutionRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

type executionRow struct {
	ID            string                     `db:"id"`
	WorkflowID    string                     `db:"workflow_id"`
	Status        string                     `db:"status"`
	StartedAt     time.Time                  `db:"started_at"`
	CompletedAt   sql.NullTime               `db:"completed_at"`
	ErrorMessage  string                     `db:"error_message"`
	ExecutionData jsonColumn[map[string]any] `db:"execution_data"`
}

func (r executionRow) model() *models.WorkflowExecution {
	execution := &models.WorkflowExecution{
		ID:            r.ID,
		WorkflowID:    r.WorkflowID,
		Status:        models.ExecutionStatus(r.Status),
		StartedAt:     r.StartedAt.UTC(),
		ErrorMessage:  r.ErrorMessage,
		ExecutionData: r.ExecutionData.V,
	}

	if r.CompletedAt.Valid {
		completedAt := r.CompletedAt.Time.UTC()
		execution.CompletedAt = &completedAt
	}

	return execution
}

const executionColumns = `id, workflow_id, status, started_at, completed_at, error_message, execution_data`

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	data := execution.ExecutionData
	if data == nil {
		data = map[string]any{}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		execution.ID,
		execution.WorkflowID,
		string(execution.Status),
		execution.StartedAt,
		nullTime(execution.CompletedAt),
		execution.ErrorMessage,
		jsonColumn[map[string]any]{V: data},
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	var row executionRow

	err := r.db.GetContext(ctx, &row, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewOpError("get", "execution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return row.model(), nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = persistence.DefaultExecutionLimit
	}

	var rows []executionRow

	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(rows))
	for _, row := range rows {
		executions = append(executions, row.model())
	}

	return executions, nil
}

// Finish moves a non-terminal execution to a terminal status.
func (r *ExecutionRepository) Finish(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string, completedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = $2, error_message = $3, completed_at = $4
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id, string(status), errorMessage, completedAt)
	if err != nil {
		return false, fmt.Errorf("failed to finish execution: %w", err)
	}

	return changed(result)
}

func (r *ExecutionRepository) FailStale(ctx context.Context, errorMessage string, completedAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = 'failed', error_message = $1, completed_at = $2
		WHERE status IN ('pending', 'running') AND execution_data->'resume' IS NULL
	`, errorMessage, completedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale executions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return count, nil
}

func (r *ExecutionRepository) Park(ctx context.Context, id string, point models.ResumePoint) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET execution_data = jsonb_set(execution_data, '{resume}', $2::jsonb)
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id, jsonColumn[models.ResumePoint]{V: point})
	if err != nil {
		return false, fmt.Errorf("failed to park execution: %w", err)
	}

	return changed(result)
}

func (r *ExecutionRepository) Unpark(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET execution_data = execution_data - 'resume'
		WHERE id = $1 AND status IN ('pending', 'running') AND execution_data->'resume' IS NOT NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to unpark execution: %w", err)
	}

	return changed(result)
}

func (r *ExecutionRepository) ListParked(ctx context.Context) ([]*models.WorkflowExecution, error) {
	var rows []executionRow

	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE status IN ('pending', 'running') AND execution_data->'resume' IS NOT NULL
		ORDER BY started_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list parked executions: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(rows))
	for _, row := range rows {
		executions = append(executions, row.model())
	}

	return executions, nil
}

type logRow struct {
	ID           string                     `db:"id"`
	ExecutionID  string                     `db:"execution_id"`
	NodeID       string                     `db:"node_id"`
	Status       string                     `db:"status"`
	LoggedAt     time.Time                  `db:"logged_at"`
	Data         jsonColumn[map[string]any] `db:"data"`
	ErrorMessage string                     `db:"error_message"`
}

func (r *ExecutionRepository) AppendLog(ctx context.Context, log *models.ExecutionLog) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO execution_logs (id, execution_id, node_id, status, logged_at, data, error_message)
		VALUES (:id, :execution_id, :node_id, :status, :logged_at, :data, :error_message)
	`, logRow{
		ID:           log.ID,
		ExecutionID:  log.ExecutionID,
		NodeID:       log.NodeID,
		Status:       string(log.Status),
		LoggedAt:     log.Timestamp,
		Data:         jsonColumn[map[string]any]{V: log.Data},
		ErrorMessage: log.ErrorMessage,
	})
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	var rows []logRow

	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, execution_id, node_id, status, logged_at, data, error_message
		FROM execution_logs
		WHERE execution_id = $1
		ORDER BY logged_at ASC, id ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}

	logs := make([]*models.ExecutionLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, &models.ExecutionLog{
			ID:           row.ID,
			ExecutionID:  row.ExecutionID,
			NodeID:       row.NodeID,
			Status:       models.ExecutionStatus(row.Status),
			Timestamp:    row.LoggedAt.UTC(),
			Data:         row.Data.V,
			ErrorMessage: row.ErrorMessage,
		})
	}

	return logs, nil
}

// RecordRepository stores rows written by record nodes.
type RecordRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

type recordRow struct {
	ID          string                     `db:"id"`
	WorkflowID  string                     `db:"workflow_id"`
	ExecutionID string                     `db:"execution_id"`
	CompanyID   string                     `db:"company_id"`
	Table       string                     `db:"table_name"`
	Action      string                     `db:"action"`
	Data        jsonColumn[map[string]any] `db:"data"`
	CreatedAt   time.Time                  `db:"created_at"`
}

func (r *RecordRepository) SaveRecord(ctx context.Context, record *models.WorkflowRecord) error {
	data := record.Data
	if data == nil {
		data = map[string]any{}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO workflow_records (id, workflow_id, execution_id, company_id, table_name, action, data, created_at)
		VALUES (:id, :workflow_id, :execution_id, :company_id, :table_name, :action, :data, :created_at)
	`, recordRow{
		ID:          record.ID,
		WorkflowID:  record.WorkflowID,
		ExecutionID: record.ExecutionID,
		CompanyID:   record.CompanyID,
		Table:       record.Table,
		Action:      record.Action,
		Data:        jsonColumn[map[string]any]{V: data},
		CreatedAt:   record.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	return nil
}

func (r *RecordRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowRecord, error) {
	var rows []recordRow

	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, workflow_id, execution_id, company_id, table_name, action, data, created_at
		FROM workflow_records
		WHERE execution_id = $1
		ORDER BY created_at ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]*models.WorkflowRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, &models.WorkflowRecord{
			ID:          row.ID,
			WorkflowID:  row.WorkflowID,
			ExecutionID: row.ExecutionID,
			CompanyID:   row.CompanyID,
			Table:       row.Table,
			Action:      row.Action,
			Data:        row.Data.V,
			CreatedAt:   row.CreatedAt.UTC(),
		})
	}

	return records, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}
