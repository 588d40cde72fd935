package file

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
)

type executionRepository struct {
	fp *Persistence
}

func (r *executionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	return r.fp.write(executionsDir, execution.ID, execution)
}

func (r *executionRepository) Get(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	var execution models.WorkflowExecution

	err := r.fp.read(executionsDir, id, &execution, persistence.ErrExecutionNotFound)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}

func (r *executionRepository) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	all, err := readAll[models.WorkflowExecution](r.fp, executionsDir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, execution := range all {
		if execution.WorkflowID == workflowID {
			executions = append(executions, execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

func (r *executionRepository) Finish(_ context.Context, id string, status models.ExecutionStatus, errorMessage string, completedAt time.Time) (bool, error) {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	var execution models.WorkflowExecution

	err := r.fp.read(executionsDir, id, &execution, persistence.ErrExecutionNotFound)
	if persistence.IsNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if execution.Status.Terminal() {
		return false, nil
	}

	execution.Status = status
	execution.ErrorMessage = errorMessage
	execution.CompletedAt = &completedAt

	return true, r.fp.write(executionsDir, id, &execution)
}

func (r *executionRepository) Park(_ context.Context, id string, point models.ResumePoint) (bool, error) {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	var execution models.WorkflowExecution

	err := r.fp.read(executionsDir, id, &execution, persistence.ErrExecutionNotFound)
	if persistence.IsNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if execution.Status.Terminal() {
		return false, nil
	}

	if execution.ExecutionData == nil {
		execution.ExecutionData = map[string]any{}
	}

	execution.ExecutionData[models.ExecutionDataResume] = point

	return true, r.fp.write(executionsDir, id, &execution)
}

func (r *executionRepository) Unpark(_ context.Context, id string) (bool, error) {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	var execution models.WorkflowExecution

	err := r.fp.read(executionsDir, id, &execution, persistence.ErrExecutionNotFound)
	if persistence.IsNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if _, ok := execution.ExecutionData[models.ExecutionDataResume]; !ok || execution.Status.Terminal() {
		return false, nil
	}

	delete(execution.ExecutionData, models.ExecutionDataResume)

	return true, r.fp.write(executionsDir, id, &execution)
}

func (r *executionRepository) ListParked(_ context.Context) ([]*models.WorkflowExecution, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	all, err := readAll[models.WorkflowExecution](r.fp, executionsDir)
	if err != nil {
		return nil, err
	}

	parked := make([]*models.WorkflowExecution, 0)

	for _, execution := range all {
		if _, ok := execution.Resume(); ok && !execution.Status.Terminal() {
			parked = append(parked, execution)
		}
	}

	return parked, nil
}

func (r *executionRepository) FailStale(_ context.Context, errorMessage string, completedAt time.Time) (int64, error) {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	all, err := readAll[models.WorkflowExecution](r.fp, executionsDir)
	if err != nil {
		return 0, err
	}

	var count int64

	for _, execution := range all {
		if execution.Status.Terminal() {
			continue
		}

		if _, parked := execution.Resume(); parked {
			continue
		}

		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = errorMessage
		execution.CompletedAt = &completedAt

		err := r.fp.write(executionsDir, execution.ID, execution)
		if err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}

func (r *executionRepository) AppendLog(_ context.Context, log *models.ExecutionLog) error {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	var logs []*models.ExecutionLog

	err := r.fp.read(executionLogsDir, log.ExecutionID, &logs, errNoLogs)
	if err != nil && !errors.Is(err, errNoLogs) {
		return err
	}

	logs = append(logs, log)

	return r.fp.write(executionLogsDir, log.ExecutionID, logs)
}

func (r *executionRepository) Logs(_ context.Context, executionID string) ([]*models.ExecutionLog, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	var logs []*models.ExecutionLog

	err := r.fp.read(executionLogsDir, executionID, &logs, errNoLogs)
	if errors.Is(err, errNoLogs) {
		return []*models.ExecutionLog{}, nil
	}

	if err != nil {
		return nil, err
	}

	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Timestamp.Before(logs[j].Timestamp)
	})

	return logs, nil
}

var errNoLogs = errors.New("no logs")

type recordRepository struct {
	fp *Persistence
}

func (r *recordRepository) SaveRecord(_ context.Context, record *models.WorkflowRecord) error {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	return r.fp.write(recordsDir, record.ID, record)
}

func (r *recordRepository) ListByExecution(_ context.Context, executionID string) ([]*models.WorkflowRecord, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	all, err := readAll[models.WorkflowRecord](r.fp, recordsDir)
	if err != nil {
		return nil, err
	}

	records := make([]*models.WorkflowRecord, 0)

	for _, record := range all {
		if record.ExecutionID == executionID {
			records = append(records, record)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}
