package mocks

import (
	"context"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence.
// Repositories left nil are returned as nil interfaces.
type MockPersistence struct {
	mock.Mock

	WorkflowRepo       *MockWorkflowRepository
	ExecutionRepo      *MockExecutionRepository
	AgentExecutionRepo *MockAgentExecutionRepository
}

func (m *MockPersistence) Workflows() persistence.WorkflowRepository {
	if m.WorkflowRepo == nil {
		return nil
	}

	return m.WorkflowRepo
}

func (m *MockPersistence) Executions() persistence.ExecutionRepository {
	if m.ExecutionRepo == nil {
		return nil
	}

	return m.ExecutionRepo
}

func (m *MockPersistence) Records() persistence.RecordRepository {
	return nil
}

func (m *MockPersistence) Agents() persistence.AgentRepository {
	return nil
}

func (m *MockPersistence) Subscriptions() persistence.SubscriptionRepository {
	return nil
}

func (m *MockPersistence) AgentExecutions() persistence.AgentExecutionRepository {
	if m.AgentExecutionRepo == nil {
		return nil
	}

	return m.AgentExecutionRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) List(ctx context.Context, filter persistence.TenantFilter) ([]*models.Workflow, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Get(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, workflowID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) Finish(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string, completedAt time.Time) (bool, error) {
	args := m.Called(ctx, id, status, errorMessage, completedAt)

	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionRepository) FailStale(ctx context.Context, errorMessage string, completedAt time.Time) (int64, error) {
	args := m.Called(ctx, errorMessage, completedAt)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockExecutionRepository) Park(ctx context.Context, id string, point models.ResumePoint) (bool, error) {
	args := m.Called(ctx, id, point)

	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionRepository) Unpark(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)

	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionRepository) ListParked(ctx context.Context) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) AppendLog(ctx context.Context, log *models.ExecutionLog) error {
	args := m.Called(ctx, log)

	return args.Error(0)
}

func (m *MockExecutionRepository) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionLog), args.Error(1)
}

// MockAgentExecutionRepository is a mock implementation of persistence.AgentExecutionRepository.
type MockAgentExecutionRepository struct {
	mock.Mock
}

func (m *MockAgentExecutionRepository) Create(ctx context.Context, execution *models.AgentExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockAgentExecutionRepository) Get(ctx context.Context, id string) (*models.AgentExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.AgentExecution), args.Error(1)
}

func (m *MockAgentExecutionRepository) ListByAgentAndUser(ctx context.Context, agentID, userID string, limit int) ([]*models.AgentExecution, error) {
	args := m.Called(ctx, agentID, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.AgentExecution), args.Error(1)
}

func (m *MockAgentExecutionRepository) MarkRunning(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)

	return args.Bool(0), args.Error(1)
}

func (m *MockAgentExecutionRepository) Complete(ctx context.Context, id string, output map[string]any, completedAt time.Time, durationMs int64) (bool, error) {
	args := m.Called(ctx, id, output, completedAt, durationMs)

	return args.Bool(0), args.Error(1)
}

func (m *MockAgentExecutionRepository) Fail(ctx context.Context, id, errorMessage string, completedAt time.Time, durationMs *int64) (bool, error) {
	args := m.Called(ctx, id, errorMessage, completedAt, durationMs)

	return args.Bool(0), args.Error(1)
}

func (m *MockAgentExecutionRepository) FailStale(ctx context.Context, errorMessage string, completedAt time.Time) (int64, error) {
	args := m.Called(ctx, errorMessage, completedAt)

	return args.Get(0).(int64), args.Error(1)
}
