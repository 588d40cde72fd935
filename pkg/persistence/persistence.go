// Package persistence provides the storage abstraction for workflows, executions and the agent marketplace.
package persistence

import (
	"context"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
)

// DefaultExecutionLimit caps execution history listings.
const DefaultExecutionLimit = 50

// TenantFilter restricts listings to one company unless All is set.
type TenantFilter struct {
	CompanyID string
	All       bool
}

// Matches reports whether a row owned by companyID passes the filter.
func (f TenantFilter) Matches(companyID string) bool {
	return f.All || (f.CompanyID != "" && f.CompanyID == companyID)
}

// MarketplaceFilter selects published public agents.
type MarketplaceFilter struct {
	Category  models.AgentCategory
	MinRating *float64
	Search    string
}

type Persistence interface {
	Workflows() WorkflowRepository
	Executions() ExecutionRepository
	Records() RecordRepository
	Agents() AgentRepository
	Subscriptions() SubscriptionRepository
	AgentExecutions() AgentExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkflowRepository interface {
	// List returns the workflows passing filter ordered by createdAt desc.
	List(ctx context.Context, filter TenantFilter) ([]*models.Workflow, error)
	// ListActive returns every active workflow across tenants.
	ListActive(ctx context.Context) ([]*models.Workflow, error)
	Get(ctx context.Context, id string) (*models.Workflow, error)
	// Save inserts or fully replaces a workflow.
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	Get(ctx context.Context, id string) (*models.WorkflowExecution, error)
	// ListByWorkflow returns up to limit executions ordered by startedAt desc.
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error)
	// Finish moves a non-terminal execution to a terminal status. It reports
	// false, without error, when the execution is missing or already terminal.
	Finish(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string, completedAt time.Time) (bool, error)
	// FailStale fails every non-terminal execution that is not parked and
	// returns how many were changed.
	FailStale(ctx context.Context, errorMessage string, completedAt time.Time) (int64, error)
	// Park stores the resume point of a running execution. It reports false
	// when the execution is missing or already terminal.
	Park(ctx context.Context, id string, point models.ResumePoint) (bool, error)
	// Unpark clears the resume point of a running execution. It reports false
	// when there was none, so only one resumer proceeds.
	Unpark(ctx context.Context, id string) (bool, error)
	// ListParked returns the running executions that carry a resume point.
	ListParked(ctx context.Context) ([]*models.WorkflowExecution, error)

	AppendLog(ctx context.Context, log *models.ExecutionLog) error
	// Logs returns the logs of an execution ordered by timestamp asc.
	Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error)
}

type RecordRepository interface {
	SaveRecord(ctx context.Context, record *models.WorkflowRecord) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowRecord, error)
}

type AgentRepository interface {
	Create(ctx context.Context, agent *models.Agent) error
	// Get returns the agent with its derived subscription count and rating.
	Get(ctx context.Context, id string) (*models.Agent, error)
	// ListMarketplace returns published public agents ordered by active
	// subscriptions desc then rating desc.
	ListMarketplace(ctx context.Context, filter MarketplaceFilter) ([]*models.Agent, error)
	// Publish moves a draft agent owned by developerID to published. It
	// reports false when no such draft exists.
	Publish(ctx context.Context, id, developerID string, updatedAt time.Time) (bool, error)
	// Rate inserts or replaces the caller's rating.
	Rate(ctx context.Context, rating *models.AgentRating) error
}

type SubscriptionRepository interface {
	// Create inserts a subscription. It returns ErrSubscriptionExists when the
	// user already holds an active subscription to the agent.
	Create(ctx context.Context, subscription *models.AgentSubscription) error
	FindActive(ctx context.Context, agentID, userID string) (*models.AgentSubscription, error)
	// HasAny reports whether the user ever subscribed to the agent, whatever the status.
	HasAny(ctx context.Context, agentID, userID string) (bool, error)
	// ListByUser returns the user's subscriptions joined with their agents
	// ordered by subscription createdAt desc.
	ListByUser(ctx context.Context, userID string) ([]*models.SubscribedAgent, error)
}

// Status transitions of agent executions report false, without error, when
// the execution is missing or not in a state the transition accepts.
type AgentExecutionRepository interface {
	Create(ctx context.Context, execution *models.AgentExecution) error
	Get(ctx context.Context, id string) (*models.AgentExecution, error)
	// ListByAgentAndUser returns up to limit executions ordered by startedAt desc.
	ListByAgentAndUser(ctx context.Context, agentID, userID string, limit int) ([]*models.AgentExecution, error)
	// MarkRunning moves a pending execution to running.
	MarkRunning(ctx context.Context, id string) (bool, error)
	// Complete moves a non-terminal execution to completed.
	Complete(ctx context.Context, id string, output map[string]any, completedAt time.Time, durationMs int64) (bool, error)
	// Fail moves a non-terminal execution to failed.
	Fail(ctx context.Context, id, errorMessage string, completedAt time.Time, durationMs *int64) (bool, error)
	// FailStale fails every non-terminal execution and returns how many were changed.
	FailStale(ctx context.Context, errorMessage string, completedAt time.Time) (int64, error)
}
