package models

import "time"

// AgentCategory groups agents in the marketplace.
type AgentCategory string

const (
	AgentCategoryAutomation    AgentCategory = "automation"
	AgentCategoryAnalytics     AgentCategory = "analytics"
	AgentCategorySafety        AgentCategory = "safety"
	AgentCategoryFinancial     AgentCategory = "financial"
	AgentCategoryCommunication AgentCategory = "communication"
	AgentCategoryIntegration   AgentCategory = "integration"
)

// AgentStatus is the publication state of an agent.
type AgentStatus string

const (
	AgentStatusDraft     AgentStatus = "draft"
	AgentStatusPublished AgentStatus = "published"
	AgentStatusArchived  AgentStatus = "archived"
)

// InitialAgentVersion is assigned to every new agent.
const InitialAgentVersion = "1.0.0"

// Agent is a marketplace unit of automation code owned by a developer.
type Agent struct {
	ID            string         `json:"id"`
	DeveloperID   string         `json:"developerId"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Category      AgentCategory  `json:"category"`
	Version       string         `json:"version"`
	Config        map[string]any `json:"config"`
	Code          string         `json:"code"`
	Status        AgentStatus    `json:"status"`
	IsPublic      bool           `json:"isPublic"`
	Price         float64        `json:"price"`
	Subscriptions int            `json:"subscriptions"`
	Rating        float64        `json:"rating"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Listed reports whether the agent is visible in the marketplace.
func (a *Agent) Listed() bool {
	return a.IsPublic && a.Status == AgentStatusPublished
}

// Resource describes the agent for authorization checks.
func (a *Agent) Resource() Resource {
	return Resource{
		Kind:    ResourceAgent,
		ID:      a.ID,
		OwnerID: a.DeveloperID,
		Public:  a.IsPublic,
	}
}

// SubscriptionStatus is the state of an agent subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// AgentSubscription grants a user of a company the right to execute an agent.
type AgentSubscription struct {
	ID        string             `json:"id"`
	AgentID   string             `json:"agentId"`
	UserID    string             `json:"userId"`
	CompanyID string             `json:"companyId"`
	Status    SubscriptionStatus `json:"status"`
	Config    map[string]any     `json:"config"`
	CreatedAt time.Time          `json:"createdAt"`
	ExpiresAt *time.Time         `json:"expiresAt,omitempty"`
}

// SubscribedAgent is an agent joined with the caller's subscription.
type SubscribedAgent struct {
	*Agent

	SubscriptionID     string             `json:"subscriptionId"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	SubscriptionConfig map[string]any     `json:"subscriptionConfig"`
	SubscribedAt       time.Time          `json:"subscribedAt"`
}

// AgentRating is a single user's rating of an agent.
type AgentRating struct {
	AgentID   string    `json:"agentId"`
	UserID    string    `json:"userId"`
	Rating    int       `json:"rating"`
	Review    string    `json:"review,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AgentExecution is the durable handle of one asynchronous agent run.
type AgentExecution struct {
	ID           string          `json:"id"`
	AgentID      string          `json:"agentId"`
	UserID       string          `json:"userId"`
	CompanyID    string          `json:"companyId"`
	Input        map[string]any  `json:"input"`
	Output       map[string]any  `json:"output"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	Duration     *int64          `json:"duration,omitempty"`
}

// Resource describes the execution for authorization checks.
func (e *AgentExecution) Resource() Resource {
	return Resource{
		Kind:      ResourceAgentExecution,
		ID:        e.ID,
		CompanyID: e.CompanyID,
		OwnerID:   e.UserID,
	}
}
