// Package events defines the domain events exchanged over the event bus.
package events

import (
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
)

type EventType string

// Topic carries every domain event.
const Topic = "cortexflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow lifecycle events.
	WorkflowSavedEvent   EventType = "workflow.saved"
	WorkflowDeletedEvent EventType = "workflow.deleted"

	// Workflow execution events.
	ExecutionStartedEvent   EventType = "workflow.execution.started"
	ExecutionCompletedEvent EventType = "workflow.execution.completed"
	ExecutionFailedEvent    EventType = "workflow.execution.failed"

	// Data events.
	RecordSavedEvent EventType = "record.saved"

	// Agent execution events.
	AgentExecutionFinishedEvent EventType = "agent.execution.finished"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBase stamps a base event.
func NewBase(id string, eventType EventType) BaseEvent {
	return BaseEvent{ID: id, Type: eventType, Timestamp: time.Now().UTC()}
}

// WorkflowSaved is published after a workflow is created, replaced or edited.
type WorkflowSaved struct {
	BaseEvent

	WorkflowID string `json:"workflowId"`
	CompanyID  string `json:"companyId"`
	IsActive   bool   `json:"isActive"`
}

func (e WorkflowSaved) GetType() EventType {
	return WorkflowSavedEvent
}

type WorkflowDeleted struct {
	BaseEvent

	WorkflowID string `json:"workflowId"`
	CompanyID  string `json:"companyId"`
}

func (e WorkflowDeleted) GetType() EventType {
	return WorkflowDeletedEvent
}

type ExecutionStarted struct {
	BaseEvent

	WorkflowID  string `json:"workflowId"`
	ExecutionID string `json:"executionId"`
	TriggeredBy string `json:"triggeredBy"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	WorkflowID  string        `json:"workflowId"`
	ExecutionID string        `json:"executionId"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	WorkflowID  string        `json:"workflowId"`
	ExecutionID string        `json:"executionId"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// RecordSaved is published when a record node writes a row. Database
// triggers listen for it.
type RecordSaved struct {
	BaseEvent

	Record *models.WorkflowRecord `json:"record"`
}

func (e RecordSaved) GetType() EventType {
	return RecordSavedEvent
}

type AgentExecutionFinished struct {
	BaseEvent

	AgentExecutionID string                 `json:"agentExecutionId"`
	AgentID          string                 `json:"agentId"`
	UserID           string                 `json:"userId"`
	Status           models.ExecutionStatus `json:"status"`
}

func (e AgentExecutionFinished) GetType() EventType {
	return AgentExecutionFinishedEvent
}
