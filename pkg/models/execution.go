package models

import "time"

// ExecutionStatus is the lifecycle state shared by workflow and agent executions.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further transition may happen from s.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// WorkflowExecution is the durable record of one workflow run.
type WorkflowExecution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflowId"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	ExecutionData map[string]any  `json:"executionData"`
}

// Keys of WorkflowExecution.ExecutionData.
const (
	ExecutionDataTriggeredBy = "triggeredBy"
	ExecutionDataTrigger     = "trigger"
	ExecutionDataResume      = "resume"
)

// NewExecutionData builds the executionData document of a run.
func NewExecutionData(triggeredBy string, trigger map[string]any) map[string]any {
	if trigger == nil {
		trigger = map[string]any{}
	}

	return map[string]any{
		ExecutionDataTriggeredBy: triggeredBy,
		ExecutionDataTrigger:     trigger,
	}
}

func (e *WorkflowExecution) TriggeredBy() string {
	triggeredBy, _ := e.ExecutionData[ExecutionDataTriggeredBy].(string)

	return triggeredBy
}

// TriggerData returns the trigger payload the run was started with.
func (e *WorkflowExecution) TriggerData() map[string]any {
	trigger, _ := e.ExecutionData[ExecutionDataTrigger].(map[string]any)
	if trigger == nil {
		return map[string]any{}
	}

	return trigger
}

// ResumePoint marks a running execution parked on a wait node until At.
type ResumePoint struct {
	NodeID string    `json:"nodeId"`
	Since  time.Time `json:"since"`
	At     time.Time `json:"at"`
}

// Resume returns the point the execution is parked at, if any.
func (e *WorkflowExecution) Resume() (ResumePoint, bool) {
	switch point := e.ExecutionData[ExecutionDataResume].(type) {
	case ResumePoint:
		return point, true
	case *ResumePoint:
		return *point, point != nil
	case map[string]any:
		nodeID, _ := point["nodeId"].(string)
		since, _ := point["since"].(string)
		at, _ := point["at"].(string)

		sinceTime, err := time.Parse(time.RFC3339Nano, since)
		if err != nil {
			return ResumePoint{}, false
		}

		atTime, err := time.Parse(time.RFC3339Nano, at)
		if err != nil || nodeID == "" {
			return ResumePoint{}, false
		}

		return ResumePoint{NodeID: nodeID, Since: sinceTime, At: atTime}, true
	default:
		return ResumePoint{}, false
	}
}

// ExecutionLog records the outcome of one visited node.
type ExecutionLog struct {
	ID           string          `json:"id"`
	ExecutionID  string          `json:"executionId"`
	NodeID       string          `json:"nodeId"`
	Status       ExecutionStatus `json:"status"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         map[string]any  `json:"data,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// ExecutionWithLogs is an execution together with its node logs in timestamp order.
type ExecutionWithLogs struct {
	*WorkflowExecution

	Logs []*ExecutionLog `json:"logs"`
}

// NodeResult is what a node hands back to the executor.
type NodeResult struct {
	Data map[string]any
	// Branch is set by condition nodes to select outgoing connections.
	Branch string
	// ResumeAt is set by wait nodes; the execution parks until then.
	ResumeAt time.Time
}

// ExecutionContext is the state a running workflow exposes to its nodes.
type ExecutionContext struct {
	ExecutionID string         `json:"executionId"`
	WorkflowID  string         `json:"workflowId"`
	CompanyID   string         `json:"companyId"`
	TriggeredBy string         `json:"triggeredBy"`
	Trigger     map[string]any `json:"trigger"`
	NodeResults map[string]any `json:"nodes"`
}

// Variables returns the lookup document used by expressions.
func (ec *ExecutionContext) Variables() map[string]any {
	return map[string]any{
		"execution": map[string]any{
			"id":          ec.ExecutionID,
			"workflowId":  ec.WorkflowID,
			"companyId":   ec.CompanyID,
			"triggeredBy": ec.TriggeredBy,
		},
		"trigger": ec.Trigger,
		"nodes":   ec.NodeResults,
	}
}

// WorkflowRecord is a row written by a record action node.
type WorkflowRecord struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflowId"`
	ExecutionID string         `json:"executionId"`
	CompanyID   string         `json:"companyId"`
	Table       string         `json:"table"`
	Action      string         `json:"action"`
	Data        map[string]any `json:"data"`
	CreatedAt   time.Time      `json:"createdAt"`
}
