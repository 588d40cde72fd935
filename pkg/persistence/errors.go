package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	ErrWorkflowNotFound       = errors.New("workflow not found")
	ErrExecutionNotFound      = errors.New("execution not found")
	ErrAgentNotFound          = errors.New("agent not found")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrSubscriptionExists     = errors.New("active subscription already exists")
	ErrAgentExecutionNotFound = errors.New("agent execution not found")
)

// OpError wraps a storage failure with the operation and entity involved.
type OpError struct {
	Op     string // Operation being performed (e.g., "Get", "Save", "Delete")
	Entity string
	ID     string
	Err    error
}

func (e *OpError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s failed: %v", e.Op, e.Entity, e.Err)
	}

	return fmt.Sprintf("%s %s %s failed: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError creates a new error with context.
func NewOpError(op, entity, id string, err error) *OpError {
	return &OpError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrAgentExecutionNotFound)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsSubscriptionExists checks if an error indicates a duplicate active subscription.
func IsSubscriptionExists(err error) bool {
	return errors.Is(err, ErrSubscriptionExists)
}
