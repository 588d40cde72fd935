// Package services implements the tenant-scoped workflow store and the agent registry.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cortexbuild/cortexflow/pkg/graph"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrWorkflowInactive  = errors.New("workflow is not active")
	ErrInvalidAgentInput = errors.New("input must be a JSON object")

	// Authorization Errors (403 Forbidden).
	ErrForbidden     = errors.New("access denied")
	ErrNotSubscribed = errors.New("an active subscription is required")
	ErrAgentPrivate  = errors.New("agent is not public")

	// Lookup Errors (404 Not Found).
	ErrWorkflowNotFound       = persistence.ErrWorkflowNotFound
	ErrExecutionNotFound      = persistence.ErrExecutionNotFound
	ErrAgentNotFound          = persistence.ErrAgentNotFound
	ErrAgentExecutionNotFound = persistence.ErrAgentExecutionNotFound
	ErrNodeNotFound           = graph.ErrNodeNotFound
	ErrAgentNotPublishable    = errors.New("agent not found or already published")

	// Business Logic Conflicts (409 Conflict).
	ErrExecutionFinished = errors.New("execution already finished")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ValidationErrors carries every message of a rejected request.
type ValidationErrors struct {
	Messages []string
}

func (e *ValidationErrors) Error() string {
	return strings.Join(e.Messages, "; ")
}

func (e *ValidationErrors) Is(target error) bool {
	return target == ErrInvalidRequest
}

// NewValidationErrors builds a ValidationErrors from messages.
func NewValidationErrors(messages ...string) *ValidationErrors {
	return &ValidationErrors{Messages: messages}
}

// ValidationMessages returns the messages a client should see for err.
func ValidationMessages(err error) []string {
	var validationErrors *ValidationErrors
	if errors.As(err, &validationErrors) {
		return validationErrors.Messages
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Message != "" {
		return []string{serviceErr.Message}
	}

	return []string{err.Error()}
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowInactive) ||
		errors.Is(err, ErrInvalidAgentInput)
}

// IsForbidden checks if an error should return HTTP 403.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotSubscribed) ||
		errors.Is(err, ErrAgentPrivate)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return persistence.IsNotFound(err) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrAgentNotPublishable)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionFinished)
}

func deny(op string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: "forbidden", Message: err.Error(), Err: err}
}

func notFound(op string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: "not_found", Message: err.Error(), Err: err}
}

func forbidden(op string) *ServiceError {
	return deny(op, ErrForbidden)
}
