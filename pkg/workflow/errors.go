// Package workflow runs workflow graphs: it creates executions, dispatches
// their traversal and records one log per visited node.
package workflow

import (
	"context"
	"errors"

	"github.com/cortexbuild/cortexflow/pkg/services"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
)

// Messages recorded on executions that end before their traversal does.
var (
	ErrExecutionCancelled   = errors.New("execution cancelled")
	ErrExecutionTimedOut    = errors.New("execution timed out")
	ErrExecutionInterrupted = errors.New("execution interrupted")
	ErrExecutionPanicked    = errors.New("execution panicked")
)

func interruption(ctx context.Context) error {
	switch tasks.Reason(ctx) {
	case tasks.ErrTimeout:
		return ErrExecutionTimedOut
	case tasks.ErrCancelled:
		return ErrExecutionCancelled
	default:
		return ErrExecutionInterrupted
	}
}

func executionNotFound(op string) *services.ServiceError {
	return &services.ServiceError{
		Op:      op,
		Code:    "not_found",
		Message: services.ErrExecutionNotFound.Error(),
		Err:     services.ErrExecutionNotFound,
	}
}

func workflowNotFound(op string) *services.ServiceError {
	return &services.ServiceError{
		Op:      op,
		Code:    "not_found",
		Message: services.ErrWorkflowNotFound.Error(),
		Err:     services.ErrWorkflowNotFound,
	}
}

func executionFinished(op string) *services.ServiceError {
	return &services.ServiceError{
		Op:      op,
		Code:    "conflict",
		Message: services.ErrExecutionFinished.Error(),
		Err:     services.ErrExecutionFinished,
	}
}
