package runtime

import (
	"context"
	"errors"

	"github.com/cortexbuild/cortexflow/pkg/services"
	"github.com/cortexbuild/cortexflow/pkg/tasks"
)

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

func serviceError(op, code string, err error) *services.ServiceError {
	return &services.ServiceError{Op: op, Code: code, Message: err.Error(), Err: err}
}

func notFound(op string, err error) *services.ServiceError {
	return serviceError(op, "not_found", err)
}

func forbidden(op string, err error) *services.ServiceError {
	return serviceError(op, "forbidden", err)
}
