// Package tasks dispatches background work: workflow traversals and agent executions.
// Work runs either on an in-process bounded pool or on asynq workers over Redis.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	TypeWorkflowRun  = "workflow:run"
	TypeAgentExecute = "agent:execute"
)

var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrClosed      = errors.New("dispatcher is closed")
	ErrUnknownType = errors.New("unknown task type")

	// Context causes a handler observes when its task ends early.
	ErrTimeout     = errors.New("task timed out")
	ErrCancelled   = errors.New("task cancelled")
	ErrInterrupted = errors.New("task interrupted")
)

// Task identifies one unit of background work. ID is the execution id.
type Task struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type Handler func(ctx context.Context, task Task) error

// Dispatcher hands tasks to whatever runs them.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
	// DispatchAt hands task over once at has passed. Nothing runs it before then.
	DispatchAt(ctx context.Context, task Task, at time.Time) error
	// Cancel interrupts a task if it is running. Unknown ids are ignored.
	Cancel(ctx context.Context, id string) error
	Close() error
}

// Mux routes tasks to handlers by type.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

func (m *Mux) Handle(taskType string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[taskType] = handler
}

// Types returns the registered task types.
func (m *Mux) Types() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	types := make([]string, 0, len(m.handlers))
	for taskType := range m.handlers {
		types = append(types, taskType)
	}

	return types
}

// Process runs the handler registered for task.Type.
func (m *Mux) Process(ctx context.Context, task Task) error {
	m.mu.RLock()
	handler, ok := m.handlers[task.Type]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, task.Type)
	}

	return handler(ctx, task)
}

// Reason classifies why ctx ended: ErrTimeout, ErrCancelled or, for
// shutdowns and any other cancellation, ErrInterrupted.
func Reason(ctx context.Context) error {
	cause := context.Cause(ctx)

	switch {
	case errors.Is(cause, ErrTimeout), errors.Is(cause, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(cause, ErrCancelled):
		return ErrCancelled
	default:
		return ErrInterrupted
	}
}
