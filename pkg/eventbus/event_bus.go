// Package eventbus provides event-driven communication between the API, the
// workers and the scheduler.
package eventbus

import (
	"context"

	"github.com/cortexbuild/cortexflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// newEvent returns an empty value to decode an event of the given type into.
func newEvent(eventType events.EventType) (any, bool) {
	switch eventType {
	case events.WorkflowSavedEvent:
		return &events.WorkflowSaved{}, true
	case events.WorkflowDeletedEvent:
		return &events.WorkflowDeleted{}, true
	case events.ExecutionStartedEvent:
		return &events.ExecutionStarted{}, true
	case events.ExecutionCompletedEvent:
		return &events.ExecutionCompleted{}, true
	case events.ExecutionFailedEvent:
		return &events.ExecutionFailed{}, true
	case events.RecordSavedEvent:
		return &events.RecordSaved{}, true
	case events.AgentExecutionFinishedEvent:
		return &events.AgentExecutionFinished{}, true
	default:
		return nil, false
	}
}
