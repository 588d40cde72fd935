// Package cache holds finished agent executions so status polling does not
// reach the database once a result can no longer change.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
)

// DefaultTTL is how long a finished execution stays cached.
const DefaultTTL = 10 * time.Minute

// ErrMiss is returned when the execution is not cached.
var ErrMiss = errors.New("cache miss")

// ErrNotTerminal is returned when caching an execution that may still change.
var ErrNotTerminal = errors.New("execution is not finished")

// StatusCache stores terminal agent executions by id.
type StatusCache interface {
	Get(ctx context.Context, id string) (*models.AgentExecution, error)
	Set(ctx context.Context, execution *models.AgentExecution) error
	Close() error
}

func checkTerminal(execution *models.AgentExecution) error {
	if !execution.Status.Terminal() {
		return ErrNotTerminal
	}

	return nil
}
