package cache

import (
	"context"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	gocache "github.com/patrickmn/go-cache"
)

// Memory is a process-local StatusCache.
type Memory struct {
	cache *gocache.Cache
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Memory{cache: gocache.New(ttl, 2*ttl)}
}

func (m *Memory) Get(_ context.Context, id string) (*models.AgentExecution, error) {
	value, found := m.cache.Get(id)
	if !found {
		return nil, ErrMiss
	}

	execution := *value.(*models.AgentExecution)

	return &execution, nil
}

func (m *Memory) Set(_ context.Context, execution *models.AgentExecution) error {
	err := checkTerminal(execution)
	if err != nil {
		return err
	}

	copied := *execution
	m.cache.SetDefault(execution.ID, &copied)

	return nil
}

func (m *Memory) Close() error {
	m.cache.Flush()

	return nil
}
