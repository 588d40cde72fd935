package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cortexflow:agent-execution:"

// Redis is a StatusCache shared by every API replica.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the Redis server at url (redis://host:port/db) and
// verifies it answers.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisWithClient(client, ttl), nil
}

func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, id string) (*models.AgentExecution, error) {
	data, err := r.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}

		return nil, fmt.Errorf("failed to read cached execution: %w", err)
	}

	var execution models.AgentExecution

	err = json.Unmarshal(data, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cached execution: %w", err)
	}

	return &execution, nil
}

func (r *Redis) Set(ctx context.Context, execution *models.AgentExecution) error {
	err := checkTerminal(execution)
	if err != nil {
		return err
	}

	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to encode execution: %w", err)
	}

	err = r.client.Set(ctx, keyPrefix+execution.ID, data, r.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache execution: %w", err)
	}

	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
