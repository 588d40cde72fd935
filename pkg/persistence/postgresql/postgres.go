// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/cortexbuild/cortexflow/pkg/persistence/sqlbase"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns conservative pool settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPersistence connects, configures the pool and runs migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, pool PoolConfig) (*Persistence, error) {
	database, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	database.SetMaxOpenConns(pool.MaxOpenConns)
	database.SetMaxIdleConns(pool.MaxIdleConns)
	database.SetConnMaxLifetime(pool.ConnMaxLifetime)

	migrationManager := sqlbase.NewMigrationManager(logger, database.DB, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return newPersistence(database, logger), nil
}

func newPersistence(db *sqlx.DB, logger *slog.Logger) *Persistence {
	return &Persistence{db: db, logger: logger.With("module", "postgresql")}
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return &WorkflowRepository{db: p.db, logger: p.logger}
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return &ExecutionRepository{db: p.db, logger: p.logger}
}

func (p *Persistence) Records() persistence.RecordRepository {
	return &RecordRepository{db: p.db, logger: p.logger}
}

func (p *Persistence) Agents() persistence.AgentRepository {
	return &AgentRepository{db: p.db, logger: p.logger}
}

func (p *Persistence) Subscriptions() persistence.SubscriptionRepository {
	return &SubscriptionRepository{db: p.db, logger: p.logger}
}

func (p *Persistence) AgentExecutions() persistence.AgentExecutionRepository {
	return &AgentExecutionRepository{db: p.db, logger: p.logger}
}

// jsonColumn maps a JSONB column onto a Go value.
type jsonColumn[T any] struct {
	V T
}

func (j jsonColumn[T]) Value() (driver.Value, error) {
	data, err := json.Marshal(j.V)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}

	return data, nil
}

func (j *jsonColumn[T]) Scan(src any) error {
	var data []byte

	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}

	return json.Unmarshal(data, &j.V)
}

func isUniqueViolation(err error) bool {
	var pgErr *pq.Error

	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func changed(result interface{ RowsAffected() (int64, error) }) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return rows > 0, nil
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sqlx.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
