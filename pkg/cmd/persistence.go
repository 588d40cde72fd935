package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/cortexbuild/cortexflow/pkg/persistence/file"
	"github.com/cortexbuild/cortexflow/pkg/persistence/postgresql"
)

// NewPersistence opens the store named by databaseURL: postgres:// and
// postgresql:// URLs select PostgreSQL, file://<dir> or a bare path the
// JSON file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL, postgresql.DefaultPoolConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}

		return p, nil
	default:
		p, err := file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
		if err != nil {
			return nil, fmt.Errorf("failed to open file persistence: %w", err)
		}

		return p, nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "file"
	}
}
