// Package file provides file-based persistence: one JSON document per entity under a root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cortexbuild/cortexflow/pkg/persistence"
)

const (
	workflowsDir       = "workflows"
	executionsDir      = "executions"
	executionLogsDir   = "execution_logs"
	recordsDir         = "records"
	agentsDir          = "agents"
	subscriptionsDir   = "subscriptions"
	ratingsDir         = "ratings"
	agentExecutionsDir = "agent_executions"
)

// Persistence implements the persistence.Persistence interface using the file system.
// A single lock serializes writers so status transitions are compare-and-set.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	for _, dir := range []string{
		workflowsDir, executionsDir, executionLogsDir, recordsDir,
		agentsDir, subscriptionsDir, ratingsDir, agentExecutionsDir,
	} {
		err := os.MkdirAll(filepath.Join(cleanRoot, dir), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return &Persistence{root: cleanRoot}, nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Workflows() persistence.WorkflowRepository {
	return &workflowRepository{fp: fp}
}

func (fp *Persistence) Executions() persistence.ExecutionRepository {
	return &executionRepository{fp: fp}
}

func (fp *Persistence) Records() persistence.RecordRepository {
	return &recordRepository{fp: fp}
}

func (fp *Persistence) Agents() persistence.AgentRepository {
	return &agentRepository{fp: fp}
}

func (fp *Persistence) Subscriptions() persistence.SubscriptionRepository {
	return &subscriptionRepository{fp: fp}
}

func (fp *Persistence) AgentExecutions() persistence.AgentExecutionRepository {
	return &agentExecutionRepository{fp: fp}
}

func (fp *Persistence) path(dir, id string) string {
	return filepath.Join(fp.root, dir, filepath.Base(id)+".json")
}

// write stores v atomically by renaming a temporary file over the target.
func (fp *Persistence) write(dir, id string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	target := fp.path(dir, id)
	tmp := target + ".tmp"

	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", dir, id, err)
	}

	err = os.Rename(tmp, target)
	if err != nil {
		return fmt.Errorf("failed to replace %s/%s: %w", dir, id, err)
	}

	return nil
}

// read decodes the document into v. It returns notFound when the file does not exist.
func (fp *Persistence) read(dir, id string, v any, notFound error) error {
	data, err := os.ReadFile(fp.path(dir, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound
		}

		return fmt.Errorf("failed to read %s/%s: %w", dir, id, err)
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", dir, id, err)
	}

	return nil
}

func (fp *Persistence) remove(dir, id string, notFound error) error {
	err := os.Remove(fp.path(dir, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound
		}

		return fmt.Errorf("failed to delete %s/%s: %w", dir, id, err)
	}

	return nil
}

// readAll decodes every document in dir.
func readAll[T any](fp *Persistence, dir string) ([]*T, error) {
	files, err := fs.Glob(os.DirFS(filepath.Join(fp.root, dir)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	items := make([]*T, 0, len(files))

	for _, file := range files {
		var item T

		err := fp.read(dir, strings.TrimSuffix(file, ".json"), &item, fs.ErrNotExist)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, err
		}

		items = append(items, &item)
	}

	return items, nil
}
