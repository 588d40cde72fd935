// Package record provides the database action node that stores workflow records.
package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
	"github.com/cortexbuild/cortexflow/pkg/template"
	"github.com/google/uuid"
)

var actions = map[string]bool{"insert": true, "update": true, "delete": true}

// Writer persists records produced by record nodes.
type Writer interface {
	SaveRecord(ctx context.Context, record *models.WorkflowRecord) error
}

// Config is the typed configuration of a record node.
type Config struct {
	Table  string         `json:"table"`
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

// Node appends one WorkflowRecord per visit.
type Node struct {
	id     string
	config Config
	writer Writer
}

func NewNode(id string, config map[string]any, writer Writer) (*Node, error) {
	cfg := Config{Action: "insert"}

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	if !actions[cfg.Action] {
		return nil, fmt.Errorf("invalid record action '%s'", cfg.Action)
	}

	return &Node{id: id, config: cfg, writer: writer}, nil
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Execute(ctx context.Context, executionCtx *models.ExecutionContext) (models.NodeResult, error) {
	if n.config.Table == "" {
		return models.NodeResult{}, errors.New("missing required field 'table'")
	}

	data, err := renderData(n.config.Data, executionCtx)
	if err != nil {
		return models.NodeResult{}, err
	}

	record := &models.WorkflowRecord{
		ID:          uuid.NewString(),
		WorkflowID:  executionCtx.WorkflowID,
		ExecutionID: executionCtx.ExecutionID,
		CompanyID:   executionCtx.CompanyID,
		Table:       n.config.Table,
		Action:      n.config.Action,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}

	err = n.writer.SaveRecord(ctx, record)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to save record: %w", err)
	}

	return models.NodeResult{
		Data: map[string]any{
			"recordId": record.ID,
			"table":    record.Table,
			"action":   record.Action,
			"data":     data,
		},
	}, nil
}

func renderData(data map[string]any, executionCtx *models.ExecutionContext) (map[string]any, error) {
	rendered := make(map[string]any, len(data))

	for key, value := range data {
		text, ok := value.(string)
		if !ok || !template.NeedsTemplating(text) {
			rendered[key] = value

			continue
		}

		result, err := template.RenderWithContext(text, executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render field %s: %w", key, err)
		}

		rendered[key] = result
	}

	return rendered, nil
}
