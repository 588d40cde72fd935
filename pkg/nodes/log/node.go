// Package log provides the log action node.
package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
	"github.com/cortexbuild/cortexflow/pkg/template"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Config is the typed configuration of a log node.
type Config struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

// Node writes a rendered message to the engine log.
type Node struct {
	id     string
	config Config
	logger *slog.Logger
}

// NewNode creates a new logging node.
func NewNode(id string, config map[string]any, logger *slog.Logger) (*Node, error) {
	cfg := Config{Level: "info"}

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	if _, ok := levels[cfg.Level]; !ok {
		return nil, fmt.Errorf("invalid log level '%s'", cfg.Level)
	}

	return &Node{id: id, config: cfg, logger: logger}, nil
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Execute(ctx context.Context, executionCtx *models.ExecutionContext) (models.NodeResult, error) {
	if n.config.Message == "" {
		return models.NodeResult{}, errors.New("missing required field 'message'")
	}

	message, err := template.RenderStringWithContext(n.config.Message, executionCtx)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render message: %w", err)
	}

	n.logger.Log(ctx, levels[n.config.Level], message,
		"execution_id", executionCtx.ExecutionID,
		"workflow_id", executionCtx.WorkflowID,
		"node_id", n.id,
	)

	return models.NodeResult{
		Data: map[string]any{
			"message": message,
			"level":   n.config.Level,
		},
	}, nil
}
