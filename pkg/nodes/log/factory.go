package log

import (
	"context"
	"log/slog"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

// Factory creates log nodes.
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates a new factory instance.
func NewFactory(logger *slog.Logger) protocol.NodeFactory {
	return &Factory{logger: logger.With("module", "log_node")}
}

func (f *Factory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewNode(id, config, f.logger)
}

func (f *Factory) ID() string {
	return models.TemplateLog
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeAction
}

func (f *Factory) Name() string {
	return "Log"
}

func (f *Factory) Description() string {
	return "Writes a message to the execution log at the given level"
}

func (f *Factory) DefaultConfig() map[string]any {
	return map[string]any{"message": "", "level": "info"}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports templates such as {{ .trigger.site }}",
			},
			"level": map[string]any{
				"type":    "string",
				"enum":    []string{"debug", "info", "warn", "error"},
				"default": "info",
			},
		},
		"required": []string{"message"},
	}
}
