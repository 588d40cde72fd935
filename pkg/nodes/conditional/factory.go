package conditional

import (
	"context"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

// Factory creates if nodes.
type Factory struct{}

func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewNode(id, config)
}

func (f *Factory) ID() string {
	return models.TemplateIf
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeCondition
}

func (f *Factory) Name() string {
	return "If / Else"
}

func (f *Factory) Description() string {
	return "Evaluates a condition and routes execution to the true or false connections"
}

func (f *Factory) DefaultConfig() map[string]any {
	return map[string]any{"condition": ""}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"description": "Boolean expression, e.g. [trigger.severity] == 'high' && [nodes.fetch.status] < 300",
			},
		},
		"required": []string{"condition"},
	}
}
