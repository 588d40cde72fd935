package transform

import (
	"context"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

type Factory struct{}

func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewNode(id, config)
}

func (f *Factory) ID() string {
	return models.TemplateTransform
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeAction
}

func (f *Factory) Name() string {
	return "Transform"
}

func (f *Factory) Description() string {
	return "Builds a value from the trigger and earlier node results using a template"
}

func (f *Factory) DefaultConfig() map[string]any {
	return map[string]any{"expression": ""}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Template rendered against .execution, .trigger and .nodes. JSON, numeric and boolean output is typed.",
				"examples": []string{
					`{"slab": "{{ .trigger.slab }}", "ready": true}`,
					`{{ .nodes.fetch.body.temperature }}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}
