package delay

import (
	"context"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

// Factory creates wait nodes.
type Factory struct{}

func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewNode(id, config)
}

func (f *Factory) ID() string {
	return models.TemplateWait
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeDelay
}

func (f *Factory) Name() string {
	return "Wait"
}

func (f *Factory) Description() string {
	return "Pauses the workflow for a fixed amount of time"
}

func (f *Factory) DefaultConfig() map[string]any {
	return map[string]any{"duration": 5, "unit": "minutes"}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": MaxWait.Seconds(),
			},
			"unit": map[string]any{
				"type": "string",
				"enum": []string{"seconds", "minutes", "hours", "days"},
			},
		},
		"required": []string{"duration", "unit"},
	}
}
