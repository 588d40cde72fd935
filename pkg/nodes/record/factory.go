package record

import (
	"context"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

// Factory creates record nodes bound to one Writer.
type Factory struct {
	writer Writer
}

func NewFactory(writer Writer) protocol.NodeFactory {
	return &Factory{writer: writer}
}

func (f *Factory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewNode(id, config, f.writer)
}

func (f *Factory) ID() string {
	return models.TemplateRecord
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeAction
}

func (f *Factory) Name() string {
	return "Database Action"
}

func (f *Factory) Description() string {
	return "Stores a record produced by the workflow"
}

func (f *Factory) DefaultConfig() map[string]any {
	return map[string]any{"table": "", "action": "insert", "data": map[string]any{}}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"table": map[string]any{"type": "string"},
			"action": map[string]any{
				"type": "string",
				"enum": []string{"insert", "update", "delete"},
			},
			"data": map[string]any{
				"type":        "object",
				"description": "Field values; string values accept templates",
			},
		},
		"required": []string{"table"},
	}
}
