// Package trigger provides the trigger nodes that start a workflow run.
// A trigger node does no work of its own when visited: it exposes the
// trigger payload to the nodes downstream of it.
package trigger

import (
	"context"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

// Node is a visited trigger.
type Node struct {
	id     string
	source string
}

func newNode(id, source string) *Node {
	return &Node{id: id, source: source}
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Execute(_ context.Context, executionCtx *models.ExecutionContext) (models.NodeResult, error) {
	data := make(map[string]any, len(executionCtx.Trigger)+2)
	for key, value := range executionCtx.Trigger {
		data[key] = value
	}

	data["source"] = n.source
	data["triggeredBy"] = executionCtx.TriggeredBy

	return models.NodeResult{Data: data}, nil
}

type factory struct {
	id            string
	name          string
	description   string
	defaultConfig map[string]any
	schema        map[string]any
	validate      func(config map[string]any) error
}

func (f *factory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	if f.validate != nil {
		err := f.validate(config)
		if err != nil {
			return nil, err
		}
	}

	return newNode(id, f.id), nil
}

func (f *factory) ID() string {
	return f.id
}

func (f *factory) Type() models.NodeType {
	return models.NodeTypeTrigger
}

func (f *factory) Name() string {
	return f.name
}

func (f *factory) Description() string {
	return f.description
}

func (f *factory) DefaultConfig() map[string]any {
	return f.defaultConfig
}

func (f *factory) Schema() map[string]any {
	return f.schema
}

// NewManualFactory creates the manual trigger template.
func NewManualFactory() protocol.NodeFactory {
	return &factory{
		id:            models.TemplateManualTrigger,
		name:          "Manual Trigger",
		description:   "Starts the workflow when a user runs it",
		defaultConfig: map[string]any{},
		schema:        map[string]any{"type": "object"},
	}
}
