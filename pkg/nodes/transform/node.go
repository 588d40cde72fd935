// Package transform provides the transform action node, which reshapes
// trigger and node data with a template.
package transform

import (
	"context"
	"fmt"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
	"github.com/cortexbuild/cortexflow/pkg/template"
)

// Config is the typed configuration of a transform node.
type Config struct {
	Expression string `json:"expression"`
}

// Node renders its expression against the execution and exposes the typed
// value as result.
type Node struct {
	id     string
	config Config
}

func NewNode(id string, config map[string]any) (*Node, error) {
	var cfg Config

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	return &Node{id: id, config: cfg}, nil
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Execute(_ context.Context, executionCtx *models.ExecutionContext) (models.NodeResult, error) {
	result, err := template.RenderWithContext(n.config.Expression, executionCtx)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("transformation failed: %w", err)
	}

	return models.NodeResult{Data: map[string]any{"result": result}}, nil
}
