// Package conditional provides the if condition node used for workflow branching.
package conditional

import (
	"context"
	"errors"
	"strings"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

var errEmptyCondition = errors.New("condition is empty")

// Config is the typed configuration of an if node.
type Config struct {
	Condition string `json:"condition"`
}

// Node evaluates its condition and selects the true or false branch.
type Node struct {
	id         string
	expression *Expression
}

// NewNode creates a condition node. An empty condition is accepted so a node
// can be placed on the canvas before it is configured, but it fails when visited.
func NewNode(id string, config map[string]any) (*Node, error) {
	var cfg Config

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	node := &Node{id: id}

	if strings.TrimSpace(cfg.Condition) == "" {
		return node, nil
	}

	node.expression, err = Compile(cfg.Condition)
	if err != nil {
		return nil, err
	}

	return node, nil
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Execute(_ context.Context, executionCtx *models.ExecutionContext) (models.NodeResult, error) {
	if n.expression == nil {
		return models.NodeResult{}, errEmptyCondition
	}

	matched, err := n.expression.Evaluate(executionCtx.Variables())
	if err != nil {
		return models.NodeResult{}, err
	}

	branch := models.BranchFalse
	if matched {
		branch = models.BranchTrue
	}

	return models.NodeResult{
		Data:   map[string]any{"result": matched},
		Branch: branch,
	}, nil
}
