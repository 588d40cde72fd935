// Package protocol defines the contracts between the workflow executor and node implementations.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cortexbuild/cortexflow/pkg/models"
)

// Node is a constructed, validated node ready to run inside an execution.
type Node interface {
	ID() string
	Execute(ctx context.Context, executionCtx *models.ExecutionContext) (models.NodeResult, error)
}

// NodeFactory creates node instances for one template and provides its metadata.
type NodeFactory interface {
	// Create builds a node from its configuration, rejecting invalid configs.
	Create(ctx context.Context, id string, config map[string]any) (Node, error)

	// ID returns the template identifier.
	ID() string

	// Type returns the node type this template produces.
	Type() models.NodeType

	Name() string
	Description() string

	// DefaultConfig returns the configuration new canvas nodes start with.
	DefaultConfig() map[string]any

	// Schema returns the JSON schema for the configuration.
	Schema() map[string]any
}

// DecodeConfig converts a free-form configuration map into a typed config struct.
func DecodeConfig(config map[string]any, target any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	err = json.Unmarshal(raw, target)
	if err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	return nil
}
