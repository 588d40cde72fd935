package web

import "github.com/cortexbuild/cortexflow/pkg/models"

// MaxExecutionsLimit caps execution history pages.
const MaxExecutionsLimit = 50

// AddNodeRequest places a node from the template palette on the canvas.
type AddNodeRequest struct {
	Template string          `json:"template" validate:"required"`
	Position models.Position `json:"position"`
}

// MoveNodeRequest is the new canvas coordinate of a node.
type MoveNodeRequest struct {
	Position models.Position `json:"position"`
}

// ConnectRequest draws an edge between two nodes.
type ConnectRequest struct {
	From      string `json:"from"      validate:"required"`
	To        string `json:"to"        validate:"required"`
	Condition string `json:"condition" validate:"omitempty,oneof=true false"`
}

// RunRequest is the optional manual trigger payload of a run.
type RunRequest struct {
	Trigger map[string]any `json:"trigger"`
}

// SubscribeRequest carries the subscriber's agent config overrides.
type SubscribeRequest struct {
	Config map[string]any `json:"config"`
}

// ExecuteRequest wraps the agent input. Input is left untyped so non-object
// values reach the runtime and are rejected there.
type ExecuteRequest struct {
	Input any `json:"input"`
}
