// Package sandbox runs agent code against an input document.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

const (
	KindEcho       = "echo"
	KindJavaScript = "javascript"
)

// SuccessMessage is the message of every successful run envelope.
const SuccessMessage = "Agent executed successfully"

// timestampLayout matches the millisecond ISO-8601 timestamps clients already parse.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Request is one agent invocation.
type Request struct {
	Code   string
	Input  map[string]any
	Config map[string]any
}

// Sandbox executes agent code. Implementations must return promptly once ctx is done.
type Sandbox interface {
	Kind() string
	Run(ctx context.Context, req Request) (map[string]any, error)
}

// Config selects and tunes a sandbox.
type Config struct {
	Kind             string
	MaxCallStackSize int
}

// New builds the sandbox named by cfg.Kind. An empty kind selects echo.
func New(cfg Config) (Sandbox, error) {
	switch cfg.Kind {
	case "", KindEcho:
		return NewEcho(), nil
	case KindJavaScript:
		return NewJavaScript(cfg.MaxCallStackSize), nil
	default:
		return nil, fmt.Errorf("unsupported sandbox '%s'", cfg.Kind)
	}
}

func envelope(req Request, now time.Time) map[string]any {
	input := req.Input
	if input == nil {
		input = map[string]any{}
	}

	config := req.Config
	if config == nil {
		config = map[string]any{}
	}

	return map[string]any{
		"success":   true,
		"message":   SuccessMessage,
		"input":     input,
		"config":    config,
		"timestamp": now.UTC().Format(timestampLayout),
	}
}
