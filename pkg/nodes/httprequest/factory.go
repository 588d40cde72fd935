package httprequest

import (
	"context"
	"net/http"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

// Factory creates API call nodes.
type Factory struct {
	client *http.Client
}

// NewFactory creates a factory whose nodes share the given client. A nil client uses http.DefaultClient.
func NewFactory(client *http.Client) protocol.NodeFactory {
	return &Factory{client: client}
}

func (f *Factory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewNode(id, config, f.client)
}

func (f *Factory) ID() string {
	return models.TemplateHTTP
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeAction
}

func (f *Factory) Name() string {
	return "API Call"
}

func (f *Factory) Description() string {
	return "Calls an external HTTP API. URL, headers and body accept templates over the execution context."
}

func (f *Factory) DefaultConfig() map[string]any {
	return map[string]any{
		"url":     "",
		"method":  http.MethodGet,
		"headers": map[string]any{},
	}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Request URL",
			},
			"method": map[string]any{
				"type": "string",
				"enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"type": "string",
			},
			"timeout": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 300,
			},
		},
		"required": []string{"url"},
	}
}
