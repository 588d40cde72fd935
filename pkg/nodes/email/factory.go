package email

import (
	"context"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

// Factory creates email nodes bound to one Mailer.
type Factory struct {
	mailer Mailer
}

func NewFactory(mailer Mailer) protocol.NodeFactory {
	return &Factory{mailer: mailer}
}

func (f *Factory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewNode(id, config, f.mailer)
}

func (f *Factory) ID() string {
	return models.TemplateEmail
}

func (f *Factory) Type() models.NodeType {
	return models.NodeTypeAction
}

func (f *Factory) Name() string {
	return "Send Email"
}

func (f *Factory) Description() string {
	return "Sends an email notification"
}

func (f *Factory) DefaultConfig() map[string]any {
	return map[string]any{"to": "", "subject": "", "template": ""}
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to": map[string]any{
				"type":        "string",
				"description": "Comma separated recipients",
			},
			"subject":  map[string]any{"type": "string"},
			"template": map[string]any{"type": "string"},
			"body":     map[string]any{"type": "string"},
		},
		"required": []string{"to"},
	}
}
