// Package email provides the send email action node.
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
	"github.com/cortexbuild/cortexflow/pkg/template"
)

// Config is the typed configuration of an email node.
type Config struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Template string `json:"template"`
	Body     string `json:"body"`
}

// Node sends one email per visit through the configured Mailer.
type Node struct {
	id     string
	config Config
	mailer Mailer
}

func NewNode(id string, config map[string]any, mailer Mailer) (*Node, error) {
	var cfg Config

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	return &Node{id: id, config: cfg, mailer: mailer}, nil
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Execute(ctx context.Context, executionCtx *models.ExecutionContext) (models.NodeResult, error) {
	to, err := template.RenderStringWithContext(n.config.To, executionCtx)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render recipients: %w", err)
	}

	subject, err := template.RenderStringWithContext(n.config.Subject, executionCtx)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render subject: %w", err)
	}

	body, err := template.RenderStringWithContext(n.config.Body, executionCtx)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render body: %w", err)
	}

	recipients := splitRecipients(to)
	if len(recipients) == 0 {
		return models.NodeResult{}, errors.New("email has no recipients")
	}

	err = n.mailer.Send(ctx, Message{
		To:       recipients,
		Subject:  subject,
		Body:     body,
		Template: n.config.Template,
	})
	if err != nil {
		return models.NodeResult{}, err
	}

	return models.NodeResult{
		Data: map[string]any{
			"to":       recipients,
			"subject":  subject,
			"template": n.config.Template,
		},
	}, nil
}

func splitRecipients(to string) []string {
	parts := strings.FieldsFunc(to, func(r rune) bool { return r == ',' || r == ';' })
	recipients := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}

	return recipients
}
