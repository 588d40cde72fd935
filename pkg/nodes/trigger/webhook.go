package trigger

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

// WebhookConfig is the typed configuration of a webhook trigger.
type WebhookConfig struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// DecodeWebhookConfig normalizes a webhook trigger configuration.
func DecodeWebhookConfig(config map[string]any) (WebhookConfig, error) {
	cfg := WebhookConfig{Method: http.MethodPost, Path: "/webhook"}

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return cfg, err
	}

	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}

	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}

	return cfg, nil
}

// Matches reports whether an inbound request targets this webhook.
func (c WebhookConfig) Matches(method, path string) bool {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return strings.EqualFold(c.Method, method) && c.Path == path
}

// NewWebhookFactory creates the webhook trigger template.
func NewWebhookFactory() protocol.NodeFactory {
	return &factory{
		id:            models.TemplateWebhookTrigger,
		name:          "Webhook",
		description:   "Starts the workflow when an HTTP request is received",
		defaultConfig: map[string]any{"method": http.MethodPost, "path": "/webhook"},
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"method": map[string]any{
					"type": "string",
					"enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				},
				"path": map[string]any{"type": "string"},
			},
		},
		validate: func(config map[string]any) error {
			cfg, err := DecodeWebhookConfig(config)
			if err != nil {
				return err
			}

			if strings.ContainsAny(cfg.Path, " ?#") {
				return fmt.Errorf("invalid webhook path '%s'", cfg.Path)
			}

			return nil
		},
	}
}
