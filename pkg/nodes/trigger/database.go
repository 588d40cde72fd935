package trigger

import (
	"fmt"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

// DatabaseConfig is the typed configuration of a database trigger.
type DatabaseConfig struct {
	Table string `json:"table"`
	Event string `json:"event"`
}

// DecodeDatabaseConfig normalizes a database trigger configuration.
func DecodeDatabaseConfig(config map[string]any) (DatabaseConfig, error) {
	cfg := DatabaseConfig{Event: "insert"}

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return cfg, err
	}

	switch cfg.Event {
	case "insert", "update", "delete":
	default:
		return cfg, fmt.Errorf("invalid database event '%s'", cfg.Event)
	}

	return cfg, nil
}

// Matches reports whether a stored record fires this trigger.
func (c DatabaseConfig) Matches(record *models.WorkflowRecord) bool {
	return c.Table != "" && c.Table == record.Table && c.Event == record.Action
}

// NewDatabaseFactory creates the database trigger template.
func NewDatabaseFactory() protocol.NodeFactory {
	return &factory{
		id:            models.TemplateDatabaseTrigger,
		name:          "Database Change",
		description:   "Starts the workflow when a record is written to a table",
		defaultConfig: map[string]any{"table": "", "event": "insert"},
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"table": map[string]any{"type": "string"},
				"event": map[string]any{
					"type": "string",
					"enum": []string{"insert", "update", "delete"},
				},
			},
		},
		validate: func(config map[string]any) error {
			_, err := DecodeDatabaseConfig(config)

			return err
		},
	}
}
