// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/nodes/email"
	"github.com/cortexbuild/cortexflow/pkg/nodes/record"
	"github.com/cortexbuild/cortexflow/pkg/registry"
)

// NodeOptions configure the collaborators of built-in action nodes.
type NodeOptions struct {
	PluginsPath string
	HTTPTimeout time.Duration
	SMTP        email.SMTPConfig
	Records     record.Writer
}

// NewRegistry registers the built-in node templates and any plugins found under PluginsPath.
func NewRegistry(logger *slog.Logger, opts NodeOptions) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	collaborators := registry.Collaborators{
		HTTPClient:   &http.Client{Timeout: opts.HTTPTimeout},
		RecordWriter: opts.Records,
		Logger:       logger,
	}

	if opts.SMTP.Host != "" {
		collaborators.Mailer = email.NewSMTPMailer(opts.SMTP)
	}

	err := reg.RegisterDefaultNodes(collaborators)
	if err != nil {
		return nil, fmt.Errorf("failed to register nodes: %w", err)
	}

	err = reg.LoadPlugins(opts.PluginsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load node plugins: %w", err)
	}

	return reg, nil
}
