package registry

import (
	"log/slog"
	"net/http"

	"github.com/cortexbuild/cortexflow/pkg/nodes/conditional"
	"github.com/cortexbuild/cortexflow/pkg/nodes/delay"
	"github.com/cortexbuild/cortexflow/pkg/nodes/email"
	"github.com/cortexbuild/cortexflow/pkg/nodes/httprequest"
	"github.com/cortexbuild/cortexflow/pkg/nodes/log"
	"github.com/cortexbuild/cortexflow/pkg/nodes/record"
	"github.com/cortexbuild/cortexflow/pkg/nodes/transform"
	"github.com/cortexbuild/cortexflow/pkg/nodes/trigger"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

// Collaborators are the external services action nodes call.
type Collaborators struct {
	HTTPClient   *http.Client
	Mailer       email.Mailer
	RecordWriter record.Writer
	Logger       *slog.Logger
}

// RegisterDefaultNodes registers all built-in node templates.
func (r *Registry) RegisterDefaultNodes(c Collaborators) error {
	logger := c.Logger
	if logger == nil {
		logger = r.logger
	}

	mailer := c.Mailer
	if mailer == nil {
		mailer = email.NewLogMailer(logger)
	}

	factories := []protocol.NodeFactory{
		trigger.NewManualFactory(),
		trigger.NewScheduleFactory(),
		trigger.NewWebhookFactory(),
		trigger.NewDatabaseFactory(),
		email.NewFactory(mailer),
		httprequest.NewFactory(c.HTTPClient),
		record.NewFactory(c.RecordWriter),
		log.NewFactory(logger),
		transform.NewFactory(),
		conditional.NewFactory(),
		delay.NewFactory(),
	}

	for _, factory := range factories {
		err := r.Register(factory)
		if err != nil {
			return err
		}
	}

	return nil
}
