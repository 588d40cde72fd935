package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cortexbuild/cortexflow/pkg/eventbus"
	"github.com/cortexbuild/cortexflow/pkg/events"
	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/google/uuid"
)

// RecordWriter stores the rows written by record nodes and announces them
// so database triggers can fire.
type RecordWriter struct {
	records   persistence.RecordRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

// NewRecordWriter creates a record writer. publisher may be nil.
func NewRecordWriter(records persistence.RecordRepository, publisher eventbus.EventPublisher, logger *slog.Logger) *RecordWriter {
	return &RecordWriter{
		records:   records,
		publisher: publisher,
		logger:    logger.With("module", "record_writer"),
	}
}

func (w *RecordWriter) SaveRecord(ctx context.Context, record *models.WorkflowRecord) error {
	err := w.records.SaveRecord(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	if w.publisher == nil {
		return nil
	}

	err = w.publisher.Publish(ctx, record.WorkflowID, events.RecordSaved{
		BaseEvent: events.NewBase(uuid.NewString(), events.RecordSavedEvent),
		Record:    record,
	})
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to publish record saved event", "record_id", record.ID, "error", err)
	}

	return nil
}
