package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/application"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/ports"
)

// OutboxRelay drains pending outbox rows onto the bus. The topic is the
// envelope's event type, so the relay stays ignorant of event semantics.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

func (r OutboxRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("outbox list failed",
			"event", "message_events_outbox_list_failed",
			"module", "outreach/message-events",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	for _, row := range pending {
		var envelope ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &envelope); err != nil {
			return err
		}
		if err := r.Publisher.Publish(ctx, envelope.EventType, envelope); err != nil {
			logger.Error("outbox publish failed",
				"event", "message_events_outbox_publish_failed",
				"module", "outreach/message-events",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"topic", envelope.EventType,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			return err
		}
	}
	return nil
}
