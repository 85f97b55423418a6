package ports

import (
	"context"
	"time"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/entities"
	contractsv1 "github.com/Nex2i/dripiq-sub001/contracts/gen/events/v1"
)

type EventEnvelope = contractsv1.Envelope

type WebhookArchive interface {
	// CreateDelivery persists the raw payload. It must succeed before any
	// parsing is attempted.
	CreateDelivery(ctx context.Context, delivery entities.WebhookDelivery) error
	GetDelivery(ctx context.Context, tenantID, deliveryID string) (entities.WebhookDelivery, error)
	UpdateDelivery(ctx context.Context, delivery entities.WebhookDelivery) error
}

type OutboxWriter interface {
	// AppendOutbox is idempotent on envelope EventID so a replayed delivery
	// never fans out twice.
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
