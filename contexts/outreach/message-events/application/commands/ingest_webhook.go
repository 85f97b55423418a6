package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/application"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/errors"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/services"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/ports"
)

const sourceService = "message-events"

type IngestWebhookCommand struct {
	TenantID string
	Provider string
	Payload  []byte
}

type IngestWebhookResult struct {
	DeliveryID string
	Status     entities.DeliveryStatus
	Events     int
}

// IngestWebhookUseCase archives the raw payload before any parsing, then
// normalizes it and appends one outbox row per normalized event. A payload
// that fails normalization still leaves a replayable archive row.
type IngestWebhookUseCase struct {
	Archive ports.WebhookArchive
	Outbox  ports.OutboxWriter
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Logger  *slog.Logger
}

func (uc IngestWebhookUseCase) Execute(ctx context.Context, cmd IngestWebhookCommand) (IngestWebhookResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.Clock.Now().UTC()

	tenantID := strings.TrimSpace(cmd.TenantID)
	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if tenantID == "" || len(cmd.Payload) == 0 {
		return IngestWebhookResult{}, domainerrors.ErrMalformedPayload
	}

	deliveryID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return IngestWebhookResult{}, err
	}
	delivery := entities.WebhookDelivery{
		DeliveryID: deliveryID,
		TenantID:   tenantID,
		Provider:   provider,
		Payload:    append([]byte(nil), cmd.Payload...),
		Status:     entities.DeliveryStatusReceived,
		ReceivedAt: now,
	}
	if err := uc.Archive.CreateDelivery(ctx, delivery); err != nil {
		return IngestWebhookResult{}, err
	}

	published, err := normalizeAndFanOut(ctx, uc.Archive, uc.Outbox, delivery, now)
	if err != nil {
		logger.Warn("webhook delivery failed normalization",
			"event", "webhook_normalize_failed",
			"module", "outreach/message-events",
			"layer", "application",
			"delivery_id", deliveryID,
			"provider", provider,
			"error", err.Error(),
		)
		return IngestWebhookResult{DeliveryID: deliveryID, Status: entities.DeliveryStatusFailed}, err
	}

	logger.Info("webhook delivery normalized",
		"event", "webhook_normalized",
		"module", "outreach/message-events",
		"layer", "application",
		"delivery_id", deliveryID,
		"provider", provider,
		"event_count", published,
	)
	return IngestWebhookResult{
		DeliveryID: deliveryID,
		Status:     entities.DeliveryStatusNormalized,
		Events:     published,
	}, nil
}

// normalizeAndFanOut is shared by ingest and replay. On a normalization error
// the delivery is marked failed with the reason; on success it is marked
// normalized.
func normalizeAndFanOut(
	ctx context.Context,
	archive ports.WebhookArchive,
	outbox ports.OutboxWriter,
	delivery entities.WebhookDelivery,
	now time.Time,
) (int, error) {
	events, err := services.Normalize(delivery.Provider, delivery.DeliveryID, delivery.TenantID, delivery.Payload, delivery.ReceivedAt)
	if err != nil {
		delivery.Status = entities.DeliveryStatusFailed
		delivery.Error = err.Error()
		if updateErr := archive.UpdateDelivery(ctx, delivery); updateErr != nil {
			return 0, updateErr
		}
		return 0, err
	}

	for _, event := range events {
		envelope, err := envelopeFor(event)
		if err != nil {
			return 0, err
		}
		if err := outbox.AppendOutbox(ctx, envelope); err != nil {
			return 0, err
		}
	}

	delivery.Status = entities.DeliveryStatusNormalized
	delivery.Error = ""
	delivery.NormalizedAt = &now
	if err := archive.UpdateDelivery(ctx, delivery); err != nil {
		return 0, err
	}
	return len(events), nil
}

type normalizedEventPayload struct {
	TenantID          string    `json:"tenant_id"`
	Provider          string    `json:"provider"`
	ProviderMessageID string    `json:"provider_message_id"`
	Channel           string    `json:"channel"`
	FromAddress       string    `json:"from_address,omitempty"`
	Body              string    `json:"body,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func envelopeFor(event entities.NormalizedEvent) (ports.EventEnvelope, error) {
	data, err := json.Marshal(normalizedEventPayload{
		TenantID:          event.TenantID,
		Provider:          event.Provider,
		ProviderMessageID: event.ProviderMessageID,
		Channel:           event.Channel,
		FromAddress:       event.FromAddress,
		Body:              event.Body,
		OccurredAt:        event.OccurredAt,
	})
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          event.EventID,
		EventType:        event.Kind.Topic(),
		TenantID:         event.TenantID,
		OccurredAt:       event.OccurredAt,
		SourceService:    sourceService,
		SchemaVersion:    1,
		PartitionKeyPath: "tenant_id",
		PartitionKey:     event.TenantID,
		Data:             data,
	}, nil
}
