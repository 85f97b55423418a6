package commands

import (
	"context"
	"log/slog"
	"strings"

	application "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/application"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/entities"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/ports"
)

type ReplayDeliveryCommand struct {
	TenantID   string
	DeliveryID string
}

type ReplayDeliveryResult struct {
	DeliveryID string
	Status     entities.DeliveryStatus
	Events     int
}

// ReplayDeliveryUseCase re-runs normalization for an archived delivery.
// Outbox appends are idempotent on event ID, so replaying an already
// normalized delivery is harmless.
type ReplayDeliveryUseCase struct {
	Archive ports.WebhookArchive
	Outbox  ports.OutboxWriter
	Clock   ports.Clock
	Logger  *slog.Logger
}

func (uc ReplayDeliveryUseCase) Execute(ctx context.Context, cmd ReplayDeliveryCommand) (ReplayDeliveryResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.Clock.Now().UTC()

	delivery, err := uc.Archive.GetDelivery(ctx, strings.TrimSpace(cmd.TenantID), strings.TrimSpace(cmd.DeliveryID))
	if err != nil {
		return ReplayDeliveryResult{}, err
	}

	published, err := normalizeAndFanOut(ctx, uc.Archive, uc.Outbox, delivery, now)
	if err != nil {
		return ReplayDeliveryResult{
			DeliveryID: delivery.DeliveryID,
			Status:     entities.DeliveryStatusFailed,
		}, err
	}

	logger.Info("webhook delivery replayed",
		"event", "webhook_replayed",
		"module", "outreach/message-events",
		"layer", "application",
		"delivery_id", delivery.DeliveryID,
		"provider", delivery.Provider,
		"event_count", published,
	)
	return ReplayDeliveryResult{
		DeliveryID: delivery.DeliveryID,
		Status:     entities.DeliveryStatusNormalized,
		Events:     published,
	}, nil
}
