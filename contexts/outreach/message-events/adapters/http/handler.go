package httpadapter

import (
	"context"
	"log/slog"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/application/commands"
	httptransport "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/transport/http"
)

type Handler struct {
	Ingest commands.IngestWebhookUseCase
	Replay commands.ReplayDeliveryUseCase
	Logger *slog.Logger
}

func (h Handler) IngestWebhookHandler(
	ctx context.Context,
	tenantID string,
	provider string,
	payload []byte,
) (httptransport.WebhookAcceptedResponse, error) {
	result, err := h.Ingest.Execute(ctx, commands.IngestWebhookCommand{
		TenantID: tenantID,
		Provider: provider,
		Payload:  payload,
	})
	if err != nil {
		return httptransport.WebhookAcceptedResponse{
			DeliveryID: result.DeliveryID,
			Status:     string(result.Status),
		}, err
	}
	return httptransport.WebhookAcceptedResponse{
		DeliveryID: result.DeliveryID,
		Status:     string(result.Status),
		Events:     result.Events,
	}, nil
}

func (h Handler) ReplayDeliveryHandler(
	ctx context.Context,
	tenantID string,
	deliveryID string,
) (httptransport.ReplayDeliveryResponse, error) {
	result, err := h.Replay.Execute(ctx, commands.ReplayDeliveryCommand{
		TenantID:   tenantID,
		DeliveryID: deliveryID,
	})
	if err != nil {
		return httptransport.ReplayDeliveryResponse{}, err
	}
	return httptransport.ReplayDeliveryResponse{
		DeliveryID: result.DeliveryID,
		Status:     string(result.Status),
		Events:     result.Events,
	}, nil
}
