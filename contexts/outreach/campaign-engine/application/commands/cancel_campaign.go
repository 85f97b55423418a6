package commands

import (
	"context"
	"log/slog"
	"strings"

	application "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

type CancelCampaignCommand struct {
	TenantID   string
	CampaignID string
	Reason     string
}

type CancelCampaignResult struct {
	CanceledActions int
}

// CancelCampaignUseCase soft-cancels every still-pending action for a
// campaign. Claimed and executing actions finish normally; cancellation is
// authoritative only for work no worker has picked up.
type CancelCampaignUseCase struct {
	Queue       ports.ActionQueueStore
	Transitions ports.TransitionLog
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      *slog.Logger
}

func (uc CancelCampaignUseCase) Execute(ctx context.Context, cmd CancelCampaignCommand) (CancelCampaignResult, error) {
	logger := application.ResolveLogger(uc.Logger)

	tenantID := strings.TrimSpace(cmd.TenantID)
	campaignID := strings.TrimSpace(cmd.CampaignID)
	now := uc.Clock.Now().UTC()

	count, err := uc.Queue.CancelByCampaign(ctx, tenantID, campaignID, now)
	if err != nil {
		return CancelCampaignResult{}, err
	}

	transitionID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CancelCampaignResult{}, err
	}
	if err := uc.Transitions.Append(ctx, entities.CampaignTransition{
		TransitionID: transitionID,
		TenantID:     tenantID,
		Entity:       entities.TransitionEntityCampaign,
		EntityID:     campaignID,
		FromState:    string(entities.ActionStatusPending),
		ToState:      string(entities.ActionStatusCanceled),
		Reason:       cancelReason(cmd.Reason),
		CreatedAt:    now,
	}); err != nil {
		return CancelCampaignResult{}, err
	}

	logger.Info("campaign pending actions canceled",
		"event", "campaign_actions_canceled",
		"module", "outreach/campaign-engine",
		"layer", "application",
		"tenant_id", tenantID,
		"campaign_id", campaignID,
		"canceled_count", count,
	)
	return CancelCampaignResult{CanceledActions: count}, nil
}

func cancelReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "campaign canceled"
	}
	return reason
}
