package queries

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

type CampaignProgressQuery struct {
	TenantID   string
	CampaignID string
}

type CampaignProgressResult struct {
	CampaignID    string
	Enrolled      int
	StepsByStatus map[entities.StepStatus]int
}

type CampaignProgressUseCase struct {
	Instances ports.InstanceRepository
	Logger    *slog.Logger
}

func (uc CampaignProgressUseCase) Execute(ctx context.Context, q CampaignProgressQuery) (CampaignProgressResult, error) {
	tenantID := strings.TrimSpace(q.TenantID)
	campaignID := strings.TrimSpace(q.CampaignID)

	instances, err := uc.Instances.ListInstancesByCampaign(ctx, tenantID, campaignID)
	if err != nil {
		return CampaignProgressResult{}, err
	}
	counts, err := uc.Instances.CountStepStatuses(ctx, tenantID, campaignID)
	if err != nil {
		return CampaignProgressResult{}, err
	}

	return CampaignProgressResult{
		CampaignID:    campaignID,
		Enrolled:      len(instances),
		StepsByStatus: counts,
	}, nil
}
