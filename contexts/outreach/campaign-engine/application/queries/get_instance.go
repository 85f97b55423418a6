package queries

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

type GetInstanceQuery struct {
	TenantID   string
	InstanceID string
}

type GetInstanceResult struct {
	Instance    entities.ContactCampaignInstance
	Steps       []entities.CampaignStepInstance
	Transitions []entities.CampaignTransition
}

type GetInstanceUseCase struct {
	Instances   ports.InstanceRepository
	Transitions ports.TransitionLog
	Logger      *slog.Logger
}

func (uc GetInstanceUseCase) Execute(ctx context.Context, q GetInstanceQuery) (GetInstanceResult, error) {
	tenantID := strings.TrimSpace(q.TenantID)
	instanceID := strings.TrimSpace(q.InstanceID)

	instance, err := uc.Instances.GetInstance(ctx, tenantID, instanceID)
	if err != nil {
		return GetInstanceResult{}, err
	}
	steps, err := uc.Instances.ListStepInstances(ctx, tenantID, instanceID)
	if err != nil {
		return GetInstanceResult{}, err
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })

	transitions, err := uc.Transitions.ListByInstance(ctx, tenantID, instanceID)
	if err != nil {
		return GetInstanceResult{}, err
	}

	return GetInstanceResult{Instance: instance, Steps: steps, Transitions: transitions}, nil
}
