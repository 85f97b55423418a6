package commands

import (
	"context"
	"log/slog"
	"strings"

	application "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/errors"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

type CreateCampaignCommand struct {
	TenantID    string
	Name        string
	Description string
	Steps       []entities.CampaignStepTemplate
}

type CreateCampaignResult struct {
	Template entities.CampaignTemplate
	Plan     entities.CampaignPlanVersion
}

// CreateCampaignUseCase persists a template and immediately snapshots plan
// version 1 so enrollment has an immutable plan to execute against.
type CreateCampaignUseCase struct {
	Plans  ports.PlanRepository
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

func (uc CreateCampaignUseCase) Execute(ctx context.Context, cmd CreateCampaignCommand) (CreateCampaignResult, error) {
	logger := application.ResolveLogger(uc.Logger)

	now := uc.Clock.Now().UTC()
	campaignID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CreateCampaignResult{}, err
	}

	steps := make([]entities.CampaignStepTemplate, 0, len(cmd.Steps))
	for i, step := range cmd.Steps {
		stepID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return CreateCampaignResult{}, err
		}
		step.StepID = stepID
		step.Position = i
		steps = append(steps, step)
	}

	template := entities.CampaignTemplate{
		CampaignID:  campaignID,
		TenantID:    strings.TrimSpace(cmd.TenantID),
		Name:        strings.TrimSpace(cmd.Name),
		Description: strings.TrimSpace(cmd.Description),
		Steps:       steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !template.ValidateBasics() {
		return CreateCampaignResult{}, domainerrors.ErrInvalidCampaignInput
	}

	if err := uc.Plans.CreateTemplate(ctx, template); err != nil {
		return CreateCampaignResult{}, err
	}
	plan, err := uc.Plans.SnapshotPlan(ctx, template.TenantID, campaignID)
	if err != nil {
		return CreateCampaignResult{}, err
	}

	logger.Info("campaign created",
		"event", "campaign_created",
		"module", "outreach/campaign-engine",
		"layer", "application",
		"tenant_id", template.TenantID,
		"campaign_id", campaignID,
		"plan_version", plan.Version,
		"step_count", len(steps),
	)
	return CreateCampaignResult{Template: template, Plan: plan}, nil
}
