package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	application "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/errors"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

type EnrollContactCommand struct {
	TenantID     string
	CampaignID   string
	ContactID    string
	EmailAddress string
	PhoneNumber  string
	// PlanVersion pins a specific snapshot; zero enrolls against the latest.
	PlanVersion int
}

type EnrollContactResult struct {
	Instance entities.ContactCampaignInstance
	Steps    []entities.CampaignStepInstance
	Replayed bool
}

// EnrollContactUseCase materializes a plan version into per-contact step
// instances and queues the first step's action.
type EnrollContactUseCase struct {
	Plans       ports.PlanRepository
	Instances   ports.InstanceRepository
	Queue       ports.ActionQueueStore
	Transitions ports.TransitionLog
	Advancer    application.Advancer
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      *slog.Logger
}

func (uc EnrollContactUseCase) Execute(ctx context.Context, cmd EnrollContactCommand) (EnrollContactResult, error) {
	logger := application.ResolveLogger(uc.Logger)

	tenantID := strings.TrimSpace(cmd.TenantID)
	campaignID := strings.TrimSpace(cmd.CampaignID)
	contactID := strings.TrimSpace(cmd.ContactID)
	if tenantID == "" || campaignID == "" || contactID == "" {
		return EnrollContactResult{}, domainerrors.ErrInvalidEnrollmentInput
	}

	var plan entities.CampaignPlanVersion
	var err error
	if cmd.PlanVersion > 0 {
		plan, err = uc.Plans.GetPlanVersion(ctx, tenantID, campaignID, cmd.PlanVersion)
	} else {
		plan, err = uc.Plans.LatestPlanVersion(ctx, tenantID, campaignID)
	}
	if err != nil {
		return EnrollContactResult{}, err
	}

	email := strings.TrimSpace(cmd.EmailAddress)
	phone := strings.TrimSpace(cmd.PhoneNumber)
	for _, step := range plan.Steps {
		switch step.Channel {
		case entities.ChannelEmail:
			if email == "" {
				return EnrollContactResult{}, domainerrors.ErrInvalidEnrollmentInput
			}
		case entities.ChannelSMS, entities.ChannelCall:
			if phone == "" {
				return EnrollContactResult{}, domainerrors.ErrInvalidEnrollmentInput
			}
		}
	}

	now := uc.Clock.Now().UTC()

	instanceID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return EnrollContactResult{}, err
	}
	instance := entities.ContactCampaignInstance{
		InstanceID:   instanceID,
		TenantID:     tenantID,
		CampaignID:   campaignID,
		PlanVersion:  plan.Version,
		ContactID:    contactID,
		EmailAddress: email,
		PhoneNumber:  phone,
		Status:       entities.InstanceStatusActive,
		EnrolledAt:   now,
		UpdatedAt:    now,
	}

	steps := make([]entities.CampaignStepInstance, 0, len(plan.Steps))
	for _, planStep := range plan.Steps {
		stepInstanceID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return EnrollContactResult{}, err
		}
		steps = append(steps, entities.CampaignStepInstance{
			StepInstanceID: stepInstanceID,
			TenantID:       tenantID,
			InstanceID:     instanceID,
			Position:       planStep.Position,
			Channel:        planStep.Channel,
			Identity:       planStep.Identity,
			Status:         entities.StepStatusPending,
			ScheduledAt:    now.Add(planStep.Offset),
			UpdatedAt:      now,
		})
	}

	if err := uc.Instances.CreateInstance(ctx, instance, steps); err != nil {
		if errors.Is(err, domainerrors.ErrContactAlreadyEnrolled) {
			existing, lookupErr := uc.Instances.FindInstanceByContact(ctx, tenantID, campaignID, contactID)
			if lookupErr != nil {
				return EnrollContactResult{}, lookupErr
			}
			existingSteps, lookupErr := uc.Instances.ListStepInstances(ctx, tenantID, existing.InstanceID)
			if lookupErr != nil {
				return EnrollContactResult{}, lookupErr
			}
			return EnrollContactResult{Instance: existing, Steps: existingSteps, Replayed: true}, nil
		}
		return EnrollContactResult{}, err
	}

	transitionID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return EnrollContactResult{}, err
	}
	if err := uc.Transitions.Append(ctx, entities.CampaignTransition{
		TransitionID: transitionID,
		TenantID:     tenantID,
		InstanceID:   instanceID,
		Entity:       entities.TransitionEntityInstance,
		EntityID:     instanceID,
		FromState:    "",
		ToState:      string(entities.InstanceStatusActive),
		Reason:       "contact enrolled",
		CreatedAt:    now,
	}); err != nil {
		return EnrollContactResult{}, err
	}

	if err := uc.Advancer.Advance(ctx, tenantID, instanceID); err != nil {
		return EnrollContactResult{}, err
	}

	logger.Info("contact enrolled",
		"event", "campaign_contact_enrolled",
		"module", "outreach/campaign-engine",
		"layer", "application",
		"tenant_id", tenantID,
		"campaign_id", campaignID,
		"instance_id", instanceID,
		"plan_version", plan.Version,
		"step_count", len(steps),
	)
	return EnrollContactResult{Instance: instance, Steps: steps}, nil
}
