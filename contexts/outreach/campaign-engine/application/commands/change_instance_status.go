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

type InstanceStatusAction string

const (
	InstanceActionPause    InstanceStatusAction = "pause"
	InstanceActionResume   InstanceStatusAction = "resume"
	InstanceActionComplete InstanceStatusAction = "complete"
)

type ChangeInstanceStatusCommand struct {
	TenantID   string
	InstanceID string
	Action     InstanceStatusAction
	Reason     string
}

type ChangeInstanceStatusUseCase struct {
	Instances   ports.InstanceRepository
	Transitions ports.TransitionLog
	Advancer    application.Advancer
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      *slog.Logger
}

func (uc ChangeInstanceStatusUseCase) Execute(ctx context.Context, cmd ChangeInstanceStatusCommand) error {
	logger := application.ResolveLogger(uc.Logger)

	tenantID := strings.TrimSpace(cmd.TenantID)
	instanceID := strings.TrimSpace(cmd.InstanceID)
	instance, err := uc.Instances.GetInstance(ctx, tenantID, instanceID)
	if err != nil {
		return err
	}

	var target entities.InstanceStatus
	switch cmd.Action {
	case InstanceActionPause:
		target = entities.InstanceStatusPaused
	case InstanceActionResume:
		target = entities.InstanceStatusActive
	case InstanceActionComplete:
		target = entities.InstanceStatusCompleted
	default:
		return domainerrors.ErrInvalidStateTransition
	}
	if !instance.CanTransition(target) {
		return domainerrors.ErrInvalidStateTransition
	}

	now := uc.Clock.Now().UTC()
	if err := uc.Instances.UpdateInstanceStatus(ctx, tenantID, instanceID, target, now); err != nil {
		return err
	}

	transitionID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	if err := uc.Transitions.Append(ctx, entities.CampaignTransition{
		TransitionID: transitionID,
		TenantID:     tenantID,
		InstanceID:   instanceID,
		Entity:       entities.TransitionEntityInstance,
		EntityID:     instanceID,
		FromState:    string(instance.Status),
		ToState:      string(target),
		Reason:       strings.TrimSpace(cmd.Reason),
		CreatedAt:    now,
	}); err != nil {
		return err
	}

	// Resuming re-runs the advance so a step whose action was consumed while
	// paused gets a fresh one.
	if target == entities.InstanceStatusActive {
		if err := uc.Advancer.Advance(ctx, tenantID, instanceID); err != nil {
			return err
		}
	}

	logger.Info("campaign instance status changed",
		"event", "campaign_instance_status_changed",
		"module", "outreach/campaign-engine",
		"layer", "application",
		"tenant_id", tenantID,
		"instance_id", instanceID,
		"from_status", string(instance.Status),
		"to_status", string(target),
	)
	return nil
}
