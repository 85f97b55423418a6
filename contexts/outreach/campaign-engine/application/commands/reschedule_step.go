package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/errors"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

type RescheduleStepCommand struct {
	TenantID       string
	StepInstanceID string
	NewTime        time.Time
	Reason         string
}

// RescheduleStepUseCase resets a step instance to pending at a new time. It is
// the only path out of skipped or failed, and it bumps the attempt epoch so
// the re-attempt is a new logical send.
type RescheduleStepUseCase struct {
	Instances   ports.InstanceRepository
	Queue       ports.ActionQueueStore
	Transitions ports.TransitionLog
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      *slog.Logger
}

func (uc RescheduleStepUseCase) Execute(ctx context.Context, cmd RescheduleStepCommand) error {
	logger := application.ResolveLogger(uc.Logger)

	tenantID := strings.TrimSpace(cmd.TenantID)
	step, err := uc.Instances.GetStepInstance(ctx, tenantID, strings.TrimSpace(cmd.StepInstanceID))
	if err != nil {
		return err
	}
	if !step.CanReschedule() {
		return domainerrors.ErrStepNotReschedulable
	}
	if cmd.NewTime.IsZero() {
		return domainerrors.ErrInvalidStateTransition
	}

	instance, err := uc.Instances.GetInstance(ctx, tenantID, step.InstanceID)
	if err != nil {
		return err
	}

	now := uc.Clock.Now().UTC()
	newTime := cmd.NewTime.UTC()
	fromStatus := step.Status

	step.Status = entities.StepStatusPending
	step.ScheduledAt = newTime
	step.AttemptEpoch++
	step.LastError = ""
	step.UpdatedAt = now
	if err := uc.Instances.UpdateStepInstance(ctx, step); err != nil {
		return err
	}

	existing, open, err := uc.Queue.GetOpenActionByStep(ctx, tenantID, step.StepInstanceID)
	if err != nil {
		return err
	}
	if open {
		if err := uc.Queue.Release(ctx, tenantID, existing.ActionID, newTime, "step rescheduled"); err != nil {
			return err
		}
	} else {
		actionID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return err
		}
		if err := uc.Queue.Enqueue(ctx, entities.ScheduledAction{
			ActionID:       actionID,
			TenantID:       tenantID,
			CampaignID:     instance.CampaignID,
			InstanceID:     step.InstanceID,
			StepInstanceID: step.StepInstanceID,
			Status:         entities.ActionStatusPending,
			ScheduledAt:    newTime,
			CreatedAt:      now,
			UpdatedAt:      now,
		}); err != nil {
			return err
		}
	}

	// A plan that already completed reopens when one of its steps does,
	// otherwise the dispatcher would discard the re-attempt as stale.
	if instance.Status == entities.InstanceStatusCompleted {
		if err := uc.Instances.UpdateInstanceStatus(ctx, tenantID, step.InstanceID, entities.InstanceStatusActive, now); err != nil {
			return err
		}
		reopenID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return err
		}
		if err := uc.Transitions.Append(ctx, entities.CampaignTransition{
			TransitionID: reopenID,
			TenantID:     tenantID,
			InstanceID:   step.InstanceID,
			Entity:       entities.TransitionEntityInstance,
			EntityID:     step.InstanceID,
			FromState:    string(entities.InstanceStatusCompleted),
			ToState:      string(entities.InstanceStatusActive),
			Reason:       "step reopened by reschedule",
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	}

	transitionID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	if err := uc.Transitions.Append(ctx, entities.CampaignTransition{
		TransitionID: transitionID,
		TenantID:     tenantID,
		InstanceID:   step.InstanceID,
		Entity:       entities.TransitionEntityStep,
		EntityID:     step.StepInstanceID,
		FromState:    string(fromStatus),
		ToState:      string(entities.StepStatusPending),
		Reason:       rescheduleReason(cmd.Reason),
		CreatedAt:    now,
	}); err != nil {
		return err
	}

	logger.Info("step instance rescheduled",
		"event", "campaign_step_rescheduled",
		"module", "outreach/campaign-engine",
		"layer", "application",
		"tenant_id", tenantID,
		"step_instance_id", step.StepInstanceID,
		"from_status", string(fromStatus),
		"scheduled_at", newTime.Format(time.RFC3339),
		"attempt_epoch", step.AttemptEpoch,
	)
	return nil
}

func rescheduleReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "manual reschedule"
	}
	return reason
}
