package application

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

// Advancer moves a campaign instance forward after a step outcome: it
// schedules the next eligible step's action, or completes the instance once
// every step has reached a terminal status. Both the dispatcher and the
// engagement consumer drive it.
type Advancer struct {
	Plans       ports.PlanRepository
	Instances   ports.InstanceRepository
	Queue       ports.ActionQueueStore
	Transitions ports.TransitionLog
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      *slog.Logger
}

func (a Advancer) Advance(ctx context.Context, tenantID, instanceID string) error {
	logger := ResolveLogger(a.Logger)

	instance, err := a.Instances.GetInstance(ctx, tenantID, instanceID)
	if err != nil {
		return err
	}
	if instance.Status == entities.InstanceStatusCompleted {
		return nil
	}

	steps, err := a.Instances.ListStepInstances(ctx, tenantID, instanceID)
	if err != nil {
		return err
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })

	now := a.Clock.Now().UTC()

	if allTerminal(steps) {
		if !instance.CanTransition(entities.InstanceStatusCompleted) {
			return nil
		}
		if err := a.Instances.UpdateInstanceStatus(ctx, tenantID, instanceID, entities.InstanceStatusCompleted, now); err != nil {
			return err
		}
		if err := a.appendTransition(ctx, instance, entities.TransitionEntityInstance, instanceID,
			string(instance.Status), string(entities.InstanceStatusCompleted), "all steps reached a terminal status", now); err != nil {
			return err
		}
		logger.Info("campaign instance completed",
			"event", "campaign_instance_completed",
			"module", "outreach/campaign-engine",
			"layer", "application",
			"tenant_id", tenantID,
			"instance_id", instanceID,
		)
		return nil
	}

	// Paused instances hold their place; resume re-runs the advance.
	if instance.Status != entities.InstanceStatusActive {
		return nil
	}

	next, ok := nextPendingStep(steps)
	if !ok {
		// Remaining steps are in flight (sent, awaiting feedback).
		return nil
	}

	if _, open, err := a.Queue.GetOpenActionByStep(ctx, tenantID, next.StepInstanceID); err != nil {
		return err
	} else if open {
		return nil
	}

	plan, err := a.Plans.GetPlanVersion(ctx, tenantID, instance.CampaignID, instance.PlanVersion)
	if err != nil {
		return err
	}
	planStep, found := plan.StepAt(next.Position)
	if !found {
		return nil
	}

	scheduledAt := instance.EnrolledAt.UTC().Add(planStep.Offset)
	if planStep.FromPriorOutcome {
		scheduledAt = now.Add(planStep.Offset)
	}
	if scheduledAt.Before(now) {
		scheduledAt = now
	}

	next.ScheduledAt = scheduledAt
	next.UpdatedAt = now
	if err := a.Instances.UpdateStepInstance(ctx, next); err != nil {
		return err
	}

	actionID, err := a.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	action := entities.ScheduledAction{
		ActionID:       actionID,
		TenantID:       tenantID,
		CampaignID:     instance.CampaignID,
		InstanceID:     instanceID,
		StepInstanceID: next.StepInstanceID,
		Status:         entities.ActionStatusPending,
		ScheduledAt:    scheduledAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.Queue.Enqueue(ctx, action); err != nil {
		return err
	}
	if err := a.appendTransition(ctx, instance, entities.TransitionEntityAction, actionID,
		"", string(entities.ActionStatusPending), "next step scheduled", now); err != nil {
		return err
	}

	logger.Info("next step scheduled",
		"event", "campaign_step_scheduled",
		"module", "outreach/campaign-engine",
		"layer", "application",
		"tenant_id", tenantID,
		"instance_id", instanceID,
		"step_instance_id", next.StepInstanceID,
		"position", next.Position,
		"scheduled_at", scheduledAt.Format(time.RFC3339),
	)
	return nil
}

func (a Advancer) appendTransition(
	ctx context.Context,
	instance entities.ContactCampaignInstance,
	entity entities.TransitionEntity,
	entityID, from, to, reason string,
	now time.Time,
) error {
	transitionID, err := a.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	return a.Transitions.Append(ctx, entities.CampaignTransition{
		TransitionID: transitionID,
		TenantID:     instance.TenantID,
		InstanceID:   instance.InstanceID,
		Entity:       entity,
		EntityID:     entityID,
		FromState:    from,
		ToState:      to,
		Reason:       reason,
		CreatedAt:    now,
	})
}

func allTerminal(steps []entities.CampaignStepInstance) bool {
	if len(steps) == 0 {
		return false
	}
	for _, step := range steps {
		if !step.Status.Terminal() {
			return false
		}
	}
	return true
}

func nextPendingStep(steps []entities.CampaignStepInstance) (entities.CampaignStepInstance, bool) {
	for _, step := range steps {
		if step.Status == entities.StepStatusPending {
			return step, true
		}
	}
	return entities.CampaignStepInstance{}, false
}
