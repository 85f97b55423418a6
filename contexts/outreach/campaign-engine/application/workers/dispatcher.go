package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/errors"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/services"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

const pausedRecheckDelay = 5 * time.Minute

type DispatchOutcome string

const (
	DispatchOutcomeSent        DispatchOutcome = "sent"
	DispatchOutcomeReplayed    DispatchOutcome = "replayed"
	DispatchOutcomeSkipped     DispatchOutcome = "skipped"
	DispatchOutcomeRateLimited DispatchOutcome = "rate_limited"
	DispatchOutcomeRetried     DispatchOutcome = "retried"
	DispatchOutcomeFailed      DispatchOutcome = "failed"
	DispatchOutcomeStale       DispatchOutcome = "stale"
)

// Dispatcher claims due actions and runs the gate-and-send pipeline for each:
// dedupe replay check, suppression gate, rate limiter, provider send, state
// update. Any number of dispatchers may poll concurrently; exclusivity comes
// from the store's atomic claim.
type Dispatcher struct {
	Queue       ports.ActionQueueStore
	Plans       ports.PlanRepository
	Instances   ports.InstanceRepository
	Suppression ports.SuppressionStore
	RateLimits  ports.RateLimitStore
	Messages    ports.MessageStore
	Transitions ports.TransitionLog
	Provider    ports.ProviderClient
	Advancer    application.Advancer
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	// TenantID scopes the poll; empty claims across all tenants.
	TenantID  string
	BatchSize int
	LeaseTTL  time.Duration
	Logger    *slog.Logger
}

func (d Dispatcher) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(d.Logger)

	batch := d.BatchSize
	if batch <= 0 {
		batch = 50
	}
	lease := d.LeaseTTL
	if lease <= 0 {
		lease = 5 * time.Minute
	}

	now := d.Clock.Now().UTC()
	actions, err := d.Queue.ClaimDue(ctx, d.TenantID, now, batch, lease)
	if err != nil {
		logger.Error("action claim failed",
			"event", "dispatch_claim_failed",
			"module", "outreach/campaign-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	for _, action := range actions {
		outcome, err := d.Dispatch(ctx, action)
		if err != nil {
			logger.Error("dispatch failed",
				"event", "dispatch_failed",
				"module", "outreach/campaign-engine",
				"layer", "worker",
				"action_id", action.ActionID,
				"step_instance_id", action.StepInstanceID,
				"error", err.Error(),
			)
			continue
		}
		logger.Info("action dispatched",
			"event", "dispatch_completed",
			"module", "outreach/campaign-engine",
			"layer", "worker",
			"action_id", action.ActionID,
			"step_instance_id", action.StepInstanceID,
			"outcome", string(outcome),
		)
	}
	return nil
}

// Dispatch executes one claimed action through the full pipeline. Suppression
// is evaluated before the rate limiter: it is deterministic and must not
// consume rate budget.
func (d Dispatcher) Dispatch(ctx context.Context, action entities.ScheduledAction) (DispatchOutcome, error) {
	now := d.Clock.Now().UTC()
	lease := d.LeaseTTL
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	if err := d.Queue.MarkExecuting(ctx, action.TenantID, action.ActionID, now.Add(lease)); err != nil {
		// Lost the row to cancellation or another worker's reclaim; proceed
		// elsewhere.
		if errors.Is(err, domainerrors.ErrActionNotClaimable) {
			return DispatchOutcomeStale, nil
		}
		return "", err
	}

	step, err := d.Instances.GetStepInstance(ctx, action.TenantID, action.StepInstanceID)
	if err != nil {
		if markErr := d.Queue.MarkFailed(ctx, action.TenantID, action.ActionID, "step instance missing", now); markErr != nil {
			return "", markErr
		}
		return DispatchOutcomeFailed, nil
	}
	instance, err := d.Instances.GetInstance(ctx, action.TenantID, action.InstanceID)
	if err != nil {
		return "", err
	}

	if step.Status != entities.StepStatusPending || instance.Status == entities.InstanceStatusCompleted {
		if err := d.Queue.MarkDone(ctx, action.TenantID, action.ActionID, now); err != nil {
			return "", err
		}
		return DispatchOutcomeStale, nil
	}
	if instance.Status == entities.InstanceStatusPaused {
		if err := d.Queue.Release(ctx, action.TenantID, action.ActionID, now.Add(pausedRecheckDelay), "instance paused"); err != nil {
			return "", err
		}
		return DispatchOutcomeStale, nil
	}

	dedupeKey := services.DedupeKey(action.TenantID, step.StepInstanceID, step.AttemptEpoch)

	// Idempotent replay: an earlier attempt already created the message.
	if _, found, err := d.Messages.FindMessageByDedupeKey(ctx, action.TenantID, dedupeKey); err != nil {
		return "", err
	} else if found {
		if err := d.finishSentStep(ctx, instance, step, now); err != nil {
			return "", err
		}
		if err := d.Queue.MarkDone(ctx, action.TenantID, action.ActionID, now); err != nil {
			return "", err
		}
		if err := d.Advancer.Advance(ctx, action.TenantID, action.InstanceID); err != nil {
			return "", err
		}
		return DispatchOutcomeReplayed, nil
	}

	address := instance.Address(step.Channel)

	// Fresh on every attempt: suppression added after scheduling must win.
	blocked, err := d.Suppression.IsBlocked(ctx, action.TenantID, step.Channel, address)
	if err != nil {
		return "", err
	}
	if blocked {
		if err := d.skipSuppressed(ctx, instance, step, now); err != nil {
			return "", err
		}
		if err := d.Queue.MarkDone(ctx, action.TenantID, action.ActionID, now); err != nil {
			return "", err
		}
		if err := d.Advancer.Advance(ctx, action.TenantID, action.InstanceID); err != nil {
			return "", err
		}
		return DispatchOutcomeSkipped, nil
	}

	acquired, err := d.RateLimits.TryAcquire(ctx, action.TenantID, step.Channel, step.Identity, now)
	if err != nil {
		return "", err
	}
	if !acquired {
		// The claim is returned, not consumed: back to pending shortly.
		if err := d.Queue.Release(ctx, action.TenantID, action.ActionID, now.Add(services.RateLimitBackoff), "rate limited"); err != nil {
			return "", err
		}
		return DispatchOutcomeRateLimited, nil
	}

	plan, err := d.Plans.GetPlanVersion(ctx, action.TenantID, instance.CampaignID, instance.PlanVersion)
	if err != nil {
		return "", err
	}
	planStep, _ := plan.StepAt(step.Position)

	providerMessageID, sendErr := d.Provider.Send(ctx, ports.SendRequest{
		TenantID:  action.TenantID,
		Channel:   step.Channel,
		Identity:  step.Identity,
		Address:   address,
		Subject:   planStep.Subject,
		Body:      planStep.Body,
		DedupeKey: dedupeKey,
	})
	if sendErr != nil {
		return d.handleSendError(ctx, instance, step, action, sendErr, now)
	}

	messageID, err := d.IDGen.NewID(ctx)
	if err != nil {
		return "", err
	}
	message := entities.OutboundMessage{
		MessageID:         messageID,
		TenantID:          action.TenantID,
		InstanceID:        action.InstanceID,
		StepInstanceID:    step.StepInstanceID,
		Channel:           step.Channel,
		Identity:          step.Identity,
		Address:           address,
		DedupeKey:         dedupeKey,
		RenderedSubject:   planStep.Subject,
		RenderedBody:      planStep.Body,
		Status:            entities.MessageStatusAccepted,
		ProviderMessageID: providerMessageID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := d.Messages.CreateOutboundMessage(ctx, message); err != nil {
		// A concurrent attempt won the insert race: same logical send, success.
		if !errors.Is(err, domainerrors.ErrDuplicateDedupeKey) {
			return "", err
		}
	}

	if err := d.finishSentStep(ctx, instance, step, now); err != nil {
		return "", err
	}
	if err := d.Queue.MarkDone(ctx, action.TenantID, action.ActionID, now); err != nil {
		return "", err
	}
	if err := d.Advancer.Advance(ctx, action.TenantID, action.InstanceID); err != nil {
		return "", err
	}
	return DispatchOutcomeSent, nil
}

// finishSentStep marks the step sent, and completes it straight away on
// channels without asynchronous provider feedback.
func (d Dispatcher) finishSentStep(
	ctx context.Context,
	instance entities.ContactCampaignInstance,
	step entities.CampaignStepInstance,
	now time.Time,
) error {
	if step.Status != entities.StepStatusPending {
		return nil
	}
	step.Status = entities.StepStatusSent
	step.SentAt = &now
	step.UpdatedAt = now
	if err := d.Instances.UpdateStepInstance(ctx, step); err != nil {
		return err
	}
	if err := d.appendTransition(ctx, instance, entities.TransitionEntityStep, step.StepInstanceID,
		string(entities.StepStatusPending), string(entities.StepStatusSent), "message dispatched", now); err != nil {
		return err
	}

	if step.Channel.AcknowledgesAsync() {
		return nil
	}
	step.Status = entities.StepStatusCompleted
	step.UpdatedAt = now
	if err := d.Instances.UpdateStepInstance(ctx, step); err != nil {
		return err
	}
	return d.appendTransition(ctx, instance, entities.TransitionEntityStep, step.StepInstanceID,
		string(entities.StepStatusSent), string(entities.StepStatusCompleted), "channel has no delivery feedback", now)
}

// skipSuppressed marks the gated step skipped and also skips every other
// un-dispatched step on the same channel, preserving an auditable reason
// instead of silently dropping them.
func (d Dispatcher) skipSuppressed(
	ctx context.Context,
	instance entities.ContactCampaignInstance,
	step entities.CampaignStepInstance,
	now time.Time,
) error {
	steps, err := d.Instances.ListStepInstances(ctx, instance.TenantID, instance.InstanceID)
	if err != nil {
		return err
	}
	for _, item := range steps {
		if item.Channel != step.Channel || item.Status != entities.StepStatusPending {
			continue
		}
		item.Status = entities.StepStatusSkipped
		item.UpdatedAt = now
		if err := d.Instances.UpdateStepInstance(ctx, item); err != nil {
			return err
		}
		if err := d.appendTransition(ctx, instance, entities.TransitionEntityStep, item.StepInstanceID,
			string(entities.StepStatusPending), string(entities.StepStatusSkipped), "destination address suppressed", now); err != nil {
			return err
		}
		if item.StepInstanceID == step.StepInstanceID {
			continue
		}
		// Orphaned actions for sibling skipped steps are canceled, not left
		// to be claimed.
		if open, found, err := d.Queue.GetOpenActionByStep(ctx, instance.TenantID, item.StepInstanceID); err != nil {
			return err
		} else if found && open.Status == entities.ActionStatusPending {
			if err := d.Queue.MarkFailed(ctx, instance.TenantID, open.ActionID, "step skipped: address suppressed", now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d Dispatcher) handleSendError(
	ctx context.Context,
	instance entities.ContactCampaignInstance,
	step entities.CampaignStepInstance,
	action entities.ScheduledAction,
	sendErr error,
	now time.Time,
) (DispatchOutcome, error) {
	var providerErr *ports.ProviderError
	permanent := errors.As(sendErr, &providerErr) && providerErr.Permanent

	if !permanent && action.Attempts < services.MaxSendAttempts {
		nextAt := now.Add(services.NextBackoff(action.Attempts))
		if err := d.Queue.Release(ctx, action.TenantID, action.ActionID, nextAt, sendErr.Error()); err != nil {
			return "", err
		}
		return DispatchOutcomeRetried, nil
	}

	reason := "provider rejected send: " + sendErr.Error()
	if !permanent {
		reason = "retries exhausted: " + sendErr.Error()
	}

	step.Status = entities.StepStatusFailed
	step.LastError = sendErr.Error()
	step.UpdatedAt = now
	if err := d.Instances.UpdateStepInstance(ctx, step); err != nil {
		return "", err
	}
	if err := d.appendTransition(ctx, instance, entities.TransitionEntityStep, step.StepInstanceID,
		string(entities.StepStatusPending), string(entities.StepStatusFailed), reason, now); err != nil {
		return "", err
	}
	if err := d.Queue.MarkFailed(ctx, action.TenantID, action.ActionID, sendErr.Error(), now); err != nil {
		return "", err
	}
	if err := d.Advancer.Advance(ctx, action.TenantID, action.InstanceID); err != nil {
		return "", err
	}
	return DispatchOutcomeFailed, nil
}

func (d Dispatcher) appendTransition(
	ctx context.Context,
	instance entities.ContactCampaignInstance,
	entity entities.TransitionEntity,
	entityID, from, to, reason string,
	now time.Time,
) error {
	transitionID, err := d.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	return d.Transitions.Append(ctx, entities.CampaignTransition{
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
