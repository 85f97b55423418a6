package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	application "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/errors"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

const (
	TopicMessageDelivered = "outreach.message.delivered"
	TopicMessageOpened    = "outreach.message.opened"
	TopicMessageClicked   = "outreach.message.clicked"
	TopicMessageBounced   = "outreach.message.bounced"
	TopicMessageFailed    = "outreach.message.failed"
	TopicMessageReplied   = "outreach.message.replied"

	defaultConsumerGroup = "campaign-engine-engagement-cg"
)

// EngagementConsumer is the transition engine: it maps normalized provider
// events to state changes on messages, step instances, and campaign
// instances. Every applied change is written to the transition log before the
// event counts as processed.
type EngagementConsumer struct {
	Subscriber    ports.EventSubscriber
	Messages      ports.MessageStore
	Instances     ports.InstanceRepository
	Queue         ports.ActionQueueStore
	Suppression   ports.SuppressionStore
	Transitions   ports.TransitionLog
	Dedup         ports.EventDedupStore
	Advancer      application.Advancer
	Clock         ports.Clock
	IDGen         ports.IDGenerator
	ConsumerGroup string
	DedupTTL      time.Duration
	Logger        *slog.Logger
}

type messageEventPayload struct {
	TenantID          string    `json:"tenant_id"`
	Provider          string    `json:"provider"`
	ProviderMessageID string    `json:"provider_message_id"`
	Channel           string    `json:"channel"`
	FromAddress       string    `json:"from_address,omitempty"`
	Body              string    `json:"body,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (c EngagementConsumer) Start(ctx context.Context) error {
	group := c.ConsumerGroup
	if group == "" {
		group = defaultConsumerGroup
	}

	topics := map[string]entities.MessageEventKind{
		TopicMessageDelivered: entities.MessageEventDelivered,
		TopicMessageOpened:    entities.MessageEventOpened,
		TopicMessageClicked:   entities.MessageEventClicked,
		TopicMessageBounced:   entities.MessageEventBounced,
		TopicMessageFailed:    entities.MessageEventFailed,
		TopicMessageReplied:   entities.MessageEventReplied,
	}
	for topic, kind := range topics {
		kind := kind
		if err := c.Subscriber.Subscribe(ctx, topic, group, func(ctx context.Context, event ports.EventEnvelope) error {
			return c.handle(ctx, event, kind)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c EngagementConsumer) handle(ctx context.Context, event ports.EventEnvelope, kind entities.MessageEventKind) error {
	logger := application.ResolveLogger(c.Logger)
	now := c.Clock.Now().UTC()

	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), now.Add(c.dedupTTL()))
	if err != nil {
		return err
	}
	if alreadyProcessed {
		logger.Debug("engagement event already processed",
			"event", "engagement_event_replayed",
			"module", "outreach/campaign-engine",
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}

	// The reservation must not outlive a failed apply: the bus redelivers
	// at-least-once and a kept reservation would dedupe the retry away.
	if err := c.apply(ctx, event, kind, now); err != nil {
		if releaseErr := c.Dedup.ReleaseEvent(ctx, event.EventID); releaseErr != nil {
			logger.Error("failed to release event reservation",
				"event", "engagement_event_release_failed",
				"module", "outreach/campaign-engine",
				"layer", "worker",
				"event_id", event.EventID,
				"error", releaseErr.Error(),
			)
		}
		return err
	}
	return nil
}

func (c EngagementConsumer) apply(ctx context.Context, event ports.EventEnvelope, kind entities.MessageEventKind, now time.Time) error {
	logger := application.ResolveLogger(c.Logger)

	var payload messageEventPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return fmt.Errorf("decode message event payload: %w", err)
	}
	tenantID := event.TenantID
	if tenantID == "" {
		// Older producers only carried tenancy in the payload.
		tenantID = payload.TenantID
	}
	if payload.ProviderMessageID == "" || tenantID == "" {
		return fmt.Errorf("message event missing correlation fields")
	}

	message, err := c.Messages.GetMessageByProviderID(ctx, tenantID, payload.ProviderMessageID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrMessageNotFound) {
			logger.Warn("engagement event for unknown message",
				"event", "engagement_event_unmatched",
				"module", "outreach/campaign-engine",
				"layer", "worker",
				"event_id", event.EventID,
				"provider_message_id", payload.ProviderMessageID,
			)
			return nil
		}
		return err
	}

	eventID, err := c.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	if err := c.Messages.AppendMessageEvent(ctx, entities.MessageEvent{
		EventID:    eventID,
		TenantID:   message.TenantID,
		MessageID:  message.MessageID,
		Kind:       kind,
		EventAt:    payload.OccurredAt.UTC(),
		RecordedAt: now,
	}); err != nil {
		return err
	}

	switch kind {
	case entities.MessageEventDelivered:
		return c.applyDelivered(ctx, message, now)
	case entities.MessageEventBounced:
		return c.applyBounced(ctx, message, now)
	case entities.MessageEventFailed:
		return c.applyProviderFailure(ctx, message, now)
	case entities.MessageEventOpened, entities.MessageEventClicked:
		return c.applyEngagement(ctx, message, kind, now)
	case entities.MessageEventReplied:
		return c.applyReply(ctx, message, payload, now)
	default:
		return nil
	}
}

func (c EngagementConsumer) applyDelivered(ctx context.Context, message entities.OutboundMessage, now time.Time) error {
	if err := c.updateMessageStatus(ctx, message, entities.MessageStatusDelivered, "provider confirmed delivery", now); err != nil {
		return err
	}
	return c.completeStep(ctx, message, "delivery confirmed", now)
}

func (c EngagementConsumer) applyBounced(ctx context.Context, message entities.OutboundMessage, now time.Time) error {
	if err := c.updateMessageStatus(ctx, message, entities.MessageStatusBounced, "provider reported bounce", now); err != nil {
		return err
	}
	// A hard bounce poisons the address for the whole tenant.
	suppressionID, err := c.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	if err := c.Suppression.AddSuppression(ctx, entities.CommunicationSuppression{
		SuppressionID: suppressionID,
		TenantID:      message.TenantID,
		Channel:       message.Channel,
		Address:       message.Address,
		Reason:        "hard bounce",
		CreatedAt:     now,
	}); err != nil {
		return err
	}
	return c.failStep(ctx, message, "address bounced", now)
}

func (c EngagementConsumer) applyProviderFailure(ctx context.Context, message entities.OutboundMessage, now time.Time) error {
	if err := c.updateMessageStatus(ctx, message, entities.MessageStatusFailed, "provider reported failure", now); err != nil {
		return err
	}
	return c.failStep(ctx, message, "provider reported failure", now)
}

func (c EngagementConsumer) applyEngagement(ctx context.Context, message entities.OutboundMessage, kind entities.MessageEventKind, now time.Time) error {
	step, err := c.Instances.GetStepInstance(ctx, message.TenantID, message.StepInstanceID)
	if err != nil {
		return err
	}

	outcome := "open"
	if kind == entities.MessageEventClicked {
		outcome = "click"
	}
	// Click outranks open as the recorded branch outcome.
	if step.BranchOutcome == "" || (outcome == "click" && step.BranchOutcome == "open") {
		step.BranchOutcome = outcome
		step.UpdatedAt = now
		if err := c.Instances.UpdateStepInstance(ctx, step); err != nil {
			return err
		}
	}
	return c.completeStep(ctx, message, "contact engaged: "+outcome, now)
}

func (c EngagementConsumer) applyReply(ctx context.Context, message entities.OutboundMessage, payload messageEventPayload, now time.Time) error {
	inboundID, err := c.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	if err := c.Messages.CreateInboundMessage(ctx, entities.InboundMessage{
		InboundID:      inboundID,
		TenantID:       message.TenantID,
		InstanceID:     message.InstanceID,
		StepInstanceID: message.StepInstanceID,
		Channel:        message.Channel,
		FromAddress:    payload.FromAddress,
		Body:           payload.Body,
		ReceivedAt:     payload.OccurredAt.UTC(),
	}); err != nil {
		return err
	}

	step, err := c.Instances.GetStepInstance(ctx, message.TenantID, message.StepInstanceID)
	if err != nil {
		return err
	}
	if step.BranchOutcome != "reply" {
		step.BranchOutcome = "reply"
		step.UpdatedAt = now
		if err := c.Instances.UpdateStepInstance(ctx, step); err != nil {
			return err
		}
	}
	if err := c.completeStep(ctx, message, "contact replied", now); err != nil {
		return err
	}

	// A reply halts the cadence: the contact is in conversation now.
	instance, err := c.Instances.GetInstance(ctx, message.TenantID, message.InstanceID)
	if err != nil {
		return err
	}
	if instance.Status != entities.InstanceStatusActive {
		return nil
	}
	if err := c.Instances.UpdateInstanceStatus(ctx, message.TenantID, instance.InstanceID, entities.InstanceStatusPaused, now); err != nil {
		return err
	}
	if err := c.appendTransition(ctx, message.TenantID, instance.InstanceID, entities.TransitionEntityInstance, instance.InstanceID,
		string(entities.InstanceStatusActive), string(entities.InstanceStatusPaused), "contact replied", now); err != nil {
		return err
	}

	// Pending follow-ups are parked with the pause; their actions are held by
	// the dispatcher's paused-instance check.
	application.ResolveLogger(c.Logger).Info("instance paused on reply",
		"event", "campaign_instance_paused_on_reply",
		"module", "outreach/campaign-engine",
		"layer", "worker",
		"tenant_id", message.TenantID,
		"instance_id", instance.InstanceID,
	)
	return nil
}

func (c EngagementConsumer) completeStep(ctx context.Context, message entities.OutboundMessage, reason string, now time.Time) error {
	step, err := c.Instances.GetStepInstance(ctx, message.TenantID, message.StepInstanceID)
	if err != nil {
		return err
	}
	if !step.CanTransition(entities.StepStatusCompleted) {
		return nil
	}
	step.Status = entities.StepStatusCompleted
	step.UpdatedAt = now
	if err := c.Instances.UpdateStepInstance(ctx, step); err != nil {
		return err
	}
	if err := c.appendTransition(ctx, message.TenantID, message.InstanceID, entities.TransitionEntityStep, step.StepInstanceID,
		string(entities.StepStatusSent), string(entities.StepStatusCompleted), reason, now); err != nil {
		return err
	}
	return c.Advancer.Advance(ctx, message.TenantID, message.InstanceID)
}

// failStep moves a sent step to failed after the provider reported the send
// never reached the contact, then advances so the instance can still finish.
func (c EngagementConsumer) failStep(ctx context.Context, message entities.OutboundMessage, reason string, now time.Time) error {
	step, err := c.Instances.GetStepInstance(ctx, message.TenantID, message.StepInstanceID)
	if err != nil {
		return err
	}
	if !step.CanTransition(entities.StepStatusFailed) {
		return nil
	}
	fromStatus := step.Status
	step.Status = entities.StepStatusFailed
	step.LastError = reason
	step.UpdatedAt = now
	if err := c.Instances.UpdateStepInstance(ctx, step); err != nil {
		return err
	}
	if err := c.appendTransition(ctx, message.TenantID, message.InstanceID, entities.TransitionEntityStep, step.StepInstanceID,
		string(fromStatus), string(entities.StepStatusFailed), reason, now); err != nil {
		return err
	}
	return c.Advancer.Advance(ctx, message.TenantID, message.InstanceID)
}

func (c EngagementConsumer) updateMessageStatus(
	ctx context.Context,
	message entities.OutboundMessage,
	status entities.MessageStatus,
	reason string,
	now time.Time,
) error {
	if message.Status == status {
		return nil
	}
	if err := c.Messages.UpdateMessageStatus(ctx, message.TenantID, message.MessageID, status, now); err != nil {
		return err
	}
	return c.appendTransition(ctx, message.TenantID, message.InstanceID, entities.TransitionEntityMessage, message.MessageID,
		string(message.Status), string(status), reason, now)
}

func (c EngagementConsumer) appendTransition(
	ctx context.Context,
	tenantID, instanceID string,
	entity entities.TransitionEntity,
	entityID, from, to, reason string,
	now time.Time,
) error {
	transitionID, err := c.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	return c.Transitions.Append(ctx, entities.CampaignTransition{
		TransitionID: transitionID,
		TenantID:     tenantID,
		InstanceID:   instanceID,
		Entity:       entity,
		EntityID:     entityID,
		FromState:    from,
		ToState:      to,
		Reason:       reason,
		CreatedAt:    now,
	})
}

func (c EngagementConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
