package ports

import (
	"context"
	"time"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	contractsv1 "github.com/Nex2i/dripiq-sub001/contracts/gen/events/v1"
)

type PlanRepository interface {
	CreateTemplate(ctx context.Context, template entities.CampaignTemplate) error
	GetTemplate(ctx context.Context, tenantID, campaignID string) (entities.CampaignTemplate, error)
	// SnapshotPlan freezes the template's current steps as the next plan
	// version and returns it.
	SnapshotPlan(ctx context.Context, tenantID, campaignID string) (entities.CampaignPlanVersion, error)
	GetPlanVersion(ctx context.Context, tenantID, campaignID string, version int) (entities.CampaignPlanVersion, error)
	LatestPlanVersion(ctx context.Context, tenantID, campaignID string) (entities.CampaignPlanVersion, error)
}

type InstanceRepository interface {
	// CreateInstance persists the instance and its step instances atomically.
	// Enrolling the same contact in the same campaign twice is a conflict.
	CreateInstance(ctx context.Context, instance entities.ContactCampaignInstance, steps []entities.CampaignStepInstance) error
	GetInstance(ctx context.Context, tenantID, instanceID string) (entities.ContactCampaignInstance, error)
	FindInstanceByContact(ctx context.Context, tenantID, campaignID, contactID string) (entities.ContactCampaignInstance, error)
	UpdateInstanceStatus(ctx context.Context, tenantID, instanceID string, status entities.InstanceStatus, updatedAt time.Time) error
	ListInstancesByCampaign(ctx context.Context, tenantID, campaignID string) ([]entities.ContactCampaignInstance, error)

	GetStepInstance(ctx context.Context, tenantID, stepInstanceID string) (entities.CampaignStepInstance, error)
	ListStepInstances(ctx context.Context, tenantID, instanceID string) ([]entities.CampaignStepInstance, error)
	UpdateStepInstance(ctx context.Context, step entities.CampaignStepInstance) error
	CountStepStatuses(ctx context.Context, tenantID, campaignID string) (map[entities.StepStatus]int, error)
}

// ActionQueueStore is the durable job queue. ClaimDue is the engine's core
// correctness primitive: the store must guarantee no two concurrent callers
// ever receive the same row, using its native locking, not process mutexes.
type ActionQueueStore interface {
	Enqueue(ctx context.Context, action entities.ScheduledAction) error
	// ClaimDue atomically moves up to maxBatch eligible pending rows
	// (scheduled_at <= now) to claimed with a lease and returns them.
	// tenantID empty claims across all tenants.
	ClaimDue(ctx context.Context, tenantID string, now time.Time, maxBatch int, leaseTTL time.Duration) ([]entities.ScheduledAction, error)
	MarkExecuting(ctx context.Context, tenantID, actionID string, leaseExpiresAt time.Time) error
	MarkDone(ctx context.Context, tenantID, actionID string, now time.Time) error
	MarkFailed(ctx context.Context, tenantID, actionID, reason string, now time.Time) error
	// Release returns a claimed action to pending with a new earliest
	// execution time. Used for rate-limit refusals and transient retries so
	// the claim is never permanently consumed.
	Release(ctx context.Context, tenantID, actionID string, nextAt time.Time, reason string) error
	// CancelByCampaign soft-cancels all still-pending actions for a campaign.
	// Claimed and executing actions are unaffected.
	CancelByCampaign(ctx context.Context, tenantID, campaignID string, now time.Time) (int, error)
	// ReclaimExpired returns claimed/executing actions whose lease has lapsed
	// to pending so a crashed worker's work is eventually re-run.
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)
	GetOpenActionByStep(ctx context.Context, tenantID, stepInstanceID string) (entities.ScheduledAction, bool, error)
}

type SuppressionStore interface {
	// IsBlocked must be evaluated fresh on every dispatch attempt; suppression
	// added between schedule time and send time has to win.
	IsBlocked(ctx context.Context, tenantID string, channel entities.Channel, address string) (bool, error)
	AddSuppression(ctx context.Context, item entities.CommunicationSuppression) error
	AddUnsubscribe(ctx context.Context, item entities.ContactUnsubscribe) error
	PutValidationRecord(ctx context.Context, item entities.EmailValidationRecord) error
}

type RateLimitStore interface {
	// TryAcquire consumes one send slot against the tenant's policy for the
	// channel (and identity, when the policy is identity-scoped). It must be
	// safe under concurrent callers: the configured budget is a hard ceiling.
	// Absent policy means unlimited.
	TryAcquire(ctx context.Context, tenantID string, channel entities.Channel, identity string, now time.Time) (bool, error)
	PutPolicy(ctx context.Context, policy entities.SendRateLimit) error
}

type MessageStore interface {
	// CreateOutboundMessage inserts the message; a dedupe-key conflict returns
	// ErrDuplicateDedupeKey with the existing row so callers can treat the
	// replay as success.
	CreateOutboundMessage(ctx context.Context, message entities.OutboundMessage) (entities.OutboundMessage, error)
	FindMessageByDedupeKey(ctx context.Context, tenantID, dedupeKey string) (entities.OutboundMessage, bool, error)
	GetMessageByProviderID(ctx context.Context, tenantID, providerMessageID string) (entities.OutboundMessage, error)
	UpdateMessageStatus(ctx context.Context, tenantID, messageID string, status entities.MessageStatus, updatedAt time.Time) error
	AppendMessageEvent(ctx context.Context, event entities.MessageEvent) error
	CreateInboundMessage(ctx context.Context, inbound entities.InboundMessage) error
}

type TransitionLog interface {
	Append(ctx context.Context, transition entities.CampaignTransition) error
	ListByInstance(ctx context.Context, tenantID, instanceID string) ([]entities.CampaignTransition, error)
}

type EventEnvelope = contractsv1.Envelope

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type EventDedupStore interface {
	// ReserveEvent returns true when the event was already processed.
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
	// ReleaseEvent undoes a reservation whose apply failed, so a redelivery
	// or replay is not deduped away.
	ReleaseEvent(ctx context.Context, eventID string) error
}

type SendRequest struct {
	TenantID  string
	Channel   entities.Channel
	Identity  string
	Address   string
	Subject   string
	Body      string
	DedupeKey string
}

// ProviderError distinguishes hard provider rejections from transient faults.
// Anything else returned from Send is treated as transient.
type ProviderError struct {
	Permanent bool
	Message   string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// ProviderClient is the engine's only external side effect.
type ProviderClient interface {
	Send(ctx context.Context, req SendRequest) (providerMessageID string, err error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
