package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/errors"

	"github.com/google/uuid"
)

// Store is the in-memory implementation of every campaign-engine port. The
// postgres adapter is authoritative for production; this one preserves the
// same semantics (claim exclusivity, dedupe uniqueness, rate ceilings) behind
// a mutex and backs the in-memory module used by tests.
type Store struct {
	mu sync.Mutex

	now time.Time

	templates   map[string]entities.CampaignTemplate      // key: tenant|campaign
	plans       map[string][]entities.CampaignPlanVersion // key: tenant|campaign
	instances   map[string]entities.ContactCampaignInstance
	steps       map[string]entities.CampaignStepInstance
	actions     map[string]entities.ScheduledAction
	messages    map[string]entities.OutboundMessage
	events      []entities.MessageEvent
	inbound     []entities.InboundMessage
	transitions []entities.CampaignTransition

	suppressions  []entities.CommunicationSuppression
	unsubscribes  []entities.ContactUnsubscribe
	validations   map[string]entities.EmailValidationRecord // key: tenant|address
	ratePolicies  []entities.SendRateLimit
	rateGrants    map[string][]time.Time // key: tenant|channel|identity-scope
	dedupedEvents map[string]time.Time
}

func NewStore() *Store {
	return &Store{
		templates:     make(map[string]entities.CampaignTemplate),
		plans:         make(map[string][]entities.CampaignPlanVersion),
		instances:     make(map[string]entities.ContactCampaignInstance),
		steps:         make(map[string]entities.CampaignStepInstance),
		actions:       make(map[string]entities.ScheduledAction),
		messages:      make(map[string]entities.OutboundMessage),
		validations:   make(map[string]entities.EmailValidationRecord),
		rateGrants:    make(map[string][]time.Time),
		dedupedEvents: make(map[string]time.Time),
	}
}

// SetNow pins the store clock; zero reverts to wall time.
func (s *Store) SetNow(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now.IsZero() {
		return time.Now().UTC()
	}
	return s.now
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func planKey(tenantID, campaignID string) string {
	return tenantID + "|" + campaignID
}

// ---- PlanRepository ----

func (s *Store) CreateTemplate(_ context.Context, template entities.CampaignTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := planKey(template.TenantID, template.CampaignID)
	if _, exists := s.templates[key]; exists {
		return domainerrors.ErrInvalidCampaignInput
	}
	s.templates[key] = template
	return nil
}

func (s *Store) GetTemplate(_ context.Context, tenantID, campaignID string) (entities.CampaignTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	template, exists := s.templates[planKey(tenantID, campaignID)]
	if !exists {
		return entities.CampaignTemplate{}, domainerrors.ErrCampaignNotFound
	}
	return template, nil
}

func (s *Store) SnapshotPlan(_ context.Context, tenantID, campaignID string) (entities.CampaignPlanVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := planKey(tenantID, campaignID)
	template, exists := s.templates[key]
	if !exists {
		return entities.CampaignPlanVersion{}, domainerrors.ErrCampaignNotFound
	}
	plan := entities.CampaignPlanVersion{
		CampaignID: campaignID,
		TenantID:   tenantID,
		Version:    len(s.plans[key]) + 1,
		Steps:      append([]entities.CampaignStepTemplate(nil), template.Steps...),
		CreatedAt:  s.clockNow(),
	}
	s.plans[key] = append(s.plans[key], plan)
	return plan, nil
}

func (s *Store) GetPlanVersion(_ context.Context, tenantID, campaignID string, version int) (entities.CampaignPlanVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, plan := range s.plans[planKey(tenantID, campaignID)] {
		if plan.Version == version {
			return plan, nil
		}
	}
	return entities.CampaignPlanVersion{}, domainerrors.ErrPlanVersionNotFound
}

func (s *Store) LatestPlanVersion(_ context.Context, tenantID, campaignID string) (entities.CampaignPlanVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plans := s.plans[planKey(tenantID, campaignID)]
	if len(plans) == 0 {
		return entities.CampaignPlanVersion{}, domainerrors.ErrPlanVersionNotFound
	}
	return plans[len(plans)-1], nil
}

// ---- InstanceRepository ----

func (s *Store) CreateInstance(_ context.Context, instance entities.ContactCampaignInstance, steps []entities.CampaignStepInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.instances {
		if existing.TenantID == instance.TenantID &&
			existing.CampaignID == instance.CampaignID &&
			existing.ContactID == instance.ContactID {
			return domainerrors.ErrContactAlreadyEnrolled
		}
	}
	s.instances[instance.InstanceID] = instance
	for _, step := range steps {
		s.steps[step.StepInstanceID] = step
	}
	return nil
}

func (s *Store) GetInstance(_ context.Context, tenantID, instanceID string) (entities.ContactCampaignInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, exists := s.instances[instanceID]
	if !exists || instance.TenantID != tenantID {
		return entities.ContactCampaignInstance{}, domainerrors.ErrInstanceNotFound
	}
	return instance, nil
}

func (s *Store) FindInstanceByContact(_ context.Context, tenantID, campaignID, contactID string) (entities.ContactCampaignInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, instance := range s.instances {
		if instance.TenantID == tenantID && instance.CampaignID == campaignID && instance.ContactID == contactID {
			return instance, nil
		}
	}
	return entities.ContactCampaignInstance{}, domainerrors.ErrInstanceNotFound
}

func (s *Store) UpdateInstanceStatus(_ context.Context, tenantID, instanceID string, status entities.InstanceStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, exists := s.instances[instanceID]
	if !exists || instance.TenantID != tenantID {
		return domainerrors.ErrInstanceNotFound
	}
	instance.Status = status
	instance.UpdatedAt = updatedAt
	if status == entities.InstanceStatusCompleted {
		completed := updatedAt
		instance.CompletedAt = &completed
	} else {
		instance.CompletedAt = nil
	}
	s.instances[instanceID] = instance
	return nil
}

func (s *Store) ListInstancesByCampaign(_ context.Context, tenantID, campaignID string) ([]entities.ContactCampaignInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.ContactCampaignInstance, 0)
	for _, instance := range s.instances {
		if instance.TenantID == tenantID && instance.CampaignID == campaignID {
			items = append(items, instance)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].EnrolledAt.Before(items[j].EnrolledAt) })
	return items, nil
}

func (s *Store) GetStepInstance(_ context.Context, tenantID, stepInstanceID string) (entities.CampaignStepInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, exists := s.steps[stepInstanceID]
	if !exists || step.TenantID != tenantID {
		return entities.CampaignStepInstance{}, domainerrors.ErrStepInstanceNotFound
	}
	return step, nil
}

func (s *Store) ListStepInstances(_ context.Context, tenantID, instanceID string) ([]entities.CampaignStepInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.CampaignStepInstance, 0)
	for _, step := range s.steps {
		if step.TenantID == tenantID && step.InstanceID == instanceID {
			items = append(items, step)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func (s *Store) UpdateStepInstance(_ context.Context, step entities.CampaignStepInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.steps[step.StepInstanceID]; !exists {
		return domainerrors.ErrStepInstanceNotFound
	}
	s.steps[step.StepInstanceID] = step
	return nil
}

func (s *Store) CountStepStatuses(_ context.Context, tenantID, campaignID string) (map[entities.StepStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[entities.StepStatus]int)
	for _, step := range s.steps {
		if step.TenantID != tenantID {
			continue
		}
		instance, exists := s.instances[step.InstanceID]
		if !exists || instance.CampaignID != campaignID {
			continue
		}
		counts[step.Status]++
	}
	return counts, nil
}

// ---- ActionQueueStore ----

func (s *Store) Enqueue(_ context.Context, action entities.ScheduledAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.actions {
		if existing.StepInstanceID == action.StepInstanceID && existing.Open() {
			return domainerrors.ErrActionNotClaimable
		}
	}
	s.actions[action.ActionID] = action
	return nil
}

func (s *Store) ClaimDue(_ context.Context, tenantID string, now time.Time, maxBatch int, leaseTTL time.Duration) ([]entities.ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]entities.ScheduledAction, 0)
	for _, action := range s.actions {
		if action.Status != entities.ActionStatusPending {
			continue
		}
		if tenantID != "" && action.TenantID != tenantID {
			continue
		}
		if action.ScheduledAt.After(now) {
			continue
		}
		due = append(due, action)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if maxBatch > 0 && len(due) > maxBatch {
		due = due[:maxBatch]
	}

	claimed := make([]entities.ScheduledAction, 0, len(due))
	lease := now.Add(leaseTTL)
	for _, action := range due {
		action.Status = entities.ActionStatusClaimed
		action.LeaseExpiresAt = &lease
		action.Attempts++
		action.UpdatedAt = now
		s.actions[action.ActionID] = action
		claimed = append(claimed, action)
	}
	return claimed, nil
}

func (s *Store) MarkExecuting(_ context.Context, tenantID, actionID string, leaseExpiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, exists := s.actions[actionID]
	if !exists || action.TenantID != tenantID {
		return domainerrors.ErrActionNotFound
	}
	if action.Status != entities.ActionStatusClaimed {
		return domainerrors.ErrActionNotClaimable
	}
	action.Status = entities.ActionStatusExecuting
	action.LeaseExpiresAt = &leaseExpiresAt
	s.actions[actionID] = action
	return nil
}

func (s *Store) MarkDone(_ context.Context, tenantID, actionID string, now time.Time) error {
	return s.finishAction(tenantID, actionID, entities.ActionStatusDone, "", now)
}

func (s *Store) MarkFailed(_ context.Context, tenantID, actionID, reason string, now time.Time) error {
	return s.finishAction(tenantID, actionID, entities.ActionStatusFailed, reason, now)
}

func (s *Store) finishAction(tenantID, actionID string, status entities.ActionStatus, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, exists := s.actions[actionID]
	if !exists || action.TenantID != tenantID {
		return domainerrors.ErrActionNotFound
	}
	if action.Status.Terminal() {
		return domainerrors.ErrActionNotClaimable
	}
	action.Status = status
	action.LastError = reason
	action.LeaseExpiresAt = nil
	action.UpdatedAt = now
	s.actions[actionID] = action
	return nil
}

func (s *Store) Release(_ context.Context, tenantID, actionID string, nextAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, exists := s.actions[actionID]
	if !exists || action.TenantID != tenantID {
		return domainerrors.ErrActionNotFound
	}
	if action.Status.Terminal() {
		return domainerrors.ErrActionNotClaimable
	}
	action.Status = entities.ActionStatusPending
	action.ScheduledAt = nextAt
	action.LeaseExpiresAt = nil
	action.LastError = reason
	action.UpdatedAt = nextAt
	s.actions[actionID] = action
	return nil
}

func (s *Store) CancelByCampaign(_ context.Context, tenantID, campaignID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, action := range s.actions {
		if action.TenantID != tenantID || action.CampaignID != campaignID {
			continue
		}
		if action.Status != entities.ActionStatusPending {
			continue
		}
		action.Status = entities.ActionStatusCanceled
		action.UpdatedAt = now
		s.actions[id] = action
		count++
	}
	return count, nil
}

func (s *Store) ReclaimExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, action := range s.actions {
		if !action.LeaseExpired(now) {
			continue
		}
		action.Status = entities.ActionStatusPending
		action.LeaseExpiresAt = nil
		action.UpdatedAt = now
		s.actions[id] = action
		count++
	}
	return count, nil
}

func (s *Store) GetOpenActionByStep(_ context.Context, tenantID, stepInstanceID string) (entities.ScheduledAction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, action := range s.actions {
		if action.TenantID == tenantID && action.StepInstanceID == stepInstanceID && action.Open() {
			return action, true, nil
		}
	}
	return entities.ScheduledAction{}, false, nil
}

// ---- SuppressionStore ----

func (s *Store) IsBlocked(_ context.Context, tenantID string, channel entities.Channel, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return true, nil
	}
	for _, item := range s.suppressions {
		if item.TenantID == tenantID && item.Channel == channel && strings.ToLower(item.Address) == address {
			return true, nil
		}
	}
	for _, item := range s.unsubscribes {
		if item.TenantID == tenantID && item.Channel == channel && strings.ToLower(item.Address) == address {
			return true, nil
		}
	}
	if channel == entities.ChannelEmail {
		if record, exists := s.validations[tenantID+"|"+address]; exists && !record.Valid {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AddSuppression(_ context.Context, item entities.CommunicationSuppression) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.suppressions {
		if existing.TenantID == item.TenantID && existing.Channel == item.Channel &&
			strings.EqualFold(existing.Address, item.Address) {
			return nil
		}
	}
	s.suppressions = append(s.suppressions, item)
	return nil
}

func (s *Store) AddUnsubscribe(_ context.Context, item entities.ContactUnsubscribe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribes = append(s.unsubscribes, item)
	return nil
}

func (s *Store) PutValidationRecord(_ context.Context, item entities.EmailValidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations[item.TenantID+"|"+strings.ToLower(strings.TrimSpace(item.Address))] = item
	return nil
}

// ---- RateLimitStore ----

func (s *Store) TryAcquire(_ context.Context, tenantID string, channel entities.Channel, identity string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, scoped, found := s.matchPolicy(tenantID, channel, identity)
	if !found {
		return true, nil
	}

	key := tenantID + "|" + string(channel)
	if scoped {
		key += "|" + identity
	}
	windowStart := now.Add(-policy.Window)
	kept := make([]time.Time, 0, len(s.rateGrants[key]))
	for _, grantedAt := range s.rateGrants[key] {
		if grantedAt.After(windowStart) {
			kept = append(kept, grantedAt)
		}
	}
	if len(kept) >= policy.MaxPerWindow {
		s.rateGrants[key] = kept
		return false, nil
	}
	s.rateGrants[key] = append(kept, now)
	return true, nil
}

func (s *Store) matchPolicy(tenantID string, channel entities.Channel, identity string) (entities.SendRateLimit, bool, bool) {
	// Identity-scoped policies take precedence over channel-wide ones.
	for _, policy := range s.ratePolicies {
		if policy.TenantID == tenantID && policy.Channel == channel && policy.Identity != "" && policy.Identity == identity {
			return policy, true, true
		}
	}
	for _, policy := range s.ratePolicies {
		if policy.TenantID == tenantID && policy.Channel == channel && policy.Identity == "" {
			return policy, false, true
		}
	}
	return entities.SendRateLimit{}, false, false
}

func (s *Store) PutPolicy(_ context.Context, policy entities.SendRateLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratePolicies = append(s.ratePolicies, policy)
	return nil
}

// ---- MessageStore ----

func (s *Store) CreateOutboundMessage(_ context.Context, message entities.OutboundMessage) (entities.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.messages {
		if existing.TenantID == message.TenantID && existing.DedupeKey == message.DedupeKey {
			return existing, domainerrors.ErrDuplicateDedupeKey
		}
	}
	s.messages[message.MessageID] = message
	return message, nil
}

func (s *Store) FindMessageByDedupeKey(_ context.Context, tenantID, dedupeKey string) (entities.OutboundMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, message := range s.messages {
		if message.TenantID == tenantID && message.DedupeKey == dedupeKey {
			return message, true, nil
		}
	}
	return entities.OutboundMessage{}, false, nil
}

func (s *Store) GetMessageByProviderID(_ context.Context, tenantID, providerMessageID string) (entities.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, message := range s.messages {
		if message.TenantID == tenantID && message.ProviderMessageID == providerMessageID {
			return message, nil
		}
	}
	return entities.OutboundMessage{}, domainerrors.ErrMessageNotFound
}

func (s *Store) UpdateMessageStatus(_ context.Context, tenantID, messageID string, status entities.MessageStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, exists := s.messages[messageID]
	if !exists || message.TenantID != tenantID {
		return domainerrors.ErrMessageNotFound
	}
	message.Status = status
	message.UpdatedAt = updatedAt
	s.messages[messageID] = message
	return nil
}

func (s *Store) AppendMessageEvent(_ context.Context, event entities.MessageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *Store) CreateInboundMessage(_ context.Context, inbound entities.InboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound = append(s.inbound, inbound)
	return nil
}

// ---- TransitionLog ----

func (s *Store) Append(_ context.Context, transition entities.CampaignTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, transition)
	return nil
}

func (s *Store) ListByInstance(_ context.Context, tenantID, instanceID string) ([]entities.CampaignTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.CampaignTransition, 0)
	for _, transition := range s.transitions {
		if transition.TenantID == tenantID && transition.InstanceID == instanceID {
			items = append(items, transition)
		}
	}
	return items, nil
}

// ---- EventDedupStore ----

func (s *Store) ReserveEvent(_ context.Context, eventID string, _ string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dedupedEvents[eventID]; exists {
		return true, nil
	}
	s.dedupedEvents[eventID] = expiresAt
	return false, nil
}

func (s *Store) ReleaseEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dedupedEvents, eventID)
	return nil
}

// ---- test inspection helpers ----

func (s *Store) OutboundMessages() []entities.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.OutboundMessage, 0, len(s.messages))
	for _, message := range s.messages {
		items = append(items, message)
	}
	return items
}

func (s *Store) MessageEvents() []entities.MessageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.MessageEvent(nil), s.events...)
}

func (s *Store) Transitions() []entities.CampaignTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.CampaignTransition(nil), s.transitions...)
}

func (s *Store) InboundMessages() []entities.InboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.InboundMessage(nil), s.inbound...)
}

func (s *Store) clockNow() time.Time {
	if s.now.IsZero() {
		return time.Now().UTC()
	}
	return s.now
}
