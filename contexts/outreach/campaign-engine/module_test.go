package campaignengine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application/commands"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application/queries"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application/workers"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/errors"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/services"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

// capturingBus registers handlers synchronously so tests can feed events
// without a running broker loop.
type capturingBus struct {
	handlers map[string]func(context.Context, ports.EventEnvelope) error
}

func newCapturingBus() *capturingBus {
	return &capturingBus{handlers: make(map[string]func(context.Context, ports.EventEnvelope) error)}
}

func (b *capturingBus) Subscribe(
	_ context.Context,
	topic string,
	_ string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	b.handlers[topic] = handler
	return nil
}

func (b *capturingBus) deliver(t *testing.T, topic string, envelope ports.EventEnvelope) {
	t.Helper()
	handler, exists := b.handlers[topic]
	if !exists {
		t.Fatalf("no handler subscribed for topic %s", topic)
	}
	if err := handler(context.Background(), envelope); err != nil {
		t.Fatalf("handler for %s: %v", topic, err)
	}
}

func (b *capturingBus) deliverExpectingError(t *testing.T, topic string, envelope ports.EventEnvelope) {
	t.Helper()
	handler, exists := b.handlers[topic]
	if !exists {
		t.Fatalf("no handler subscribed for topic %s", topic)
	}
	if err := handler(context.Background(), envelope); err == nil {
		t.Fatalf("expected handler for %s to fail", topic)
	}
}

type engagementPayload struct {
	TenantID          string    `json:"tenant_id"`
	Provider          string    `json:"provider"`
	ProviderMessageID string    `json:"provider_message_id"`
	Channel           string    `json:"channel"`
	FromAddress       string    `json:"from_address,omitempty"`
	Body              string    `json:"body,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func engagementEnvelope(t *testing.T, eventID, topic string, payload engagementPayload) ports.EventEnvelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return ports.EventEnvelope{
		EventID:       eventID,
		EventType:     topic,
		TenantID:      payload.TenantID,
		OccurredAt:    payload.OccurredAt,
		SourceService: "message-events",
		SchemaVersion: 1,
		PartitionKey:  payload.TenantID,
		Data:          data,
	}
}

type fixture struct {
	module Module
	bus    *capturingBus
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := newCapturingBus()
	module := NewInMemoryModule(bus, nil)
	now := time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	if err := module.Consumer.Start(context.Background()); err != nil {
		t.Fatalf("start consumer: %v", err)
	}
	return &fixture{module: module, bus: bus, now: now}
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
	f.module.Store.SetNow(f.now)
}

func (f *fixture) createCampaign(t *testing.T, steps []entities.CampaignStepTemplate) commands.CreateCampaignResult {
	t.Helper()
	result, err := f.module.Handler.CreateCampaign.Execute(context.Background(), commands.CreateCampaignCommand{
		TenantID: "tenant-1",
		Name:     "dormant lead revival",
		Steps:    steps,
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return result
}

func (f *fixture) threeStepCampaign(t *testing.T) commands.CreateCampaignResult {
	t.Helper()
	return f.createCampaign(t, []entities.CampaignStepTemplate{
		{Channel: entities.ChannelEmail, Identity: "sales@acme.com", Subject: "hello", Body: "first touch"},
		{Channel: entities.ChannelEmail, Identity: "sales@acme.com", Subject: "following up", Body: "second touch", Offset: 48 * time.Hour},
		{Channel: entities.ChannelCall, Identity: "+15550000", Body: "call the lead", Offset: 120 * time.Hour},
	})
}

func (f *fixture) enroll(t *testing.T, campaignID string) commands.EnrollContactResult {
	t.Helper()
	result, err := f.module.Handler.Enroll.Execute(context.Background(), commands.EnrollContactCommand{
		TenantID:     "tenant-1",
		CampaignID:   campaignID,
		ContactID:    "contact-1",
		EmailAddress: "lead@example.com",
		PhoneNumber:  "+15550100",
	})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	return result
}

func (f *fixture) runDispatcher(t *testing.T) {
	t.Helper()
	if err := f.module.Dispatcher.RunOnce(context.Background()); err != nil {
		t.Fatalf("dispatcher run: %v", err)
	}
}

func (f *fixture) stepByPosition(t *testing.T, instanceID string, position int) entities.CampaignStepInstance {
	t.Helper()
	result, err := f.module.Handler.Instances.Execute(context.Background(), queries.GetInstanceQuery{
		TenantID:   "tenant-1",
		InstanceID: instanceID,
	})
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	for _, step := range result.Steps {
		if step.Position == position {
			return step
		}
	}
	t.Fatalf("no step at position %d", position)
	return entities.CampaignStepInstance{}
}

func (f *fixture) instance(t *testing.T, instanceID string) entities.ContactCampaignInstance {
	t.Helper()
	result, err := f.module.Handler.Instances.Execute(context.Background(), queries.GetInstanceQuery{
		TenantID:   "tenant-1",
		InstanceID: instanceID,
	})
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	return result.Instance
}

func TestEnrollSchedulesFirstStepOnly(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	if len(enrolled.Steps) != 3 {
		t.Fatalf("expected 3 step instances, got %d", len(enrolled.Steps))
	}
	if enrolled.Replayed {
		t.Fatal("first enrollment must not be a replay")
	}

	first := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
	if _, open, err := f.module.Store.GetOpenActionByStep(context.Background(), "tenant-1", first.StepInstanceID); err != nil || !open {
		t.Fatalf("expected open action for first step, open=%v err=%v", open, err)
	}
	second := f.stepByPosition(t, enrolled.Instance.InstanceID, 1)
	if _, open, err := f.module.Store.GetOpenActionByStep(context.Background(), "tenant-1", second.StepInstanceID); err != nil || open {
		t.Fatalf("later steps must not have actions yet, open=%v err=%v", open, err)
	}
}

func TestEnrollTwiceReplaysExistingInstance(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	first := f.enroll(t, campaign.Template.CampaignID)
	second := f.enroll(t, campaign.Template.CampaignID)

	if !second.Replayed {
		t.Fatal("second enrollment of the same contact must replay")
	}
	if second.Instance.InstanceID != first.Instance.InstanceID {
		t.Fatal("replayed enrollment must return the original instance")
	}
}

func TestDispatchSendsAndSchedulesNextStep(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	f.advance(time.Second)
	f.runDispatcher(t)

	sends := f.module.Provider.Sends()
	if len(sends) != 1 {
		t.Fatalf("expected one provider send, got %d", len(sends))
	}
	if sends[0].Address != "lead@example.com" || sends[0].Subject != "hello" {
		t.Fatalf("unexpected send: %+v", sends[0])
	}

	first := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
	if first.Status != entities.StepStatusSent {
		t.Fatalf("expected first step sent, got %s", first.Status)
	}

	messages := f.module.Store.OutboundMessages()
	if len(messages) != 1 {
		t.Fatalf("expected one outbound message, got %d", len(messages))
	}
	if messages[0].DedupeKey != services.DedupeKey("tenant-1", first.StepInstanceID, 0) {
		t.Fatalf("unexpected dedupe key %q", messages[0].DedupeKey)
	}

	// The next step's action is queued at enrollment time + offset.
	second := f.stepByPosition(t, enrolled.Instance.InstanceID, 1)
	action, open, err := f.module.Store.GetOpenActionByStep(context.Background(), "tenant-1", second.StepInstanceID)
	if err != nil || !open {
		t.Fatalf("expected second step action scheduled, open=%v err=%v", open, err)
	}
	expected := enrolled.Instance.EnrolledAt.Add(48 * time.Hour)
	if !action.ScheduledAt.Equal(expected) {
		t.Fatalf("expected second action at %s, got %s", expected, action.ScheduledAt)
	}

	// Running again before the second step is due sends nothing new.
	f.runDispatcher(t)
	if len(f.module.Provider.Sends()) != 1 {
		t.Fatal("no further sends expected before the next step is due")
	}
}

func TestDispatchReplaysExistingMessageWithoutResending(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	enrolled := f.enroll(t, campaign.Template.CampaignID)
	first := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)

	// A prior worker crashed after creating the message but before marking
	// the action done.
	dedupeKey := services.DedupeKey("tenant-1", first.StepInstanceID, 0)
	if _, err := f.module.Store.CreateOutboundMessage(context.Background(), entities.OutboundMessage{
		MessageID:         "msg-crashed",
		TenantID:          "tenant-1",
		InstanceID:        enrolled.Instance.InstanceID,
		StepInstanceID:    first.StepInstanceID,
		Channel:           entities.ChannelEmail,
		Address:           "lead@example.com",
		DedupeKey:         dedupeKey,
		Status:            entities.MessageStatusAccepted,
		ProviderMessageID: "provider-msg-prior",
		CreatedAt:         f.now,
		UpdatedAt:         f.now,
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	f.advance(time.Second)
	f.runDispatcher(t)

	if len(f.module.Provider.Sends()) != 0 {
		t.Fatal("replayed dispatch must not reach the provider")
	}
	if len(f.module.Store.OutboundMessages()) != 1 {
		t.Fatal("replayed dispatch must not create a second message")
	}
	step := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
	if step.Status != entities.StepStatusSent {
		t.Fatalf("expected step sent after replay, got %s", step.Status)
	}
	if _, open, err := f.module.Store.GetOpenActionByStep(context.Background(), "tenant-1", step.StepInstanceID); err != nil || open {
		t.Fatalf("expected action closed after replay, open=%v err=%v", open, err)
	}
}

func TestSuppressionWinsWithoutConsumingRateBudget(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	if err := f.module.Store.PutPolicy(context.Background(), entities.SendRateLimit{
		LimitID:      "limit-1",
		TenantID:     "tenant-1",
		Channel:      entities.ChannelEmail,
		MaxPerWindow: 1,
		Window:       time.Hour,
	}); err != nil {
		t.Fatalf("put policy: %v", err)
	}
	if err := f.module.Store.AddSuppression(context.Background(), entities.CommunicationSuppression{
		SuppressionID: "sup-1",
		TenantID:      "tenant-1",
		Channel:       entities.ChannelEmail,
		Address:       "lead@example.com",
		Reason:        "complaint",
		CreatedAt:     f.now,
	}); err != nil {
		t.Fatalf("suppress: %v", err)
	}

	f.advance(time.Second)
	f.runDispatcher(t)

	if len(f.module.Provider.Sends()) != 0 {
		t.Fatal("suppressed dispatch must never reach the provider")
	}

	// Both email steps are skipped; the call step is untouched.
	if step := f.stepByPosition(t, enrolled.Instance.InstanceID, 0); step.Status != entities.StepStatusSkipped {
		t.Fatalf("expected first email step skipped, got %s", step.Status)
	}
	if step := f.stepByPosition(t, enrolled.Instance.InstanceID, 1); step.Status != entities.StepStatusSkipped {
		t.Fatalf("expected second email step skipped, got %s", step.Status)
	}
	if step := f.stepByPosition(t, enrolled.Instance.InstanceID, 2); step.Status != entities.StepStatusPending {
		t.Fatalf("expected call step untouched, got %s", step.Status)
	}

	// The refused send consumed no rate budget.
	ok, err := f.module.Store.TryAcquire(context.Background(), "tenant-1", entities.ChannelEmail, "", f.now)
	if err != nil || !ok {
		t.Fatalf("expected full rate budget after suppression skip, ok=%v err=%v", ok, err)
	}
}

func TestRateLimitedDispatchReleasesClaim(t *testing.T) {
	f := newFixture(t)
	campaign := f.createCampaign(t, []entities.CampaignStepTemplate{
		{Channel: entities.ChannelEmail, Identity: "sales@acme.com", Subject: "hi", Body: "touch"},
	})
	if err := f.module.Store.PutPolicy(context.Background(), entities.SendRateLimit{
		LimitID:      "limit-1",
		TenantID:     "tenant-1",
		Channel:      entities.ChannelEmail,
		MaxPerWindow: 1,
		Window:       time.Hour,
	}); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	for i, contact := range []string{"contact-a", "contact-b"} {
		if _, err := f.module.Handler.Enroll.Execute(context.Background(), commands.EnrollContactCommand{
			TenantID:     "tenant-1",
			CampaignID:   campaign.Template.CampaignID,
			ContactID:    contact,
			EmailAddress: []string{"a@example.com", "b@example.com"}[i],
		}); err != nil {
			t.Fatalf("enroll %s: %v", contact, err)
		}
	}

	f.advance(time.Second)
	f.runDispatcher(t)

	if got := len(f.module.Provider.Sends()); got != 1 {
		t.Fatalf("expected exactly one send under a budget of 1, got %d", got)
	}

	// The refused action went back to pending with a short backoff, and is
	// sendable once the window slides.
	f.advance(time.Hour + time.Minute)
	f.runDispatcher(t)
	if got := len(f.module.Provider.Sends()); got != 2 {
		t.Fatalf("expected the released action to send in the next window, got %d sends", got)
	}
}

func TestTransientProviderErrorRetriesUntilExhausted(t *testing.T) {
	f := newFixture(t)
	campaign := f.createCampaign(t, []entities.CampaignStepTemplate{
		{Channel: entities.ChannelEmail, Identity: "sales@acme.com", Subject: "hi", Body: "touch"},
	})
	enrolled := f.enroll(t, campaign.Template.CampaignID)
	first := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)

	dedupeKey := services.DedupeKey("tenant-1", first.StepInstanceID, 0)
	f.module.Provider.FailWith(dedupeKey, errors.New("connection reset"))

	for attempt := 1; attempt <= services.MaxSendAttempts; attempt++ {
		f.advance(2 * time.Hour)
		f.runDispatcher(t)

		step := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
		if attempt < services.MaxSendAttempts {
			if step.Status != entities.StepStatusPending {
				t.Fatalf("attempt %d: expected step still pending, got %s", attempt, step.Status)
			}
			action, open, err := f.module.Store.GetOpenActionByStep(context.Background(), "tenant-1", first.StepInstanceID)
			if err != nil || !open {
				t.Fatalf("attempt %d: expected released action, open=%v err=%v", attempt, open, err)
			}
			if action.Attempts != attempt {
				t.Fatalf("attempt %d: expected %d recorded attempts, got %d", attempt, attempt, action.Attempts)
			}
		} else {
			if step.Status != entities.StepStatusFailed {
				t.Fatalf("expected step failed after %d attempts, got %s", services.MaxSendAttempts, step.Status)
			}
		}
	}

	if _, open, err := f.module.Store.GetOpenActionByStep(context.Background(), "tenant-1", first.StepInstanceID); err != nil || open {
		t.Fatalf("expected no open action after exhaustion, open=%v err=%v", open, err)
	}
	if len(f.module.Provider.Sends()) != 0 {
		t.Fatal("no send should have succeeded")
	}
}

func TestPermanentProviderErrorFailsStepAndRescheduleReopensIt(t *testing.T) {
	f := newFixture(t)
	campaign := f.createCampaign(t, []entities.CampaignStepTemplate{
		{Channel: entities.ChannelEmail, Identity: "sales@acme.com", Subject: "hi", Body: "touch"},
	})
	enrolled := f.enroll(t, campaign.Template.CampaignID)
	first := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)

	f.module.Provider.FailWith(services.DedupeKey("tenant-1", first.StepInstanceID, 0), &ports.ProviderError{
		Permanent: true,
		Message:   "mailbox does not exist",
	})

	f.advance(time.Second)
	f.runDispatcher(t)

	failed := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
	if failed.Status != entities.StepStatusFailed {
		t.Fatalf("expected step failed on permanent rejection, got %s", failed.Status)
	}
	if failed.LastError == "" {
		t.Fatal("expected failure reason recorded on the step")
	}
	// The only step is terminal, so the instance completed.
	if got := f.instance(t, enrolled.Instance.InstanceID); got.Status != entities.InstanceStatusCompleted {
		t.Fatalf("expected instance completed after its only step failed, got %s", got.Status)
	}

	// Reschedule is the only path out of failed, and it starts a new logical
	// send under a fresh dedupe key.
	retryAt := f.now.Add(time.Minute)
	if err := f.module.Handler.Reschedule.Execute(context.Background(), commands.RescheduleStepCommand{
		TenantID:       "tenant-1",
		StepInstanceID: first.StepInstanceID,
		NewTime:        retryAt,
		Reason:         "operator retry",
	}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	reopened := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
	if reopened.Status != entities.StepStatusPending {
		t.Fatalf("expected pending after reschedule, got %s", reopened.Status)
	}
	if reopened.AttemptEpoch != 1 {
		t.Fatalf("expected attempt epoch bumped to 1, got %d", reopened.AttemptEpoch)
	}
	if reopened.LastError != "" {
		t.Fatal("expected last error cleared by reschedule")
	}
	// Reopening a step reopens the completed instance, otherwise the
	// dispatcher would treat the fresh action as stale.
	reactivated := f.instance(t, enrolled.Instance.InstanceID)
	if reactivated.Status != entities.InstanceStatusActive {
		t.Fatalf("expected instance reactivated by reschedule, got %s", reactivated.Status)
	}
	if reactivated.CompletedAt != nil {
		t.Fatal("expected completion timestamp cleared on reopen")
	}
	action, open, err := f.module.Store.GetOpenActionByStep(context.Background(), "tenant-1", first.StepInstanceID)
	if err != nil || !open {
		t.Fatalf("expected fresh action after reschedule, open=%v err=%v", open, err)
	}
	if !action.ScheduledAt.Equal(retryAt) {
		t.Fatalf("expected action at %s, got %s", retryAt, action.ScheduledAt)
	}

	f.advance(2 * time.Minute)
	f.runDispatcher(t)

	messages := f.module.Store.OutboundMessages()
	if len(messages) != 1 {
		t.Fatalf("expected one message from the re-attempt, got %d", len(messages))
	}
	if messages[0].DedupeKey != services.DedupeKey("tenant-1", first.StepInstanceID, 1) {
		t.Fatalf("expected epoch-1 dedupe key, got %q", messages[0].DedupeKey)
	}
}

func TestRescheduleRejectsSentStep(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	f.advance(time.Second)
	f.runDispatcher(t)

	first := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
	err := f.module.Handler.Reschedule.Execute(context.Background(), commands.RescheduleStepCommand{
		TenantID:       "tenant-1",
		StepInstanceID: first.StepInstanceID,
		NewTime:        f.now.Add(time.Hour),
	})
	if !errors.Is(err, domainerrors.ErrStepNotReschedulable) {
		t.Fatalf("expected ErrStepNotReschedulable for a sent step, got %v", err)
	}
}

func TestPauseHoldsDispatchAndResumeReleasesIt(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	if err := f.module.Handler.ChangeStatus.Execute(context.Background(), commands.ChangeInstanceStatusCommand{
		TenantID:   "tenant-1",
		InstanceID: enrolled.Instance.InstanceID,
		Action:     commands.InstanceActionPause,
		Reason:     "lead asked for time",
	}); err != nil {
		t.Fatalf("pause: %v", err)
	}

	f.advance(time.Second)
	f.runDispatcher(t)
	if len(f.module.Provider.Sends()) != 0 {
		t.Fatal("paused instance must not dispatch")
	}

	if err := f.module.Handler.ChangeStatus.Execute(context.Background(), commands.ChangeInstanceStatusCommand{
		TenantID:   "tenant-1",
		InstanceID: enrolled.Instance.InstanceID,
		Action:     commands.InstanceActionResume,
	}); err != nil {
		t.Fatalf("resume: %v", err)
	}

	// The held action was released with a recheck delay; it becomes due again
	// shortly after.
	f.advance(10 * time.Minute)
	f.runDispatcher(t)
	if len(f.module.Provider.Sends()) != 1 {
		t.Fatalf("expected one send after resume, got %d", len(f.module.Provider.Sends()))
	}
}

func TestCancelCampaignCancelsOnlyPendingActions(t *testing.T) {
	f := newFixture(t)
	campaign := f.createCampaign(t, []entities.CampaignStepTemplate{
		{Channel: entities.ChannelEmail, Identity: "sales@acme.com", Subject: "hi", Body: "touch"},
	})
	for i, contact := range []string{"contact-a", "contact-b"} {
		if _, err := f.module.Handler.Enroll.Execute(context.Background(), commands.EnrollContactCommand{
			TenantID:     "tenant-1",
			CampaignID:   campaign.Template.CampaignID,
			ContactID:    contact,
			EmailAddress: []string{"a@example.com", "b@example.com"}[i],
		}); err != nil {
			t.Fatalf("enroll %s: %v", contact, err)
		}
	}

	// One action is already claimed by a worker.
	f.advance(time.Second)
	claimed, err := f.module.Store.ClaimDue(context.Background(), "tenant-1", f.now, 1, time.Minute)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}

	result, err := f.module.Handler.Cancel.Execute(context.Background(), commands.CancelCampaignCommand{
		TenantID:   "tenant-1",
		CampaignID: campaign.Template.CampaignID,
		Reason:     "campaign retired",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.CanceledActions != 1 {
		t.Fatalf("expected one pending action canceled, got %d", result.CanceledActions)
	}

	// The in-flight claim still completes.
	if err := f.module.Store.MarkDone(context.Background(), "tenant-1", claimed[0].ActionID, f.now); err != nil {
		t.Fatalf("claimed action must finish normally after cancel: %v", err)
	}
}

func TestLeaseReclaimRecoversCrashedWorker(t *testing.T) {
	f := newFixture(t)
	campaign := f.createCampaign(t, []entities.CampaignStepTemplate{
		{Channel: entities.ChannelEmail, Identity: "sales@acme.com", Subject: "hi", Body: "touch"},
	})
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	// A worker claims the action and dies without finishing.
	f.advance(time.Second)
	claimed, err := f.module.Store.ClaimDue(context.Background(), "tenant-1", f.now, 1, 5*time.Minute)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}

	f.advance(time.Minute)
	f.runDispatcher(t)
	if len(f.module.Provider.Sends()) != 0 {
		t.Fatal("claimed action must not be claimable before its lease lapses")
	}

	f.advance(10 * time.Minute)
	if err := f.module.Reclaimer.RunOnce(context.Background()); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	f.runDispatcher(t)

	if len(f.module.Provider.Sends()) != 1 {
		t.Fatalf("expected reclaimed action dispatched, got %d sends", len(f.module.Provider.Sends()))
	}
	step := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
	if step.Status != entities.StepStatusSent {
		t.Fatalf("expected step sent after reclaim, got %s", step.Status)
	}
}

func TestDeliveredEventCompletesStepAndDeduplicates(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	f.advance(time.Second)
	f.runDispatcher(t)
	message := f.module.Store.OutboundMessages()[0]

	envelope := engagementEnvelope(t, "evt-1", workers.TopicMessageDelivered, engagementPayload{
		TenantID:          "tenant-1",
		Provider:          "sendgrid",
		ProviderMessageID: message.ProviderMessageID,
		Channel:           "email",
		OccurredAt:        f.now,
	})
	f.bus.deliver(t, workers.TopicMessageDelivered, envelope)

	step := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
	if step.Status != entities.StepStatusCompleted {
		t.Fatalf("expected step completed on delivery, got %s", step.Status)
	}
	if got := len(f.module.Store.MessageEvents()); got != 1 {
		t.Fatalf("expected one recorded message event, got %d", got)
	}

	// Redelivery of the same envelope is a no-op.
	f.bus.deliver(t, workers.TopicMessageDelivered, envelope)
	if got := len(f.module.Store.MessageEvents()); got != 1 {
		t.Fatalf("expected duplicate envelope ignored, got %d events", got)
	}
}

func TestFailedApplyDoesNotPoisonEventDedup(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	f.advance(time.Second)
	f.runDispatcher(t)
	message := f.module.Store.OutboundMessages()[0]

	// First delivery fails mid-apply; the reservation must be released so
	// the broker's redelivery is not deduped away.
	f.bus.deliverExpectingError(t, workers.TopicMessageDelivered, ports.EventEnvelope{
		EventID:       "evt-retry",
		EventType:     workers.TopicMessageDelivered,
		TenantID:      "tenant-1",
		OccurredAt:    f.now,
		SourceService: "message-events",
		SchemaVersion: 1,
		PartitionKey:  "tenant-1",
		Data:          []byte(`{`),
	})

	f.bus.deliver(t, workers.TopicMessageDelivered, engagementEnvelope(t, "evt-retry", workers.TopicMessageDelivered, engagementPayload{
		TenantID:          "tenant-1",
		Provider:          "sendgrid",
		ProviderMessageID: message.ProviderMessageID,
		Channel:           "email",
		OccurredAt:        f.now,
	}))

	step := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
	if step.Status != entities.StepStatusCompleted {
		t.Fatalf("expected redelivered event applied, got step %s", step.Status)
	}
	if got := len(f.module.Store.MessageEvents()); got != 1 {
		t.Fatalf("expected one recorded message event, got %d", got)
	}
}

func TestBouncedEventSuppressesAddressAndFailsStep(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	f.advance(time.Second)
	f.runDispatcher(t)
	message := f.module.Store.OutboundMessages()[0]

	f.bus.deliver(t, workers.TopicMessageBounced, engagementEnvelope(t, "evt-bounce", workers.TopicMessageBounced, engagementPayload{
		TenantID:          "tenant-1",
		Provider:          "sendgrid",
		ProviderMessageID: message.ProviderMessageID,
		Channel:           "email",
		OccurredAt:        f.now,
	}))

	blocked, err := f.module.Store.IsBlocked(context.Background(), "tenant-1", entities.ChannelEmail, "lead@example.com")
	if err != nil {
		t.Fatalf("is blocked: %v", err)
	}
	if !blocked {
		t.Fatal("a hard bounce must suppress the address for the tenant")
	}

	// The bounced step is terminal, not stuck in sent, and the cadence keeps
	// moving on the next step.
	bounced := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
	if bounced.Status != entities.StepStatusFailed {
		t.Fatalf("expected bounced step failed, got %s", bounced.Status)
	}
	if bounced.LastError == "" {
		t.Fatal("expected bounce reason recorded on the step")
	}
	second := f.stepByPosition(t, enrolled.Instance.InstanceID, 1)
	if _, open, err := f.module.Store.GetOpenActionByStep(context.Background(), "tenant-1", second.StepInstanceID); err != nil || !open {
		t.Fatalf("expected next step scheduled after bounce, open=%v err=%v", open, err)
	}
}

func TestBounceOnFinalStepCompletesInstance(t *testing.T) {
	f := newFixture(t)
	campaign := f.createCampaign(t, []entities.CampaignStepTemplate{
		{Channel: entities.ChannelEmail, Identity: "sales@acme.com", Subject: "hi", Body: "touch"},
	})
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	f.advance(time.Second)
	f.runDispatcher(t)
	message := f.module.Store.OutboundMessages()[0]

	f.bus.deliver(t, workers.TopicMessageBounced, engagementEnvelope(t, "evt-final-bounce", workers.TopicMessageBounced, engagementPayload{
		TenantID:          "tenant-1",
		Provider:          "sendgrid",
		ProviderMessageID: message.ProviderMessageID,
		Channel:           "email",
		OccurredAt:        f.now,
	}))

	instance := f.instance(t, enrolled.Instance.InstanceID)
	if instance.Status != entities.InstanceStatusCompleted {
		t.Fatalf("expected instance completed after its only step bounced, got %s", instance.Status)
	}
}

func TestReplyPausesInstanceAndRecordsInbound(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	f.advance(time.Second)
	f.runDispatcher(t)
	message := f.module.Store.OutboundMessages()[0]

	f.bus.deliver(t, workers.TopicMessageReplied, engagementEnvelope(t, "evt-reply", workers.TopicMessageReplied, engagementPayload{
		TenantID:          "tenant-1",
		Provider:          "sendgrid",
		ProviderMessageID: message.ProviderMessageID,
		Channel:           "email",
		FromAddress:       "lead@example.com",
		Body:              "sounds interesting, tell me more",
		OccurredAt:        f.now,
	}))

	instance := f.instance(t, enrolled.Instance.InstanceID)
	if instance.Status != entities.InstanceStatusPaused {
		t.Fatalf("expected instance paused on reply, got %s", instance.Status)
	}
	inbound := f.module.Store.InboundMessages()
	if len(inbound) != 1 {
		t.Fatalf("expected one inbound message, got %d", len(inbound))
	}
	if inbound[0].Body != "sounds interesting, tell me more" {
		t.Fatalf("unexpected inbound body %q", inbound[0].Body)
	}
	step := f.stepByPosition(t, enrolled.Instance.InstanceID, 0)
	if step.BranchOutcome != "reply" {
		t.Fatalf("expected reply branch outcome, got %q", step.BranchOutcome)
	}

	// The already scheduled follow-up is held while paused.
	f.advance(72 * time.Hour)
	f.runDispatcher(t)
	if len(f.module.Provider.Sends()) != 1 {
		t.Fatalf("paused instance must not send follow-ups, got %d sends", len(f.module.Provider.Sends()))
	}
}

func TestThreeStepCadenceRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	campaign := f.threeStepCampaign(t)
	enrolled := f.enroll(t, campaign.Template.CampaignID)

	deliver := func(eventID string) {
		var message entities.OutboundMessage
		for _, item := range f.module.Store.OutboundMessages() {
			if item.Status == entities.MessageStatusAccepted {
				message = item
			}
		}
		if message.MessageID == "" {
			t.Fatal("no undelivered message to confirm")
		}
		f.bus.deliver(t, workers.TopicMessageDelivered, engagementEnvelope(t, eventID, workers.TopicMessageDelivered, engagementPayload{
			TenantID:          "tenant-1",
			Provider:          "sendgrid",
			ProviderMessageID: message.ProviderMessageID,
			Channel:           "email",
			OccurredAt:        f.now,
		}))
	}

	// Step 1: immediate email.
	f.advance(time.Second)
	f.runDispatcher(t)
	if got := len(f.module.Provider.Sends()); got != 1 {
		t.Fatalf("expected first email sent, got %d sends", got)
	}
	deliver("evt-delivered-1")

	// Step 2: +48h email.
	f.advance(48 * time.Hour)
	f.runDispatcher(t)
	if got := len(f.module.Provider.Sends()); got != 2 {
		t.Fatalf("expected second email sent, got %d sends", got)
	}
	deliver("evt-delivered-2")

	// Step 3: +120h call task; no delivery feedback, completes on dispatch.
	f.advance(120 * time.Hour)
	f.runDispatcher(t)
	if got := len(f.module.Provider.Sends()); got != 3 {
		t.Fatalf("expected call task dispatched, got %d sends", got)
	}

	for position := 0; position < 3; position++ {
		step := f.stepByPosition(t, enrolled.Instance.InstanceID, position)
		if step.Status != entities.StepStatusCompleted {
			t.Fatalf("step %d: expected completed, got %s", position, step.Status)
		}
	}
	instance := f.instance(t, enrolled.Instance.InstanceID)
	if instance.Status != entities.InstanceStatusCompleted {
		t.Fatalf("expected instance completed, got %s", instance.Status)
	}
	if instance.CompletedAt == nil {
		t.Fatal("expected completion timestamp set")
	}

	progress, err := f.module.Handler.Progress.Execute(context.Background(), queries.CampaignProgressQuery{
		TenantID:   "tenant-1",
		CampaignID: campaign.Template.CampaignID,
	})
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress.Enrolled != 1 {
		t.Fatalf("expected one enrolled contact, got %d", progress.Enrolled)
	}
	if progress.StepsByStatus[entities.StepStatusCompleted] != 3 {
		t.Fatalf("expected 3 completed steps, got %+v", progress.StepsByStatus)
	}
}
