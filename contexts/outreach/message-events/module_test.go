package messageevents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/application/commands"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/errors"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/ports"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []ports.EventEnvelope
	topics    []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, envelope ports.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, envelope)
	p.topics = append(p.topics, topic)
	return nil
}

func newTestModule(t *testing.T) (Module, *recordingPublisher) {
	t.Helper()
	publisher := &recordingPublisher{}
	module := NewInMemoryModule(publisher, nil)
	module.Store.SetNow(time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC))
	return module, publisher
}

const sendgridBatch = `[
	{"event":"delivered","sg_message_id":"sg-1","email":"lead@example.com"},
	{"event":"open","sg_message_id":"sg-1","email":"lead@example.com"}
]`

func TestIngestArchivesAndFansOut(t *testing.T) {
	module, _ := newTestModule(t)

	result, err := module.Handler.Ingest.Execute(context.Background(), commands.IngestWebhookCommand{
		TenantID: "tenant-1",
		Provider: "sendgrid",
		Payload:  []byte(sendgridBatch),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != entities.DeliveryStatusNormalized {
		t.Fatalf("expected normalized status, got %s", result.Status)
	}
	if result.Events != 2 {
		t.Fatalf("expected 2 outbox events, got %d", result.Events)
	}

	deliveries := module.Store.Deliveries()
	if len(deliveries) != 1 {
		t.Fatalf("expected one archived delivery, got %d", len(deliveries))
	}
	delivery := deliveries[0]
	if delivery.Status != entities.DeliveryStatusNormalized {
		t.Fatalf("expected archived delivery normalized, got %s", delivery.Status)
	}
	if delivery.NormalizedAt == nil {
		t.Fatal("expected normalized timestamp on the delivery")
	}
	if string(delivery.Payload) != sendgridBatch {
		t.Fatal("archive must keep the raw payload verbatim")
	}
	if module.Store.OutboxSize() != 2 {
		t.Fatalf("expected 2 outbox rows, got %d", module.Store.OutboxSize())
	}
}

func TestIngestArchivesMalformedPayloadBeforeFailing(t *testing.T) {
	module, _ := newTestModule(t)

	result, err := module.Handler.Ingest.Execute(context.Background(), commands.IngestWebhookCommand{
		TenantID: "tenant-1",
		Provider: "sendgrid",
		Payload:  []byte(`{"not":"an array"}`),
	})
	if !errors.Is(err, domainerrors.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if result.DeliveryID == "" {
		t.Fatal("a failed ingest must still return the archived delivery id")
	}
	if result.Status != entities.DeliveryStatusFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}

	deliveries := module.Store.Deliveries()
	if len(deliveries) != 1 {
		t.Fatalf("expected the malformed payload archived, got %d deliveries", len(deliveries))
	}
	if deliveries[0].Status != entities.DeliveryStatusFailed {
		t.Fatalf("expected archived delivery failed, got %s", deliveries[0].Status)
	}
	if deliveries[0].Error == "" {
		t.Fatal("expected the normalization error recorded on the delivery")
	}
	if module.Store.OutboxSize() != 0 {
		t.Fatal("a failed normalization must not write outbox rows")
	}
}

func TestIngestUnknownProviderStillArchives(t *testing.T) {
	module, _ := newTestModule(t)

	_, err := module.Handler.Ingest.Execute(context.Background(), commands.IngestWebhookCommand{
		TenantID: "tenant-1",
		Provider: "mailgun",
		Payload:  []byte(`{}`),
	})
	if !errors.Is(err, domainerrors.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if len(module.Store.Deliveries()) != 1 {
		t.Fatal("unknown-provider payloads are archived too")
	}
}

func TestReplayIsIdempotentOnOutbox(t *testing.T) {
	module, _ := newTestModule(t)

	ingested, err := module.Handler.Ingest.Execute(context.Background(), commands.IngestWebhookCommand{
		TenantID: "tenant-1",
		Provider: "sendgrid",
		Payload:  []byte(sendgridBatch),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	replayed, err := module.Handler.Replay.Execute(context.Background(), commands.ReplayDeliveryCommand{
		TenantID:   "tenant-1",
		DeliveryID: ingested.DeliveryID,
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Events != 2 {
		t.Fatalf("expected replay to re-derive 2 events, got %d", replayed.Events)
	}
	if module.Store.OutboxSize() != 2 {
		t.Fatalf("replay must not append duplicate outbox rows, got %d", module.Store.OutboxSize())
	}
}

func TestReplayUnknownDelivery(t *testing.T) {
	module, _ := newTestModule(t)
	_, err := module.Handler.Replay.Execute(context.Background(), commands.ReplayDeliveryCommand{
		TenantID:   "tenant-1",
		DeliveryID: "missing",
	})
	if !errors.Is(err, domainerrors.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
}

func TestReplayIsTenantScoped(t *testing.T) {
	module, _ := newTestModule(t)
	ingested, err := module.Handler.Ingest.Execute(context.Background(), commands.IngestWebhookCommand{
		TenantID: "tenant-1",
		Provider: "sendgrid",
		Payload:  []byte(sendgridBatch),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	_, err = module.Handler.Replay.Execute(context.Background(), commands.ReplayDeliveryCommand{
		TenantID:   "tenant-2",
		DeliveryID: ingested.DeliveryID,
	})
	if !errors.Is(err, domainerrors.ErrDeliveryNotFound) {
		t.Fatalf("expected cross-tenant replay rejected, got %v", err)
	}
}

func TestOutboxRelayPublishesOncePerRow(t *testing.T) {
	module, publisher := newTestModule(t)

	if _, err := module.Handler.Ingest.Execute(context.Background(), commands.IngestWebhookCommand{
		TenantID: "tenant-1",
		Provider: "sendgrid",
		Payload:  []byte(sendgridBatch),
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := module.Relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("expected 2 published envelopes, got %d", len(publisher.published))
	}
	wantTopics := map[string]bool{
		"outreach.message.delivered": false,
		"outreach.message.opened":    false,
	}
	for i, topic := range publisher.topics {
		if _, expected := wantTopics[topic]; !expected {
			t.Fatalf("unexpected topic %q", topic)
		}
		wantTopics[topic] = true
		if publisher.published[i].EventType != topic {
			t.Fatalf("envelope event type %q must match its topic %q", publisher.published[i].EventType, topic)
		}
		if publisher.published[i].PartitionKey != "tenant-1" {
			t.Fatalf("expected tenant partition key, got %q", publisher.published[i].PartitionKey)
		}
	}
	for topic, seen := range wantTopics {
		if !seen {
			t.Fatalf("topic %q never published", topic)
		}
	}

	// Published rows are not re-delivered.
	if err := module.Relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay second run: %v", err)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("expected no re-publishing, got %d envelopes", len(publisher.published))
	}
}
