package services

import (
	"errors"
	"testing"
	"time"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/errors"
)

var receivedAt = time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeSendgridBatch(t *testing.T) {
	payload := []byte(`[
		{"event":"delivered","sg_message_id":"sg-1","email":"lead@example.com","timestamp":1767268800},
		{"event":"processed","sg_message_id":"sg-1","email":"lead@example.com"},
		{"event":"open","sg_message_id":"sg-1","email":"lead@example.com"},
		{"event":"bounce","sg_message_id":"sg-2","email":"gone@example.com"},
		{"event":"inbound","sg_message_id":"sg-1","email":"lead@example.com","text":"interested!"}
	]`)

	events, err := Normalize(ProviderSendgrid, "delivery-1", "tenant-1", payload, receivedAt)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 mapped events (processed dropped), got %d", len(events))
	}

	if events[0].Kind != entities.EventKindDelivered {
		t.Fatalf("expected delivered, got %s", events[0].Kind)
	}
	if events[0].EventID != "delivery-1-0" {
		t.Fatalf("expected positional event id, got %q", events[0].EventID)
	}
	if !events[0].OccurredAt.Equal(time.Unix(1767268800, 0).UTC()) {
		t.Fatalf("expected provider timestamp honored, got %s", events[0].OccurredAt)
	}

	// Dropped entries keep their original position in the derived IDs so a
	// replay of the same payload yields identical IDs.
	if events[1].EventID != "delivery-1-2" || events[1].Kind != entities.EventKindOpened {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[2].Kind != entities.EventKindBounced || events[2].ProviderMessageID != "sg-2" {
		t.Fatalf("unexpected bounce event: %+v", events[2])
	}
	if events[3].Kind != entities.EventKindReplied || events[3].Body != "interested!" {
		t.Fatalf("unexpected reply event: %+v", events[3])
	}

	replay, err := Normalize(ProviderSendgrid, "delivery-1", "tenant-1", payload, receivedAt)
	if err != nil {
		t.Fatalf("normalize replay: %v", err)
	}
	for i := range events {
		if replay[i].EventID != events[i].EventID {
			t.Fatalf("event ids must be deterministic across runs: %q vs %q", replay[i].EventID, events[i].EventID)
		}
	}
}

func TestNormalizeSendgridRejectsMissingMessageID(t *testing.T) {
	payload := []byte(`[{"event":"delivered","email":"lead@example.com"}]`)
	_, err := Normalize(ProviderSendgrid, "delivery-1", "tenant-1", payload, receivedAt)
	if !errors.Is(err, domainerrors.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestNormalizeSendgridRejectsNonArray(t *testing.T) {
	_, err := Normalize(ProviderSendgrid, "delivery-1", "tenant-1", []byte(`{"event":"delivered"}`), receivedAt)
	if !errors.Is(err, domainerrors.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for object payload, got %v", err)
	}
	_, err = Normalize(ProviderSendgrid, "delivery-1", "tenant-1", []byte(`[]`), receivedAt)
	if !errors.Is(err, domainerrors.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for empty batch, got %v", err)
	}
}

func TestNormalizeTwilioStatusCallback(t *testing.T) {
	payload := []byte(`{"MessageSid":"SM123","MessageStatus":"delivered","From":"+15550100"}`)
	events, err := Normalize(ProviderTwilio, "delivery-2", "tenant-1", payload, receivedAt)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	event := events[0]
	if event.Kind != entities.EventKindDelivered || event.Channel != "sms" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.EventID != "delivery-2-0" || event.ProviderMessageID != "SM123" {
		t.Fatalf("unexpected identifiers: %+v", event)
	}
}

func TestNormalizeTwilioIntermediateStatusYieldsNothing(t *testing.T) {
	for _, status := range []string{"queued", "sent", "accepted"} {
		payload := []byte(`{"MessageSid":"SM123","MessageStatus":"` + status + `"}`)
		events, err := Normalize(ProviderTwilio, "delivery-2", "tenant-1", payload, receivedAt)
		if err != nil {
			t.Fatalf("status %s: %v", status, err)
		}
		if len(events) != 0 {
			t.Fatalf("status %s: expected no events, got %d", status, len(events))
		}
	}
}

func TestNormalizeTwilioInboundBodyIsReply(t *testing.T) {
	payload := []byte(`{"MessageSid":"SM456","From":"+15550100","Body":"yes please"}`)
	events, err := Normalize(ProviderTwilio, "delivery-3", "tenant-1", payload, receivedAt)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(events) != 1 || events[0].Kind != entities.EventKindReplied {
		t.Fatalf("expected a reply event, got %+v", events)
	}
	if events[0].Body != "yes please" {
		t.Fatalf("expected body preserved, got %q", events[0].Body)
	}
}

func TestNormalizeTwilioRejectsMissingSid(t *testing.T) {
	_, err := Normalize(ProviderTwilio, "delivery-4", "tenant-1", []byte(`{"MessageStatus":"delivered"}`), receivedAt)
	if !errors.Is(err, domainerrors.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestNormalizeUnknownProvider(t *testing.T) {
	_, err := Normalize("mailgun", "delivery-5", "tenant-1", []byte(`{}`), receivedAt)
	if !errors.Is(err, domainerrors.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if IsKnownProvider("mailgun") {
		t.Fatal("mailgun is not a known provider")
	}
	if !IsKnownProvider(" SendGrid ") {
		t.Fatal("provider matching must be case and whitespace insensitive")
	}
}

func TestEventKindTopic(t *testing.T) {
	if got := entities.EventKindDelivered.Topic(); got != "outreach.message.delivered" {
		t.Fatalf("unexpected topic %q", got)
	}
	if got := entities.EventKindReplied.Topic(); got != "outreach.message.replied" {
		t.Fatalf("unexpected topic %q", got)
	}
}
