package entities

import "time"

type DeliveryStatus string

const (
	DeliveryStatusReceived   DeliveryStatus = "received"
	DeliveryStatusNormalized DeliveryStatus = "normalized"
	DeliveryStatusFailed     DeliveryStatus = "failed"
)

// WebhookDelivery is the verbatim archive of one provider callback. The raw
// payload is stored before any parsing so malformed deliveries stay
// replayable after a normalizer fix.
type WebhookDelivery struct {
	DeliveryID   string
	TenantID     string
	Provider     string
	Payload      []byte
	Status       DeliveryStatus
	Error        string
	ReceivedAt   time.Time
	NormalizedAt *time.Time
}

type EventKind string

const (
	EventKindDelivered EventKind = "delivered"
	EventKindOpened    EventKind = "opened"
	EventKindClicked   EventKind = "clicked"
	EventKindBounced   EventKind = "bounced"
	EventKindFailed    EventKind = "failed"
	EventKindReplied   EventKind = "replied"
)

// Topic is the bus topic a normalized event of this kind is published on.
func (k EventKind) Topic() string {
	return "outreach.message." + string(k)
}

// NormalizedEvent is one provider signal translated to the engine's
// vocabulary. EventID is deterministic per (delivery, position) so replaying
// a delivery never fans out duplicates.
type NormalizedEvent struct {
	EventID           string
	TenantID          string
	Provider          string
	ProviderMessageID string
	Kind              EventKind
	Channel           string
	FromAddress       string
	Body              string
	OccurredAt        time.Time
}
