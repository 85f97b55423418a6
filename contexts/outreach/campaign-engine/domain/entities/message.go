package entities

import "time"

type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusAccepted  MessageStatus = "accepted"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusBounced   MessageStatus = "bounced"
	MessageStatusFailed    MessageStatus = "failed"
)

// OutboundMessage is one attempted send. DedupeKey is unique per tenant so a
// retried dispatch never creates a second row for the same logical send.
type OutboundMessage struct {
	MessageID         string
	TenantID          string
	InstanceID        string
	StepInstanceID    string
	Channel           Channel
	Identity          string
	Address           string
	DedupeKey         string
	RenderedSubject   string
	RenderedBody      string
	Status            MessageStatus
	ProviderMessageID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type MessageEventKind string

const (
	MessageEventDelivered MessageEventKind = "delivered"
	MessageEventOpened    MessageEventKind = "opened"
	MessageEventClicked   MessageEventKind = "clicked"
	MessageEventBounced   MessageEventKind = "bounced"
	MessageEventReplied   MessageEventKind = "replied"
	MessageEventFailed    MessageEventKind = "failed"
)

// MessageEvent is a normalized engagement or delivery signal tied to an
// outbound message. Append-only.
type MessageEvent struct {
	EventID    string
	TenantID   string
	MessageID  string
	Kind       MessageEventKind
	EventAt    time.Time
	RecordedAt time.Time
}

// InboundMessage is a reply captured on any channel, correlated back to the
// campaign instance for threading and reply-triggered branching.
type InboundMessage struct {
	InboundID      string
	TenantID       string
	InstanceID     string
	StepInstanceID string
	Channel        Channel
	FromAddress    string
	Body           string
	ReceivedAt     time.Time
}
