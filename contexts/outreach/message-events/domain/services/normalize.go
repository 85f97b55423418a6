package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/errors"
)

const (
	ProviderSendgrid = "sendgrid"
	ProviderTwilio   = "twilio"
)

func IsKnownProvider(provider string) bool {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderSendgrid, ProviderTwilio:
		return true
	default:
		return false
	}
}

// Normalize translates one raw provider payload into zero or more normalized
// events. Event IDs are derived from the delivery ID and the event's position
// so re-normalizing the same delivery yields the same IDs.
func Normalize(
	provider string,
	deliveryID string,
	tenantID string,
	payload []byte,
	receivedAt time.Time,
) ([]entities.NormalizedEvent, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderSendgrid:
		return normalizeSendgrid(deliveryID, tenantID, payload, receivedAt)
	case ProviderTwilio:
		return normalizeTwilio(deliveryID, tenantID, payload, receivedAt)
	default:
		return nil, domainerrors.ErrUnknownProvider
	}
}

type sendgridEvent struct {
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	Email       string `json:"email"`
	Timestamp   int64  `json:"timestamp"`
	Text        string `json:"text,omitempty"`
}

func normalizeSendgrid(deliveryID, tenantID string, payload []byte, receivedAt time.Time) ([]entities.NormalizedEvent, error) {
	var raw []sendgridEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domainerrors.ErrMalformedPayload, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty event batch", domainerrors.ErrMalformedPayload)
	}

	events := make([]entities.NormalizedEvent, 0, len(raw))
	for i, item := range raw {
		kind, known := sendgridKind(item.Event)
		if !known {
			// Unmapped engagement types (processed, deferred, ...) are dropped,
			// not errors.
			continue
		}
		if strings.TrimSpace(item.SGMessageID) == "" {
			return nil, fmt.Errorf("%w: event %d missing sg_message_id", domainerrors.ErrMalformedPayload, i)
		}
		occurredAt := receivedAt
		if item.Timestamp > 0 {
			occurredAt = time.Unix(item.Timestamp, 0).UTC()
		}
		events = append(events, entities.NormalizedEvent{
			EventID:           deliveryID + "-" + strconv.Itoa(i),
			TenantID:          tenantID,
			Provider:          ProviderSendgrid,
			ProviderMessageID: strings.TrimSpace(item.SGMessageID),
			Kind:              kind,
			Channel:           "email",
			FromAddress:       strings.TrimSpace(item.Email),
			Body:              item.Text,
			OccurredAt:        occurredAt,
		})
	}
	return events, nil
}

func sendgridKind(value string) (entities.EventKind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "delivered":
		return entities.EventKindDelivered, true
	case "open":
		return entities.EventKindOpened, true
	case "click":
		return entities.EventKindClicked, true
	case "bounce":
		return entities.EventKindBounced, true
	case "dropped":
		return entities.EventKindFailed, true
	case "inbound", "reply":
		return entities.EventKindReplied, true
	default:
		return "", false
	}
}

type twilioEvent struct {
	MessageSid    string `json:"MessageSid"`
	MessageStatus string `json:"MessageStatus"`
	From          string `json:"From"`
	Body          string `json:"Body"`
}

func normalizeTwilio(deliveryID, tenantID string, payload []byte, receivedAt time.Time) ([]entities.NormalizedEvent, error) {
	var raw twilioEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domainerrors.ErrMalformedPayload, err)
	}
	if strings.TrimSpace(raw.MessageSid) == "" {
		return nil, fmt.Errorf("%w: missing MessageSid", domainerrors.ErrMalformedPayload)
	}

	var kind entities.EventKind
	switch strings.ToLower(strings.TrimSpace(raw.MessageStatus)) {
	case "delivered":
		kind = entities.EventKindDelivered
	case "failed", "undelivered":
		kind = entities.EventKindFailed
	case "":
		// Status callbacks always carry MessageStatus; a bare inbound message
		// is a reply.
		if strings.TrimSpace(raw.Body) == "" {
			return nil, fmt.Errorf("%w: neither status nor body present", domainerrors.ErrMalformedPayload)
		}
		kind = entities.EventKindReplied
	default:
		// Intermediate statuses (queued, sent, ...) carry no state change.
		return []entities.NormalizedEvent{}, nil
	}

	return []entities.NormalizedEvent{{
		EventID:           deliveryID + "-0",
		TenantID:          tenantID,
		Provider:          ProviderTwilio,
		ProviderMessageID: strings.TrimSpace(raw.MessageSid),
		Kind:              kind,
		Channel:           "sms",
		FromAddress:       strings.TrimSpace(raw.From),
		Body:              raw.Body,
		OccurredAt:        receivedAt,
	}}, nil
}
