package entities

import "time"

// CommunicationSuppression is a tenant-level deny-list entry blocking all
// sends to an address on a channel. Persists independent of contact records.
type CommunicationSuppression struct {
	SuppressionID string
	TenantID      string
	Channel       Channel
	Address       string
	Reason        string
	CreatedAt     time.Time
}

// ContactUnsubscribe records a channel-specific opt-out by the contact.
type ContactUnsubscribe struct {
	UnsubscribeID string
	TenantID      string
	Channel       Channel
	Address       string
	CreatedAt     time.Time
}

// EmailValidationRecord stores a validation verdict for an address. Addresses
// marked invalid are treated as suppressed.
type EmailValidationRecord struct {
	ValidationID string
	TenantID     string
	Address      string
	Valid        bool
	CheckedAt    time.Time
}

// SendRateLimit is a tenant's throttle policy for one channel, optionally
// scoped to a single sender identity. Identity empty means all identities.
type SendRateLimit struct {
	LimitID      string
	TenantID     string
	Channel      Channel
	Identity     string
	MaxPerWindow int
	Window       time.Duration
	CreatedAt    time.Time
}
