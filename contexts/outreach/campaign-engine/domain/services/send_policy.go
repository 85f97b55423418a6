package services

import (
	"fmt"
	"time"
)

// MaxSendAttempts bounds transient-error retries per attempt epoch. After the
// limit the step fails terminally and only an explicit reschedule reopens it.
const MaxSendAttempts = 5

// RateLimitBackoff is the short delay applied when a dispatch loses the rate
// budget race. The claim is released, never consumed.
const RateLimitBackoff = 30 * time.Second

// DedupeKey derives the canonical tenant-scoped key for one logical send.
// The attempt epoch is part of the key so an operator reschedule produces a
// new logical send while in-epoch retries replay the same one.
func DedupeKey(tenantID, stepInstanceID string, attemptEpoch int) string {
	return fmt.Sprintf("%s:%s:%d", tenantID, stepInstanceID, attemptEpoch)
}

// NextBackoff returns the delay before retrying a transient send failure.
// Exponential from 1 minute, capped at 1 hour.
func NextBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Minute << (attempts - 1)
	if delay > time.Hour {
		return time.Hour
	}
	return delay
}
