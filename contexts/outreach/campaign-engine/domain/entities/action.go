package entities

import "time"

type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusClaimed   ActionStatus = "claimed"
	ActionStatusExecuting ActionStatus = "executing"
	ActionStatusDone      ActionStatus = "done"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusCanceled  ActionStatus = "canceled"
)

func (s ActionStatus) Terminal() bool {
	return s == ActionStatusDone || s == ActionStatusFailed || s == ActionStatusCanceled
}

// ScheduledAction is the durable queue row driving one step instance's
// execution. A step instance owns at most one open action at a time.
type ScheduledAction struct {
	ActionID       string
	TenantID       string
	CampaignID     string
	InstanceID     string
	StepInstanceID string
	Status         ActionStatus
	// ScheduledAt is the earliest eligible execution time.
	ScheduledAt time.Time
	// LeaseExpiresAt bounds how long a claimed or executing action stays owned
	// by a worker before the reclaim sweep returns it to pending.
	LeaseExpiresAt *time.Time
	Attempts       int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a ScheduledAction) Open() bool {
	return !a.Status.Terminal()
}

func (a ScheduledAction) LeaseExpired(now time.Time) bool {
	if a.Status != ActionStatusClaimed && a.Status != ActionStatusExecuting {
		return false
	}
	return a.LeaseExpiresAt != nil && a.LeaseExpiresAt.Before(now)
}
