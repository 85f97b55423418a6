package entities

import (
	"strings"
	"time"
)

type InstanceStatus string

const (
	InstanceStatusActive    InstanceStatus = "active"
	InstanceStatusPaused    InstanceStatus = "paused"
	InstanceStatusCompleted InstanceStatus = "completed"
)

// ContactCampaignInstance is one contact's participation in a campaign,
// bound to a specific plan version.
type ContactCampaignInstance struct {
	InstanceID   string
	TenantID     string
	CampaignID   string
	PlanVersion  int
	ContactID    string
	EmailAddress string
	PhoneNumber  string
	Status       InstanceStatus
	EnrolledAt   time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// CanTransition enforces the instance state machine: active and paused are
// interchangeable, completed is terminal.
func (i ContactCampaignInstance) CanTransition(to InstanceStatus) bool {
	switch i.Status {
	case InstanceStatusActive:
		return to == InstanceStatusPaused || to == InstanceStatusCompleted
	case InstanceStatusPaused:
		return to == InstanceStatusActive || to == InstanceStatusCompleted
	default:
		return false
	}
}

// Address returns the contact's destination address for a channel. Call tasks
// reach out over the phone number.
func (i ContactCampaignInstance) Address(channel Channel) string {
	switch channel {
	case ChannelEmail:
		return strings.TrimSpace(i.EmailAddress)
	case ChannelSMS, ChannelCall:
		return strings.TrimSpace(i.PhoneNumber)
	default:
		return ""
	}
}

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSent      StepStatus = "sent"
	StepStatusCompleted StepStatus = "completed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusFailed    StepStatus = "failed"
)

func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped || s == StepStatusFailed
}

// CampaignStepInstance is one concrete, schedulable execution of a plan step
// for one contact.
type CampaignStepInstance struct {
	StepInstanceID string
	TenantID       string
	InstanceID     string
	Position       int
	Channel        Channel
	Identity       string
	Status         StepStatus
	ScheduledAt    time.Time
	// AttemptEpoch increments on every reschedule so a re-attempted send
	// derives a fresh dedupe key.
	AttemptEpoch int
	// BranchOutcome records which engagement path the contact took on this
	// step (open, click, reply). Empty until feedback arrives.
	BranchOutcome string
	LastError     string
	SentAt        *time.Time
	UpdatedAt     time.Time
}

// CanTransition enforces the step state machine. Terminal states other than
// completed are reopened only through an explicit reschedule, which is
// modelled separately by CanReschedule.
func (s CampaignStepInstance) CanTransition(to StepStatus) bool {
	switch s.Status {
	case StepStatusPending:
		return to == StepStatusSent || to == StepStatusSkipped || to == StepStatusFailed
	case StepStatusSent:
		// A sent step fails when the provider later reports a bounce.
		return to == StepStatusCompleted || to == StepStatusFailed
	default:
		return false
	}
}

func (s CampaignStepInstance) CanReschedule() bool {
	return s.Status == StepStatusSkipped || s.Status == StepStatusFailed || s.Status == StepStatusPending
}
