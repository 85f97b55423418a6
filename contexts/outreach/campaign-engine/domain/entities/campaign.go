package entities

import (
	"strings"
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelCall  Channel = "call"
)

func IsSupportedChannel(value Channel) bool {
	switch value {
	case ChannelEmail, ChannelSMS, ChannelCall:
		return true
	default:
		return false
	}
}

// AcknowledgesAsync reports whether the channel's provider emits delivery
// feedback after the send. Channels without feedback complete on dispatch.
func (c Channel) AcknowledgesAsync() bool {
	switch c {
	case ChannelEmail, ChannelSMS:
		return true
	default:
		return false
	}
}

type CampaignTemplate struct {
	CampaignID  string
	TenantID    string
	Name        string
	Description string
	Steps       []CampaignStepTemplate
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CampaignStepTemplate is one ordered step of a template. Steps are immutable
// once referenced by a plan version.
type CampaignStepTemplate struct {
	StepID   string
	Position int
	Channel  Channel
	// Identity is the sender identity the step sends from (mailbox, phone
	// number). Rate limits can be scoped to it.
	Identity string
	Subject  string
	Body     string
	// Offset is the delay before the step becomes eligible, measured from
	// enrollment time, or from the prior step's outcome when FromPriorOutcome
	// is set.
	Offset           time.Duration
	FromPriorOutcome bool
}

// CampaignPlanVersion is an immutable snapshot of a template's steps,
// identified by (CampaignID, Version). Instances reference a plan version so
// execution stays reproducible even if the template is later edited.
type CampaignPlanVersion struct {
	CampaignID string
	TenantID   string
	Version    int
	Steps      []CampaignStepTemplate
	CreatedAt  time.Time
}

func (p CampaignPlanVersion) StepAt(position int) (CampaignStepTemplate, bool) {
	for _, step := range p.Steps {
		if step.Position == position {
			return step, true
		}
	}
	return CampaignStepTemplate{}, false
}

func (t CampaignTemplate) ValidateBasics() bool {
	if strings.TrimSpace(t.TenantID) == "" || strings.TrimSpace(t.Name) == "" {
		return false
	}
	if len(t.Steps) == 0 {
		return false
	}
	for i, step := range t.Steps {
		if step.Position != i {
			return false
		}
		if !IsSupportedChannel(step.Channel) {
			return false
		}
		if step.Offset < 0 {
			return false
		}
		if strings.TrimSpace(step.Body) == "" {
			return false
		}
	}
	return true
}
