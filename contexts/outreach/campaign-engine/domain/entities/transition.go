package entities

import "time"

type TransitionEntity string

const (
	TransitionEntityCampaign TransitionEntity = "campaign"
	TransitionEntityInstance TransitionEntity = "instance"
	TransitionEntityStep     TransitionEntity = "step"
	TransitionEntityAction   TransitionEntity = "action"
	TransitionEntityMessage  TransitionEntity = "message"
)

// CampaignTransition is the append-only audit record of a state change. The
// log carries why a state changed, not just what it is now; no state change is
// applied without one.
type CampaignTransition struct {
	TransitionID string
	TenantID     string
	InstanceID   string
	Entity       TransitionEntity
	EntityID     string
	FromState    string
	ToState      string
	Reason       string
	CreatedAt    time.Time
}
