package http

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type StepTemplateRequest struct {
	Channel          string `json:"channel"`
	Identity         string `json:"identity,omitempty"`
	Subject          string `json:"subject,omitempty"`
	Body             string `json:"body"`
	OffsetSeconds    int64  `json:"offset_seconds"`
	FromPriorOutcome bool   `json:"from_prior_outcome,omitempty"`
}

type CreateCampaignRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Steps       []StepTemplateRequest `json:"steps"`
}

type CampaignResponse struct {
	CampaignID  string `json:"campaign_id"`
	Name        string `json:"name"`
	PlanVersion int    `json:"plan_version"`
	StepCount   int    `json:"step_count"`
}

type EnrollContactRequest struct {
	ContactID    string `json:"contact_id"`
	EmailAddress string `json:"email_address,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	PlanVersion  int    `json:"plan_version,omitempty"`
}

type StepInstanceResponse struct {
	StepInstanceID string     `json:"step_instance_id"`
	Position       int        `json:"position"`
	Channel        string     `json:"channel"`
	Status         string     `json:"status"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	AttemptEpoch   int        `json:"attempt_epoch"`
	BranchOutcome  string     `json:"branch_outcome,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}

type InstanceResponse struct {
	InstanceID  string                 `json:"instance_id"`
	CampaignID  string                 `json:"campaign_id"`
	ContactID   string                 `json:"contact_id"`
	PlanVersion int                    `json:"plan_version"`
	Status      string                 `json:"status"`
	EnrolledAt  time.Time              `json:"enrolled_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Replayed    bool                   `json:"replayed,omitempty"`
	Steps       []StepInstanceResponse `json:"steps,omitempty"`
	Transitions []TransitionResponse   `json:"transitions,omitempty"`
}

type TransitionResponse struct {
	TransitionID string    `json:"transition_id"`
	Entity       string    `json:"entity"`
	EntityID     string    `json:"entity_id"`
	FromState    string    `json:"from_state,omitempty"`
	ToState      string    `json:"to_state"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type ChangeInstanceStatusRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RescheduleStepRequest struct {
	NewTime time.Time `json:"new_time"`
	Reason  string    `json:"reason,omitempty"`
}

type CancelCampaignRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CancelCampaignResponse struct {
	CampaignID      string `json:"campaign_id"`
	CanceledActions int    `json:"canceled_actions"`
}

type CampaignProgressResponse struct {
	CampaignID    string         `json:"campaign_id"`
	Enrolled      int            `json:"enrolled"`
	StepsByStatus map[string]int `json:"steps_by_status"`
}
