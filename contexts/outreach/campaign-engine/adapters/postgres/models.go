package postgresadapter

import (
	"time"

	"gorm.io/gorm"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
)

// AutoMigrate creates or updates the engine tables. Development helper; see
// internal/platform/db.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&campaignTemplateModel{},
		&stepTemplateModel{},
		&planVersionModel{},
		&planStepModel{},
		&instanceModel{},
		&stepInstanceModel{},
		&actionModel{},
		&outboundMessageModel{},
		&messageEventModel{},
		&inboundMessageModel{},
		&transitionModel{},
		&suppressionModel{},
		&unsubscribeModel{},
		&validationModel{},
		&rateLimitPolicyModel{},
		&rateGrantModel{},
		&eventDedupModel{},
	)
}

type campaignTemplateModel struct {
	CampaignID  string    `gorm:"column:campaign_id;primaryKey"`
	TenantID    string    `gorm:"column:tenant_id"`
	Name        string    `gorm:"column:name"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (campaignTemplateModel) TableName() string {
	return "campaign_templates"
}

type stepTemplateModel struct {
	StepID           string `gorm:"column:step_id;primaryKey"`
	CampaignID       string `gorm:"column:campaign_id"`
	Position         int    `gorm:"column:position"`
	Channel          string `gorm:"column:channel"`
	Identity         string `gorm:"column:identity"`
	Subject          string `gorm:"column:subject"`
	Body             string `gorm:"column:body"`
	OffsetSeconds    int64  `gorm:"column:offset_seconds"`
	FromPriorOutcome bool   `gorm:"column:from_prior_outcome"`
}

func (stepTemplateModel) TableName() string {
	return "campaign_step_templates"
}

type planVersionModel struct {
	CampaignID string    `gorm:"column:campaign_id;primaryKey"`
	Version    int       `gorm:"column:version;primaryKey"`
	TenantID   string    `gorm:"column:tenant_id"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (planVersionModel) TableName() string {
	return "campaign_plan_versions"
}

type planStepModel struct {
	CampaignID       string `gorm:"column:campaign_id;primaryKey"`
	Version          int    `gorm:"column:version;primaryKey"`
	Position         int    `gorm:"column:position;primaryKey"`
	StepID           string `gorm:"column:step_id"`
	Channel          string `gorm:"column:channel"`
	Identity         string `gorm:"column:identity"`
	Subject          string `gorm:"column:subject"`
	Body             string `gorm:"column:body"`
	OffsetSeconds    int64  `gorm:"column:offset_seconds"`
	FromPriorOutcome bool   `gorm:"column:from_prior_outcome"`
}

func (planStepModel) TableName() string {
	return "campaign_plan_steps"
}

type instanceModel struct {
	InstanceID   string     `gorm:"column:instance_id;primaryKey"`
	TenantID     string     `gorm:"column:tenant_id;uniqueIndex:instances_tenant_campaign_contact"`
	CampaignID   string     `gorm:"column:campaign_id;uniqueIndex:instances_tenant_campaign_contact"`
	PlanVersion  int        `gorm:"column:plan_version"`
	ContactID    string     `gorm:"column:contact_id;uniqueIndex:instances_tenant_campaign_contact"`
	EmailAddress string     `gorm:"column:email_address"`
	PhoneNumber  string     `gorm:"column:phone_number"`
	Status       string     `gorm:"column:status"`
	EnrolledAt   time.Time  `gorm:"column:enrolled_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
}

func (instanceModel) TableName() string {
	return "contact_campaign_instances"
}

type stepInstanceModel struct {
	StepInstanceID string     `gorm:"column:step_instance_id;primaryKey"`
	TenantID       string     `gorm:"column:tenant_id"`
	InstanceID     string     `gorm:"column:instance_id"`
	Position       int        `gorm:"column:position"`
	Channel        string     `gorm:"column:channel"`
	Identity       string     `gorm:"column:identity"`
	Status         string     `gorm:"column:status"`
	ScheduledAt    time.Time  `gorm:"column:scheduled_at"`
	AttemptEpoch   int        `gorm:"column:attempt_epoch"`
	BranchOutcome  string     `gorm:"column:branch_outcome"`
	LastError      string     `gorm:"column:last_error"`
	SentAt         *time.Time `gorm:"column:sent_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (stepInstanceModel) TableName() string {
	return "campaign_step_instances"
}

type actionModel struct {
	ActionID       string     `gorm:"column:action_id;primaryKey"`
	TenantID       string     `gorm:"column:tenant_id"`
	CampaignID     string     `gorm:"column:campaign_id"`
	InstanceID     string     `gorm:"column:instance_id"`
	StepInstanceID string     `gorm:"column:step_instance_id"`
	Status         string     `gorm:"column:status"`
	ScheduledAt    time.Time  `gorm:"column:scheduled_at"`
	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at"`
	Attempts       int        `gorm:"column:attempts"`
	LastError      string     `gorm:"column:last_error"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (actionModel) TableName() string {
	return "scheduled_actions"
}

type outboundMessageModel struct {
	MessageID         string    `gorm:"column:message_id;primaryKey"`
	TenantID          string    `gorm:"column:tenant_id;uniqueIndex:outbound_messages_tenant_dedupe"`
	InstanceID        string    `gorm:"column:instance_id"`
	StepInstanceID    string    `gorm:"column:step_instance_id"`
	Channel           string    `gorm:"column:channel"`
	Identity          string    `gorm:"column:identity"`
	Address           string    `gorm:"column:address"`
	DedupeKey         string    `gorm:"column:dedupe_key;uniqueIndex:outbound_messages_tenant_dedupe"`
	RenderedSubject   string    `gorm:"column:rendered_subject"`
	RenderedBody      string    `gorm:"column:rendered_body"`
	Status            string    `gorm:"column:status"`
	ProviderMessageID string    `gorm:"column:provider_message_id"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (outboundMessageModel) TableName() string {
	return "outbound_messages"
}

type messageEventModel struct {
	EventID    string    `gorm:"column:event_id;primaryKey"`
	TenantID   string    `gorm:"column:tenant_id"`
	MessageID  string    `gorm:"column:message_id"`
	Kind       string    `gorm:"column:kind"`
	EventAt    time.Time `gorm:"column:event_at"`
	RecordedAt time.Time `gorm:"column:recorded_at"`
}

func (messageEventModel) TableName() string {
	return "message_events"
}

type inboundMessageModel struct {
	InboundID      string    `gorm:"column:inbound_id;primaryKey"`
	TenantID       string    `gorm:"column:tenant_id"`
	InstanceID     string    `gorm:"column:instance_id"`
	StepInstanceID string    `gorm:"column:step_instance_id"`
	Channel        string    `gorm:"column:channel"`
	FromAddress    string    `gorm:"column:from_address"`
	Body           string    `gorm:"column:body"`
	ReceivedAt     time.Time `gorm:"column:received_at"`
}

func (inboundMessageModel) TableName() string {
	return "inbound_messages"
}

type transitionModel struct {
	TransitionID string    `gorm:"column:transition_id;primaryKey"`
	TenantID     string    `gorm:"column:tenant_id"`
	InstanceID   string    `gorm:"column:instance_id"`
	Entity       string    `gorm:"column:entity"`
	EntityID     string    `gorm:"column:entity_id"`
	FromState    string    `gorm:"column:from_state"`
	ToState      string    `gorm:"column:to_state"`
	Reason       string    `gorm:"column:reason"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (transitionModel) TableName() string {
	return "campaign_transitions"
}

type suppressionModel struct {
	SuppressionID string    `gorm:"column:suppression_id;primaryKey"`
	TenantID      string    `gorm:"column:tenant_id;uniqueIndex:suppressions_tenant_channel_address"`
	Channel       string    `gorm:"column:channel;uniqueIndex:suppressions_tenant_channel_address"`
	Address       string    `gorm:"column:address;uniqueIndex:suppressions_tenant_channel_address"`
	Reason        string    `gorm:"column:reason"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (suppressionModel) TableName() string {
	return "communication_suppressions"
}

type unsubscribeModel struct {
	UnsubscribeID string    `gorm:"column:unsubscribe_id;primaryKey"`
	TenantID      string    `gorm:"column:tenant_id;uniqueIndex:unsubscribes_tenant_channel_address"`
	Channel       string    `gorm:"column:channel;uniqueIndex:unsubscribes_tenant_channel_address"`
	Address       string    `gorm:"column:address;uniqueIndex:unsubscribes_tenant_channel_address"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (unsubscribeModel) TableName() string {
	return "contact_unsubscribes"
}

type validationModel struct {
	ValidationID string    `gorm:"column:validation_id;primaryKey"`
	TenantID     string    `gorm:"column:tenant_id;uniqueIndex:email_validations_tenant_address"`
	Address      string    `gorm:"column:address;uniqueIndex:email_validations_tenant_address"`
	Valid        bool      `gorm:"column:valid"`
	CheckedAt    time.Time `gorm:"column:checked_at"`
}

func (validationModel) TableName() string {
	return "email_validation_records"
}

type rateLimitPolicyModel struct {
	LimitID       string    `gorm:"column:limit_id;primaryKey"`
	TenantID      string    `gorm:"column:tenant_id"`
	Channel       string    `gorm:"column:channel"`
	Identity      string    `gorm:"column:identity"`
	MaxPerWindow  int       `gorm:"column:max_per_window"`
	WindowSeconds int64     `gorm:"column:window_seconds"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (rateLimitPolicyModel) TableName() string {
	return "send_rate_limits"
}

type rateGrantModel struct {
	GrantID   string    `gorm:"column:grant_id;primaryKey"`
	LimitID   string    `gorm:"column:limit_id"`
	GrantedAt time.Time `gorm:"column:granted_at"`
}

func (rateGrantModel) TableName() string {
	return "send_rate_grants"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (eventDedupModel) TableName() string {
	return "processed_events"
}

func instanceModelFromEntity(item entities.ContactCampaignInstance) instanceModel {
	return instanceModel{
		InstanceID:   item.InstanceID,
		TenantID:     item.TenantID,
		CampaignID:   item.CampaignID,
		PlanVersion:  item.PlanVersion,
		ContactID:    item.ContactID,
		EmailAddress: item.EmailAddress,
		PhoneNumber:  item.PhoneNumber,
		Status:       string(item.Status),
		EnrolledAt:   item.EnrolledAt.UTC(),
		UpdatedAt:    item.UpdatedAt.UTC(),
		CompletedAt:  item.CompletedAt,
	}
}

func (m instanceModel) toEntity() entities.ContactCampaignInstance {
	return entities.ContactCampaignInstance{
		InstanceID:   m.InstanceID,
		TenantID:     m.TenantID,
		CampaignID:   m.CampaignID,
		PlanVersion:  m.PlanVersion,
		ContactID:    m.ContactID,
		EmailAddress: m.EmailAddress,
		PhoneNumber:  m.PhoneNumber,
		Status:       entities.InstanceStatus(m.Status),
		EnrolledAt:   m.EnrolledAt,
		UpdatedAt:    m.UpdatedAt,
		CompletedAt:  m.CompletedAt,
	}
}

func stepInstanceModelFromEntity(item entities.CampaignStepInstance) stepInstanceModel {
	return stepInstanceModel{
		StepInstanceID: item.StepInstanceID,
		TenantID:       item.TenantID,
		InstanceID:     item.InstanceID,
		Position:       item.Position,
		Channel:        string(item.Channel),
		Identity:       item.Identity,
		Status:         string(item.Status),
		ScheduledAt:    item.ScheduledAt.UTC(),
		AttemptEpoch:   item.AttemptEpoch,
		BranchOutcome:  item.BranchOutcome,
		LastError:      item.LastError,
		SentAt:         item.SentAt,
		UpdatedAt:      item.UpdatedAt.UTC(),
	}
}

func (m stepInstanceModel) toEntity() entities.CampaignStepInstance {
	return entities.CampaignStepInstance{
		StepInstanceID: m.StepInstanceID,
		TenantID:       m.TenantID,
		InstanceID:     m.InstanceID,
		Position:       m.Position,
		Channel:        entities.Channel(m.Channel),
		Identity:       m.Identity,
		Status:         entities.StepStatus(m.Status),
		ScheduledAt:    m.ScheduledAt,
		AttemptEpoch:   m.AttemptEpoch,
		BranchOutcome:  m.BranchOutcome,
		LastError:      m.LastError,
		SentAt:         m.SentAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func actionModelFromEntity(item entities.ScheduledAction) actionModel {
	return actionModel{
		ActionID:       item.ActionID,
		TenantID:       item.TenantID,
		CampaignID:     item.CampaignID,
		InstanceID:     item.InstanceID,
		StepInstanceID: item.StepInstanceID,
		Status:         string(item.Status),
		ScheduledAt:    item.ScheduledAt.UTC(),
		LeaseExpiresAt: item.LeaseExpiresAt,
		Attempts:       item.Attempts,
		LastError:      item.LastError,
		CreatedAt:      item.CreatedAt.UTC(),
		UpdatedAt:      item.UpdatedAt.UTC(),
	}
}

func (m actionModel) toEntity() entities.ScheduledAction {
	return entities.ScheduledAction{
		ActionID:       m.ActionID,
		TenantID:       m.TenantID,
		CampaignID:     m.CampaignID,
		InstanceID:     m.InstanceID,
		StepInstanceID: m.StepInstanceID,
		Status:         entities.ActionStatus(m.Status),
		ScheduledAt:    m.ScheduledAt,
		LeaseExpiresAt: m.LeaseExpiresAt,
		Attempts:       m.Attempts,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func outboundMessageModelFromEntity(item entities.OutboundMessage) outboundMessageModel {
	return outboundMessageModel{
		MessageID:         item.MessageID,
		TenantID:          item.TenantID,
		InstanceID:        item.InstanceID,
		StepInstanceID:    item.StepInstanceID,
		Channel:           string(item.Channel),
		Identity:          item.Identity,
		Address:           item.Address,
		DedupeKey:         item.DedupeKey,
		RenderedSubject:   item.RenderedSubject,
		RenderedBody:      item.RenderedBody,
		Status:            string(item.Status),
		ProviderMessageID: item.ProviderMessageID,
		CreatedAt:         item.CreatedAt.UTC(),
		UpdatedAt:         item.UpdatedAt.UTC(),
	}
}

func (m outboundMessageModel) toEntity() entities.OutboundMessage {
	return entities.OutboundMessage{
		MessageID:         m.MessageID,
		TenantID:          m.TenantID,
		InstanceID:        m.InstanceID,
		StepInstanceID:    m.StepInstanceID,
		Channel:           entities.Channel(m.Channel),
		Identity:          m.Identity,
		Address:           m.Address,
		DedupeKey:         m.DedupeKey,
		RenderedSubject:   m.RenderedSubject,
		RenderedBody:      m.RenderedBody,
		Status:            entities.MessageStatus(m.Status),
		ProviderMessageID: m.ProviderMessageID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func stepTemplateFromPlanStep(m planStepModel) entities.CampaignStepTemplate {
	return entities.CampaignStepTemplate{
		StepID:           m.StepID,
		Position:         m.Position,
		Channel:          entities.Channel(m.Channel),
		Identity:         m.Identity,
		Subject:          m.Subject,
		Body:             m.Body,
		Offset:           time.Duration(m.OffsetSeconds) * time.Second,
		FromPriorOutcome: m.FromPriorOutcome,
	}
}
