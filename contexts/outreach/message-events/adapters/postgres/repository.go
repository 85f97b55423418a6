package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/errors"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

// AutoMigrate creates or updates the webhook archive and outbox tables.
// Development helper; see internal/platform/db.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&deliveryModel{}, &outboxModel{})
}

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreateDelivery(ctx context.Context, delivery entities.WebhookDelivery) error {
	row := deliveryModelFromEntity(delivery)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("webhook_repo_create_delivery_failed", err,
			"delivery_id", row.DeliveryID,
			"provider", row.Provider,
		)
	}
	return nil
}

func (r *Repository) GetDelivery(ctx context.Context, tenantID, deliveryID string) (entities.WebhookDelivery, error) {
	var row deliveryModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("delivery_id = ?", strings.TrimSpace(deliveryID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.WebhookDelivery{}, domainerrors.ErrDeliveryNotFound
		}
		return entities.WebhookDelivery{}, r.logError("webhook_repo_get_delivery_failed", err,
			"delivery_id", strings.TrimSpace(deliveryID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) UpdateDelivery(ctx context.Context, delivery entities.WebhookDelivery) error {
	row := deliveryModelFromEntity(delivery)
	result := r.db.WithContext(ctx).
		Model(&deliveryModel{}).
		Where("delivery_id = ?", row.DeliveryID).
		Updates(map[string]any{
			"status":        row.Status,
			"error":         row.Error,
			"normalized_at": row.NormalizedAt,
		})
	if result.Error != nil {
		return r.logError("webhook_repo_update_delivery_failed", result.Error,
			"delivery_id", row.DeliveryID,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrDeliveryNotFound
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("webhook_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("webhook_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("webhook_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrOutboxConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("webhook_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("webhook_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrDeliveryNotFound
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "outreach/message-events",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("message events repository operation failed", fields...)
	return err
}

type deliveryModel struct {
	DeliveryID   string     `gorm:"column:delivery_id;primaryKey"`
	TenantID     string     `gorm:"column:tenant_id"`
	Provider     string     `gorm:"column:provider"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	Error        string     `gorm:"column:error"`
	ReceivedAt   time.Time  `gorm:"column:received_at"`
	NormalizedAt *time.Time `gorm:"column:normalized_at"`
}

func (deliveryModel) TableName() string {
	return "webhook_deliveries"
}

func deliveryModelFromEntity(item entities.WebhookDelivery) deliveryModel {
	return deliveryModel{
		DeliveryID:   strings.TrimSpace(item.DeliveryID),
		TenantID:     strings.TrimSpace(item.TenantID),
		Provider:     strings.TrimSpace(item.Provider),
		Payload:      append([]byte(nil), item.Payload...),
		Status:       string(item.Status),
		Error:        item.Error,
		ReceivedAt:   item.ReceivedAt.UTC(),
		NormalizedAt: item.NormalizedAt,
	}
}

func (m deliveryModel) toEntity() entities.WebhookDelivery {
	return entities.WebhookDelivery{
		DeliveryID:   m.DeliveryID,
		TenantID:     m.TenantID,
		Provider:     m.Provider,
		Payload:      append([]byte(nil), m.Payload...),
		Status:       entities.DeliveryStatus(m.Status),
		Error:        m.Error,
		ReceivedAt:   m.ReceivedAt.UTC(),
		NormalizedAt: m.NormalizedAt,
	}
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "message_events_outbox"
}

var _ ports.WebhookArchive = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
