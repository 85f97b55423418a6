package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/errors"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/ports"
)

type outboxRow struct {
	message   ports.OutboxMessage
	published bool
}

// Store is the in-memory implementation of every message-events port. It
// backs tests and NewInMemoryModule.
type Store struct {
	mu         sync.Mutex
	deliveries map[string]entities.WebhookDelivery
	outbox     []outboxRow
	now        time.Time
}

func NewStore() *Store {
	return &Store{
		deliveries: make(map[string]entities.WebhookDelivery),
	}
}

// SetNow pins the clock; zero restores wall-clock time.
func (s *Store) SetNow(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t.UTC()
}

func (s *Store) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now.IsZero() {
		return time.Now().UTC()
	}
	return s.now
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) CreateDelivery(_ context.Context, delivery entities.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery.Payload = append([]byte(nil), delivery.Payload...)
	s.deliveries[delivery.DeliveryID] = delivery
	return nil
}

func (s *Store) GetDelivery(_ context.Context, tenantID, deliveryID string) (entities.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery, exists := s.deliveries[deliveryID]
	if !exists || delivery.TenantID != tenantID {
		return entities.WebhookDelivery{}, domainerrors.ErrDeliveryNotFound
	}
	return delivery, nil
}

func (s *Store) UpdateDelivery(_ context.Context, delivery entities.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deliveries[delivery.DeliveryID]; !exists {
		return domainerrors.ErrDeliveryNotFound
	}
	delivery.Payload = append([]byte(nil), delivery.Payload...)
	s.deliveries[delivery.DeliveryID] = delivery
	return nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.outbox {
		if row.message.OutboxID == envelope.EventID {
			if !bytes.Equal(row.message.Payload, payload) {
				return domainerrors.ErrOutboxConflict
			}
			return nil
		}
	}
	s.outbox = append(s.outbox, outboxRow{
		message: ports.OutboxMessage{
			OutboxID:     envelope.EventID,
			EventType:    envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      payload,
			CreatedAt:    envelope.OccurredAt.UTC(),
		},
	})
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, limit)
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.outbox {
		if row.message.OutboxID == outboxID {
			s.outbox[i].published = true
			return nil
		}
	}
	return domainerrors.ErrDeliveryNotFound
}

// ---- test inspection helpers ----

func (s *Store) Deliveries() []entities.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]entities.WebhookDelivery, 0, len(s.deliveries))
	for _, delivery := range s.deliveries {
		items = append(items, delivery)
	}
	return items
}

func (s *Store) OutboxSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

var _ ports.WebhookArchive = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
