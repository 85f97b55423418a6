package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	contractsv1 "github.com/Nex2i/dripiq-sub001/contracts/gen/events/v1"
)

// Kafka is the event bus adapter between the outbox relay and the engagement
// consumer. The current implementation is in-process while broker wiring is
// finalized, but it keeps the semantics the consumers are written against:
// each consumer group receives every event exactly once, and events within a
// topic are handled in publish order so a delivered event cannot be observed
// after the reply it preceded.
type Kafka struct {
	mu     sync.RWMutex
	topics map[string]map[string]*groupSubscription
	logger *slog.Logger
}

type groupSubscription struct {
	events chan contractsv1.Envelope
}

func NewKafka(_ []string, logger *slog.Logger) (*Kafka, error) {
	return &Kafka{
		topics: make(map[string]map[string]*groupSubscription),
		logger: logger,
	}, nil
}

func (k *Kafka) Publish(ctx context.Context, topic string, event contractsv1.Envelope) error {
	k.mu.RLock()
	groups := make([]*groupSubscription, 0, len(k.topics[topic]))
	for _, sub := range k.topics[topic] {
		groups = append(groups, sub)
	}
	k.mu.RUnlock()

	var lagging int
	for _, sub := range groups {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub.events <- event:
		default:
			lagging++
			if k.logger != nil {
				k.logger.Warn("consumer group lagging, event not enqueued",
					"event", "bus_publish_lag",
					"module", "internal/platform/messaging",
					"layer", "platform",
					"topic", topic,
					"event_id", event.EventID,
					"partition_key", event.PartitionKey,
				)
			}
		}
	}
	// Surface lag as a publish failure so the outbox relay keeps the row
	// pending; consumers that did receive the event dedupe the retry.
	if lagging > 0 {
		return fmt.Errorf("bus: %d consumer group(s) lagging on topic %s", lagging, topic)
	}

	if k.logger != nil {
		k.logger.Info("event published",
			"event", "bus_publish",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"event_id", event.EventID,
			"event_type", event.EventType,
			"partition_key", event.PartitionKey,
		)
	}
	return nil
}

// Subscribe registers a consumer group on a topic. A second Subscribe with the
// same group joins the existing subscription rather than duplicating delivery,
// matching broker consumer-group behavior. The handler runs on a single
// goroutine per group so delivery order is preserved; handler errors are
// logged and the event is skipped, since producers retry through the outbox.
func (k *Kafka) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, contractsv1.Envelope) error,
) error {
	k.mu.Lock()
	groups, ok := k.topics[topic]
	if !ok {
		groups = make(map[string]*groupSubscription)
		k.topics[topic] = groups
	}
	if _, exists := groups[consumerGroup]; exists {
		k.mu.Unlock()
		return nil
	}
	sub := &groupSubscription{events: make(chan contractsv1.Envelope, 256)}
	groups[consumerGroup] = sub
	k.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				k.dropGroup(topic, consumerGroup)
				return
			case event := <-sub.events:
				if err := handler(ctx, event); err != nil && k.logger != nil {
					k.logger.Error("consumer handler failed",
						"event", "bus_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

func (k *Kafka) dropGroup(topic, consumerGroup string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if groups, ok := k.topics[topic]; ok {
		delete(groups, consumerGroup)
	}
}
