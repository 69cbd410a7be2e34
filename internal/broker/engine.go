package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/pgbroker/internal/domain"
	"github.com/oriys/pgbroker/internal/logging"
	"github.com/oriys/pgbroker/internal/metrics"
	"github.com/oriys/pgbroker/internal/observability"
	"github.com/oriys/pgbroker/internal/store"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500

	DefaultBatchSize = 10
	MaxBatchSize     = 100

	DefaultMaxDeliveryAttempts = 5
	DefaultBackoffMinSeconds   = 5
	DefaultBackoffMaxSeconds   = 300
)

// Engine is the dispatch engine. It validates and normalizes requests, emits
// tracing spans and structured logs, and delegates persistence to a
// store.BrokerStore. It is the only component that mutates message state.
type Engine struct {
	store store.BrokerStore
}

func NewEngine(s store.BrokerStore) *Engine {
	return &Engine{store: s}
}

func normalizeListLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// ─── Topics ─────────────────────────────────────────────────────────────────

func (e *Engine) CreateTopic(ctx context.Context, id string) (*domain.Topic, error) {
	ctx, span := observability.StartSpan(ctx, "broker.create_topic", observability.AttrTopicID.String(id))
	defer span.End()

	if id == "" {
		return nil, fmt.Errorf("%w: topic id is required", ErrInvalidArgument)
	}

	t, err := e.store.CreateTopic(ctx, id)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	logging.Op().Debug("topic created", "topic_id", id)
	return t, nil
}

func (e *Engine) GetTopic(ctx context.Context, id string) (*domain.Topic, error) {
	return e.store.GetTopic(ctx, id)
}

func (e *Engine) ListTopics(ctx context.Context, offset, limit int) ([]*domain.Topic, bool, error) {
	return e.store.ListTopics(ctx, store.ListPage{Offset: offset, Limit: normalizeListLimit(limit)})
}

func (e *Engine) DeleteTopic(ctx context.Context, id string) error {
	ctx, span := observability.StartSpan(ctx, "broker.delete_topic", observability.AttrTopicID.String(id))
	defer span.End()

	if err := e.store.DeleteTopic(ctx, id); err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	logging.Op().Info("topic deleted", "topic_id", id)
	return nil
}

// ─── Subscriptions ──────────────────────────────────────────────────────────

// CreateSubscription fills in defaults for an omitted retry policy and
// assigns an ID when the caller did not supply one.
func (e *Engine) CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	ctx, span := observability.StartSpan(ctx, "broker.create_subscription",
		observability.AttrTopicID.String(sub.TopicID))
	defer span.End()

	if sub.TopicID == "" {
		return nil, fmt.Errorf("%w: topic_id is required", ErrInvalidArgument)
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.MaxDeliveryAttempts <= 0 {
		sub.MaxDeliveryAttempts = DefaultMaxDeliveryAttempts
	}
	if sub.BackoffMinSeconds <= 0 {
		sub.BackoffMinSeconds = DefaultBackoffMinSeconds
	}
	if sub.BackoffMaxSeconds <= 0 {
		sub.BackoffMaxSeconds = DefaultBackoffMaxSeconds
	}
	if sub.BackoffMaxSeconds < sub.BackoffMinSeconds {
		return nil, ErrInvalidBackoff
	}

	created, err := e.store.CreateSubscription(ctx, sub)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(observability.AttrSubscriptionID.String(created.ID))
	logging.Op().Debug("subscription created", "subscription_id", created.ID, "topic_id", created.TopicID)
	return created, nil
}

func (e *Engine) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return e.store.GetSubscription(ctx, id)
}

func (e *Engine) ListSubscriptions(ctx context.Context, offset, limit int) ([]*domain.Subscription, bool, error) {
	return e.store.ListSubscriptions(ctx, store.ListPage{Offset: offset, Limit: normalizeListLimit(limit)})
}

func (e *Engine) DeleteSubscription(ctx context.Context, id string) error {
	ctx, span := observability.StartSpan(ctx, "broker.delete_subscription", observability.AttrSubscriptionID.String(id))
	defer span.End()

	if err := e.store.DeleteSubscription(ctx, id); err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	logging.Op().Info("subscription deleted", "subscription_id", id)
	return nil
}

// ─── Dispatch ───────────────────────────────────────────────────────────────

// Publish fans a batch of JSON payloads out to every subscription of topicID
// whose filter matches. Each payload must be a JSON object or JSON-null; any
// other JSON value is rejected since filter matching operates on object keys.
func (e *Engine) Publish(ctx context.Context, topicID string, payloads [][]byte) error {
	ctx, span := observability.StartSpan(ctx, "broker.publish",
		observability.AttrTopicID.String(topicID),
		observability.AttrMessageCount.Int(len(payloads)))
	defer span.End()

	if len(payloads) == 0 {
		return ErrEmptyPublish
	}
	for _, p := range payloads {
		var v any
		if err := json.Unmarshal(p, &v); err != nil {
			return fmt.Errorf("%w: payload is not valid JSON: %v", ErrInvalidArgument, err)
		}
		if _, isObject := v.(map[string]any); !isObject && v != nil {
			return fmt.Errorf("%w: payload must be a JSON object", ErrInvalidArgument)
		}
	}

	if err := e.store.PublishMessages(ctx, topicID, payloads); err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	metrics.RecordPublish(topicID, len(payloads))
	logging.Op().Debug("messages published", "topic_id", topicID, "count", len(payloads))
	return nil
}

// Consume leases up to batchSize available messages for consumerID. A
// batchSize of 0 falls back to DefaultBatchSize.
func (e *Engine) Consume(ctx context.Context, subscriptionID, consumerID string, batchSize int) ([]*domain.Message, error) {
	ctx, span := observability.StartSpan(ctx, "broker.consume",
		observability.AttrSubscriptionID.String(subscriptionID),
		observability.AttrConsumerID.String(consumerID))
	defer span.End()

	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize < 1 || batchSize > MaxBatchSize {
		return nil, ErrInvalidBatchSize
	}
	if consumerID == "" {
		return nil, fmt.Errorf("%w: consumer_id is required", ErrInvalidArgument)
	}

	msgs, err := e.store.ConsumeMessages(ctx, subscriptionID, consumerID, batchSize)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(observability.AttrMessageCount.Int(len(msgs)))
	metrics.RecordLease(subscriptionID, len(msgs))
	return msgs, nil
}

func (e *Engine) Ack(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) error {
	ctx, span := observability.StartSpan(ctx, "broker.ack",
		observability.AttrSubscriptionID.String(subscriptionID),
		observability.AttrMessageCount.Int(len(messageIDs)))
	defer span.End()

	if len(messageIDs) == 0 {
		return nil
	}
	if err := e.store.AckMessages(ctx, subscriptionID, consumerID, messageIDs); err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	metrics.RecordAck(subscriptionID, len(messageIDs))
	return nil
}

func (e *Engine) Nack(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) error {
	ctx, span := observability.StartSpan(ctx, "broker.nack",
		observability.AttrSubscriptionID.String(subscriptionID),
		observability.AttrMessageCount.Int(len(messageIDs)))
	defer span.End()

	if len(messageIDs) == 0 {
		return nil
	}
	if err := e.store.NackMessages(ctx, subscriptionID, consumerID, messageIDs); err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	metrics.RecordNack(subscriptionID, len(messageIDs))
	return nil
}

// ─── Dead-letter queue ──────────────────────────────────────────────────────

func (e *Engine) ListDLQ(ctx context.Context, subscriptionID string, offset, limit int) ([]*domain.Message, bool, error) {
	return e.store.ListDLQ(ctx, subscriptionID, store.ListPage{Offset: offset, Limit: normalizeListLimit(limit)})
}

func (e *Engine) ReprocessDLQ(ctx context.Context, subscriptionID string, messageIDs []string) error {
	ctx, span := observability.StartSpan(ctx, "broker.reprocess_dlq",
		observability.AttrSubscriptionID.String(subscriptionID),
		observability.AttrMessageCount.Int(len(messageIDs)))
	defer span.End()

	if len(messageIDs) == 0 {
		return nil
	}
	if err := e.store.ReprocessDLQ(ctx, subscriptionID, messageIDs); err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	metrics.RecordDLQReprocess(subscriptionID, len(messageIDs))
	logging.Op().Info("dlq messages reprocessed", "subscription_id", subscriptionID, "count", len(messageIDs))
	return nil
}

// ─── Metrics ────────────────────────────────────────────────────────────────

func (e *Engine) SubscriptionMetrics(ctx context.Context, subscriptionID string) (*domain.SubscriptionMetrics, error) {
	return e.store.SubscriptionMetrics(ctx, subscriptionID)
}

// ─── Sweepers ───────────────────────────────────────────────────────────────

// SweepStuckLeases recovers messages leased longer than lockTimeout. Recovery
// applies no backoff: the message becomes immediately available again,
// matching the semantics of a crashed consumer rather than a deliberate
// nack.
func (e *Engine) SweepStuckLeases(ctx context.Context, lockTimeout time.Duration) (int, error) {
	ctx, span := observability.StartSpan(ctx, "broker.sweep_stuck_leases")
	defer span.End()

	n, err := e.store.SweepStuckLeases(ctx, lockTimeout)
	if err != nil {
		observability.SetSpanError(span, err)
		return 0, err
	}
	metrics.RecordSweep("stuck_lease_expiry", n)
	logging.Op().Info("swept stuck leases", "count", n)
	return n, nil
}

func (e *Engine) SweepAckedMessages(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, span := observability.StartSpan(ctx, "broker.sweep_acked_messages")
	defer span.End()

	n, err := e.store.SweepAckedMessages(ctx, olderThan)
	if err != nil {
		observability.SetSpanError(span, err)
		return 0, err
	}
	metrics.RecordSweep("acked_message_gc", n)
	logging.Op().Info("swept acked messages", "count", n)
	return n, nil
}
