package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oriys/pgbroker/internal/broker"
	"github.com/oriys/pgbroker/internal/domain"
	"github.com/oriys/pgbroker/internal/store/storetest"
)

func newEngine() (*broker.Engine, *storetest.Store) {
	s := storetest.New()
	return broker.NewEngine(s), s
}

func mustTopic(t *testing.T, e *broker.Engine, id string) {
	t.Helper()
	if _, err := e.CreateTopic(context.Background(), id); err != nil {
		t.Fatalf("create topic: %v", err)
	}
}

func mustSub(t *testing.T, e *broker.Engine, sub *domain.Subscription) *domain.Subscription {
	t.Helper()
	out, err := e.CreateSubscription(context.Background(), sub)
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return out
}

func TestPublishConsumeAck(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()

	mustTopic(t, e, "orders")
	sub := mustSub(t, e, &domain.Subscription{TopicID: "orders"})

	if err := e.Publish(ctx, "orders", [][]byte{[]byte(`{"region":"us"}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := e.Consume(ctx, sub.ID, "worker-1", 10)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].DeliveryAttempts != 1 {
		t.Fatalf("expected delivery_attempts 1, got %d", msgs[0].DeliveryAttempts)
	}

	if err := e.Ack(ctx, sub.ID, "worker-1", []string{msgs[0].ID}); err != nil {
		t.Fatalf("ack: %v", err)
	}

	metrics, err := e.SubscriptionMetrics(ctx, sub.ID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.Acked != 1 || metrics.Available != 0 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
}

// Double-ack is a no-op: the second ack must not error or double-count.
func TestAckIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()

	mustTopic(t, e, "orders")
	sub := mustSub(t, e, &domain.Subscription{TopicID: "orders"})
	if err := e.Publish(ctx, "orders", [][]byte{[]byte(`{}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs, err := e.Consume(ctx, sub.ID, "worker-1", 1)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	if err := e.Ack(ctx, sub.ID, "worker-1", []string{msgs[0].ID}); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if err := e.Ack(ctx, sub.ID, "worker-1", []string{msgs[0].ID}); err != nil {
		t.Fatalf("second ack: %v", err)
	}

	metrics, err := e.SubscriptionMetrics(ctx, sub.ID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.Acked != 1 {
		t.Fatalf("expected acked=1 after double ack, got %d", metrics.Acked)
	}
}

func TestFilterMatching(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()

	mustTopic(t, e, "orders")
	matching := mustSub(t, e, &domain.Subscription{
		TopicID: "orders",
		Filter:  domain.Filter{"region": {"us", "eu"}},
	})
	nonMatching := mustSub(t, e, &domain.Subscription{
		TopicID: "orders",
		Filter:  domain.Filter{"region": {"ap"}},
	})
	noKey := mustSub(t, e, &domain.Subscription{
		TopicID: "orders",
		Filter:  domain.Filter{"missing_key": {"x"}},
	})

	if err := e.Publish(ctx, "orders", [][]byte{[]byte(`{"region":"us","amount":10}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	assertCount := func(subID string, want int64) {
		t.Helper()
		m, err := e.SubscriptionMetrics(ctx, subID)
		if err != nil {
			t.Fatalf("metrics: %v", err)
		}
		if m.Available != want {
			t.Fatalf("subscription %s: expected available=%d, got %d", subID, want, m.Available)
		}
	}
	assertCount(matching.ID, 1)
	assertCount(nonMatching.ID, 0)
	assertCount(noKey.ID, 0)
}

func TestNackRetriesThenDLQs(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine()
	now := time.Unix(0, 0)
	s.Now = func() time.Time { return now }

	mustTopic(t, e, "orders")
	sub := mustSub(t, e, &domain.Subscription{
		TopicID:             "orders",
		MaxDeliveryAttempts: 2,
		BackoffMinSeconds:   5,
		BackoffMaxSeconds:   300,
	})
	if err := e.Publish(ctx, "orders", [][]byte{[]byte(`{}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := e.Consume(ctx, sub.ID, "worker-1", 1)
	if err != nil {
		t.Fatalf("consume 1: %v", err)
	}
	if err := e.Nack(ctx, sub.ID, "worker-1", []string{msgs[0].ID}); err != nil {
		t.Fatalf("nack 1: %v", err)
	}

	metrics, err := e.SubscriptionMetrics(ctx, sub.ID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.Available != 1 {
		t.Fatalf("expected message available for retry, got metrics %+v", metrics)
	}

	now = now.Add(time.Hour)
	msgs, err = e.Consume(ctx, sub.ID, "worker-1", 1)
	if err != nil {
		t.Fatalf("consume 2: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected redelivery, got %d messages", len(msgs))
	}
	if msgs[0].DeliveryAttempts != 2 {
		t.Fatalf("expected delivery_attempts 2, got %d", msgs[0].DeliveryAttempts)
	}

	if err := e.Nack(ctx, sub.ID, "worker-1", []string{msgs[0].ID}); err != nil {
		t.Fatalf("nack 2: %v", err)
	}

	metrics, err = e.SubscriptionMetrics(ctx, sub.ID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.DLQ != 1 {
		t.Fatalf("expected message in dlq after exhausting attempts, got %+v", metrics)
	}
}

func TestReprocessDLQ(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()

	mustTopic(t, e, "orders")
	sub := mustSub(t, e, &domain.Subscription{TopicID: "orders", MaxDeliveryAttempts: 1})
	if err := e.Publish(ctx, "orders", [][]byte{[]byte(`{}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs, err := e.Consume(ctx, sub.ID, "worker-1", 1)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := e.Nack(ctx, sub.ID, "worker-1", []string{msgs[0].ID}); err != nil {
		t.Fatalf("nack: %v", err)
	}

	dlq, _, err := e.ListDLQ(ctx, sub.ID, 0, 10)
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(dlq) != 1 {
		t.Fatalf("expected 1 dlq message, got %d", len(dlq))
	}

	if err := e.ReprocessDLQ(ctx, sub.ID, []string{dlq[0].ID}); err != nil {
		t.Fatalf("reprocess: %v", err)
	}

	metrics, err := e.SubscriptionMetrics(ctx, sub.ID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.Available != 1 || metrics.DLQ != 0 {
		t.Fatalf("unexpected metrics after reprocess: %+v", metrics)
	}
}

func TestSweepStuckLeases(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine()
	now := time.Unix(1000, 0)
	s.Now = func() time.Time { return now }

	mustTopic(t, e, "orders")
	sub := mustSub(t, e, &domain.Subscription{TopicID: "orders", MaxDeliveryAttempts: 5})
	if err := e.Publish(ctx, "orders", [][]byte{[]byte(`{}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := e.Consume(ctx, sub.ID, "worker-1", 1); err != nil {
		t.Fatalf("consume: %v", err)
	}

	now = now.Add(time.Hour)
	n, err := e.SweepStuckLeases(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered lease, got %d", n)
	}

	metrics, err := e.SubscriptionMetrics(ctx, sub.ID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.Available != 1 {
		t.Fatalf("expected message available again after sweep, got %+v", metrics)
	}
}

func TestConsumeRejectsOversizedBatch(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()
	mustTopic(t, e, "orders")
	sub := mustSub(t, e, &domain.Subscription{TopicID: "orders"})

	_, err := e.Consume(ctx, sub.ID, "worker-1", broker.MaxBatchSize+1)
	if !errors.Is(err, broker.ErrInvalidBatchSize) {
		t.Fatalf("expected ErrInvalidBatchSize, got %v", err)
	}
}

func TestCreateSubscriptionRejectsInvalidBackoff(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()
	mustTopic(t, e, "orders")

	_, err := e.CreateSubscription(ctx, &domain.Subscription{
		TopicID:           "orders",
		BackoffMinSeconds: 100,
		BackoffMaxSeconds: 10,
	})
	if !errors.Is(err, broker.ErrInvalidBackoff) {
		t.Fatalf("expected ErrInvalidBackoff, got %v", err)
	}
}

func TestPublishRejectsEmptyBatch(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()
	mustTopic(t, e, "orders")

	err := e.Publish(ctx, "orders", nil)
	if !errors.Is(err, broker.ErrEmptyPublish) {
		t.Fatalf("expected ErrEmptyPublish, got %v", err)
	}
}

func TestPublishToUnknownTopic(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()

	err := e.Publish(ctx, "missing", [][]byte{[]byte(`{}`)})
	if !errors.Is(err, broker.ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
}

func TestDeleteTopicCascadesToSubscriptions(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()
	mustTopic(t, e, "orders")
	sub := mustSub(t, e, &domain.Subscription{TopicID: "orders"})

	if err := e.DeleteTopic(ctx, "orders"); err != nil {
		t.Fatalf("delete topic: %v", err)
	}

	if _, err := e.GetSubscription(ctx, sub.ID); !errors.Is(err, broker.ErrSubscriptionNotFound) {
		t.Fatalf("expected subscription to be gone after cascade delete, got %v", err)
	}
}
