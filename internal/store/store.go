package store

import (
	"context"
	"time"

	"github.com/oriys/pgbroker/internal/domain"
)

// ListPage bounds an offset/limit query; Limit is always clamped to
// [1, broker.MaxListLimit] by the caller before reaching the store.
type ListPage struct {
	Offset int
	Limit  int
}

// BrokerStore is the full persistence surface of the dispatch engine: topic
// and subscription CRUD, the message-dispatch operations (publish, consume,
// ack, nack, DLQ), the two sweepers, and the optional auth client table.
// A single implementation (PostgresStore) backs all of it; the interface
// exists so the engine can be tested against an in-memory fake.
type BrokerStore interface {
	Ping(ctx context.Context) error
	Close() error

	CreateTopic(ctx context.Context, id string) (*domain.Topic, error)
	GetTopic(ctx context.Context, id string) (*domain.Topic, error)
	ListTopics(ctx context.Context, page ListPage) ([]*domain.Topic, bool, error)
	DeleteTopic(ctx context.Context, id string) error

	CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context, page ListPage) ([]*domain.Subscription, bool, error)
	DeleteSubscription(ctx context.Context, id string) error

	// PublishMessages fans a batch of payloads out to every subscription of
	// topicID whose filter matches, within a single transaction.
	PublishMessages(ctx context.Context, topicID string, payloads [][]byte) error

	// ConsumeMessages leases up to batchSize available messages for consumerID.
	ConsumeMessages(ctx context.Context, subscriptionID, consumerID string, batchSize int) ([]*domain.Message, error)

	// AckMessages and NackMessages are consumer-scoped and silently ignore
	// rows not owned by consumerID or not in the expected state.
	AckMessages(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) error
	NackMessages(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) error

	ListDLQ(ctx context.Context, subscriptionID string, page ListPage) ([]*domain.Message, bool, error)
	ReprocessDLQ(ctx context.Context, subscriptionID string, messageIDs []string) error

	SubscriptionMetrics(ctx context.Context, subscriptionID string) (*domain.SubscriptionMetrics, error)

	// SweepStuckLeases recovers messages leased longer than lockTimeout and
	// returns the number of rows it touched.
	SweepStuckLeases(ctx context.Context, lockTimeout time.Duration) (int, error)

	// SweepAckedMessages deletes acked messages older than olderThan and
	// returns the number of rows deleted.
	SweepAckedMessages(ctx context.Context, olderThan time.Duration) (int, error)

	// Auth clients (optional; only exercised when auth is enabled).
	CreateClient(ctx context.Context, client *domain.Client) error
	GetClientByName(ctx context.Context, name string) (*domain.Client, error)
	GetClientByID(ctx context.Context, id string) (*domain.Client, error)
	BumpClientTokenVersion(ctx context.Context, id string) error
}
