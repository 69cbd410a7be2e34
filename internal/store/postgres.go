package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/pgbroker/internal/broker"
	brokerdb "github.com/oriys/pgbroker/internal/db"
	"github.com/oriys/pgbroker/internal/domain"
)

// Re-exported sentinels so call sites in this package read naturally; the
// engine and HTTP layer classify these via broker.KindOf.
var (
	ErrNotFound             = broker.ErrNotFound
	ErrAlreadyExists        = broker.ErrAlreadyExists
	ErrTopicNotFound        = broker.ErrTopicNotFound
	ErrSubscriptionNotFound = broker.ErrSubscriptionNotFound
	ErrSubscriptionExists   = broker.ErrSubscriptionExists
)

// PostgresStore is the sole BrokerStore implementation. Every query runs on
// the pgx pool directly; the generic db.Database wrapper (dbconn) is used
// only for Ping and is exposed through Database().
type PostgresStore struct {
	pool   *pgxpool.Pool
	dbconn *brokerdb.PgxPool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool, dbconn: brokerdb.NewPgxPool(pool)}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Database exposes the portable db.Database handle for components that only
// need Ping/Exec and should not depend on pgx directly.
func (s *PostgresStore) Database() brokerdb.Database { return s.dbconn }

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.dbconn.Ping(ctx)
}

// EnsureSchema creates the broker's tables and hot indices if they do not
// already exist. The db-migrate subcommand runs it; nothing else creates the
// schema implicitly.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS topics (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
			filter JSONB,
			max_delivery_attempts INTEGER NOT NULL DEFAULT 5,
			backoff_min_seconds INTEGER NOT NULL DEFAULT 5,
			backoff_max_seconds INTEGER NOT NULL DEFAULT 300,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_topic_id ON subscriptions(topic_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'available',
			delivery_attempts INTEGER NOT NULL DEFAULT 0,
			available_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			locked_by TEXT,
			locked_at TIMESTAMPTZ,
			acked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_consume ON messages(subscription_id, status, available_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_acked_sweep ON messages(subscription_id, status, acked_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_stuck_sweep ON messages(status, locked_at) WHERE status = 'delivered'`,
		`CREATE TABLE IF NOT EXISTS clients (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			scopes TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			token_version INTEGER NOT NULL DEFAULT 1,
			secret_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ─── Topics ─────────────────────────────────────────────────────────────────

func (s *PostgresStore) CreateTopic(ctx context.Context, id string) (*domain.Topic, error) {
	var t domain.Topic
	t.ID = id
	err := s.pool.QueryRow(ctx, `
		INSERT INTO topics (id) VALUES ($1)
		RETURNING id, created_at
	`, id).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create topic: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTopic(ctx context.Context, id string) (*domain.Topic, error) {
	var t domain.Topic
	err := s.pool.QueryRow(ctx, `SELECT id, created_at FROM topics WHERE id = $1`, id).Scan(&t.ID, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListTopics(ctx context.Context, page ListPage) ([]*domain.Topic, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_at FROM topics ORDER BY id ASC OFFSET $1 LIMIT $2
	`, page.Offset, page.Limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	topics := make([]*domain.Topic, 0, page.Limit)
	for rows.Next() {
		var t domain.Topic
		if err := rows.Scan(&t.ID, &t.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := len(topics) > page.Limit
	if hasMore {
		topics = topics[:page.Limit]
	}
	return topics, hasMore, nil
}

func (s *PostgresStore) DeleteTopic(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete topic tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := acquireDeleteOperationLock(ctx, tx); err != nil {
		return err
	}

	ct, err := tx.Exec(ctx, `DELETE FROM topics WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// ─── Subscriptions ──────────────────────────────────────────────────────────

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	filterJSON, err := marshalFilter(sub.Filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}

	out := *sub
	err = s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, topic_id, filter, max_delivery_attempts, backoff_min_seconds, backoff_max_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, topic_id, max_delivery_attempts, backoff_min_seconds, backoff_max_seconds, created_at
	`, sub.ID, sub.TopicID, filterJSON, sub.MaxDeliveryAttempts, sub.BackoffMinSeconds, sub.BackoffMaxSeconds).
		Scan(&out.ID, &out.TopicID, &out.MaxDeliveryAttempts, &out.BackoffMinSeconds, &out.BackoffMaxSeconds, &out.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSubscriptionExists
		}
		if isForeignKeyViolation(err) {
			return nil, ErrTopicNotFound
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	out.Filter = sub.Filter
	return &out, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	var filterJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, topic_id, filter, max_delivery_attempts, backoff_min_seconds, backoff_max_seconds, created_at
		FROM subscriptions WHERE id = $1
	`, id).Scan(&sub.ID, &sub.TopicID, &filterJSON, &sub.MaxDeliveryAttempts, &sub.BackoffMinSeconds, &sub.BackoffMaxSeconds, &sub.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if filterJSON != nil {
		if err := json.Unmarshal(filterJSON, &sub.Filter); err != nil {
			return nil, fmt.Errorf("unmarshal filter: %w", err)
		}
	}
	return &sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, page ListPage) ([]*domain.Subscription, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic_id, filter, max_delivery_attempts, backoff_min_seconds, backoff_max_seconds, created_at
		FROM subscriptions ORDER BY id ASC OFFSET $1 LIMIT $2
	`, page.Offset, page.Limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]*domain.Subscription, 0, page.Limit)
	for rows.Next() {
		var sub domain.Subscription
		var filterJSON []byte
		if err := rows.Scan(&sub.ID, &sub.TopicID, &filterJSON, &sub.MaxDeliveryAttempts, &sub.BackoffMinSeconds, &sub.BackoffMaxSeconds, &sub.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan subscription: %w", err)
		}
		if filterJSON != nil {
			if err := json.Unmarshal(filterJSON, &sub.Filter); err != nil {
				return nil, false, fmt.Errorf("unmarshal filter: %w", err)
			}
		}
		subs = append(subs, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := len(subs) > page.Limit
	if hasMore {
		subs = subs[:page.Limit]
	}
	return subs, hasMore, nil
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete subscription tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := acquireDeleteOperationLock(ctx, tx); err != nil {
		return err
	}

	ct, err := tx.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// ─── Publish ────────────────────────────────────────────────────────────────

// subscriptionFilter is the minimal shape needed to fan a publish batch out.
type subscriptionFilter struct {
	id     string
	filter domain.Filter
}

func (s *PostgresStore) PublishMessages(ctx context.Context, topicID string, payloads [][]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin publish tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM topics WHERE id = $1)`, topicID).Scan(&exists); err != nil {
		return fmt.Errorf("check topic exists: %w", err)
	}
	if !exists {
		return ErrTopicNotFound
	}

	rows, err := tx.Query(ctx, `SELECT id, filter FROM subscriptions WHERE topic_id = $1`, topicID)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	var subs []subscriptionFilter
	for rows.Next() {
		var sf subscriptionFilter
		var filterJSON []byte
		if err := rows.Scan(&sf.id, &filterJSON); err != nil {
			rows.Close()
			return fmt.Errorf("scan subscription filter: %w", err)
		}
		if filterJSON != nil {
			if err := json.Unmarshal(filterJSON, &sf.filter); err != nil {
				rows.Close()
				return fmt.Errorf("unmarshal filter: %w", err)
			}
		}
		subs = append(subs, sf)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(subs) == 0 {
		// Topic exists but has no subscriptions: accept and discard.
		return tx.Commit(ctx)
	}

	var payloadObjs []map[string]any
	for _, raw := range payloads {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		payloadObjs = append(payloadObjs, obj)
	}

	batch := &pgx.Batch{}
	count := 0
	for i, payload := range payloadObjs {
		for _, sf := range subs {
			if !matchFilter(sf.filter, payload) {
				continue
			}
			batch.Queue(`
				INSERT INTO messages (id, subscription_id, payload, status, delivery_attempts, available_at)
				VALUES ($1, $2, $3, 'available', 0, NOW())
			`, uuid.NewString(), sf.id, payloads[i])
			count++
		}
	}
	if count > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < count; i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert fan-out message: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close publish batch: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// matchFilter implements the equality-in-set conjunction described in §4.2:
// every key in the filter must be present in the payload and equal at least
// one of the listed values. A nil or empty filter matches everything.
func matchFilter(filter domain.Filter, payload map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for key, allowed := range filter {
		value, ok := payload[key]
		if !ok {
			return false
		}
		if !valueInSet(value, allowed) {
			return false
		}
	}
	return true
}

func valueInSet(value any, set []any) bool {
	for _, candidate := range set {
		if jsonEqual(value, candidate) {
			return true
		}
	}
	return false
}

// jsonEqual compares two values as decoded from encoding/json: numbers as
// float64, strings/booleans literally. This matches "JSON equality" per §4.2
// without requiring a custom numeric-type coercion layer.
func jsonEqual(a, b any) bool {
	af, aIsNum := a.(float64)
	bf, bIsNum := b.(float64)
	if aIsNum && bIsNum {
		return af == bf
	}
	return a == b
}

func marshalFilter(f domain.Filter) ([]byte, error) {
	if len(f) == 0 {
		return nil, nil
	}
	return json.Marshal(f)
}

// ─── Consume / Ack / Nack ───────────────────────────────────────────────────

func (s *PostgresStore) ConsumeMessages(ctx context.Context, subscriptionID, consumerID string, batchSize int) ([]*domain.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin consume tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var subExists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE id = $1)`, subscriptionID).Scan(&subExists); err != nil {
		return nil, fmt.Errorf("check subscription exists: %w", err)
	}
	if !subExists {
		return nil, ErrSubscriptionNotFound
	}

	rows, err := tx.Query(ctx, `
		WITH candidate AS (
			SELECT id FROM messages
			WHERE subscription_id = $1 AND status = 'available' AND available_at <= NOW()
			ORDER BY available_at ASC, created_at ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		),
		updated AS (
			UPDATE messages m
			SET status = 'delivered',
				locked_by = $3,
				locked_at = NOW(),
				delivery_attempts = m.delivery_attempts + 1
			FROM candidate
			WHERE m.id = candidate.id
			RETURNING m.id, m.payload, m.delivery_attempts, m.created_at, m.available_at
		)
		SELECT id, payload, delivery_attempts, created_at, available_at FROM updated
		ORDER BY available_at ASC, created_at ASC, id ASC
	`, subscriptionID, batchSize, consumerID)
	if err != nil {
		return nil, fmt.Errorf("consume messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.Payload, &m.DeliveryAttempts, &m.CreatedAt, &m.AvailableAt); err != nil {
			return nil, fmt.Errorf("scan consumed message: %w", err)
		}
		m.SubscriptionID = subscriptionID
		m.Status = domain.StatusDelivered
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit consume tx: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) AckMessages(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'acked', acked_at = NOW()
		WHERE subscription_id = $1 AND locked_by = $2 AND status = 'delivered' AND id = ANY($3)
	`, subscriptionID, consumerID, messageIDs)
	if err != nil {
		return fmt.Errorf("ack messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) NackMessages(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin nack tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var maxAttempts, backoffMin, backoffMax int
	err = tx.QueryRow(ctx, `
		SELECT max_delivery_attempts, backoff_min_seconds, backoff_max_seconds
		FROM subscriptions WHERE id = $1
	`, subscriptionID).Scan(&maxAttempts, &backoffMin, &backoffMax)
	if err == pgx.ErrNoRows {
		return ErrSubscriptionNotFound
	}
	if err != nil {
		return fmt.Errorf("load subscription policy: %w", err)
	}

	// DLQ promotion: attempts already at/over the ceiling.
	if _, err := tx.Exec(ctx, `
		UPDATE messages
		SET status = 'dlq', locked_by = NULL, locked_at = NULL
		WHERE subscription_id = $1 AND locked_by = $2 AND status = 'delivered'
		  AND id = ANY($3) AND delivery_attempts >= $4
	`, subscriptionID, consumerID, messageIDs, maxAttempts); err != nil {
		return fmt.Errorf("nack dlq promotion: %w", err)
	}

	// Retry: backoff = min(backoff_max, backoff_min * 2^(attempts-1)).
	if _, err := tx.Exec(ctx, `
		UPDATE messages
		SET status = 'available',
			available_at = NOW() + (LEAST($4::int, $5::int * POWER(2, GREATEST(delivery_attempts - 1, 0))) * INTERVAL '1 second'),
			locked_by = NULL,
			locked_at = NULL
		WHERE subscription_id = $1 AND locked_by = $2 AND status = 'delivered'
		  AND id = ANY($3) AND delivery_attempts < $6
	`, subscriptionID, consumerID, messageIDs, backoffMax, backoffMin, maxAttempts); err != nil {
		return fmt.Errorf("nack retry backoff: %w", err)
	}

	return tx.Commit(ctx)
}

// ─── DLQ ────────────────────────────────────────────────────────────────────

func (s *PostgresStore) ListDLQ(ctx context.Context, subscriptionID string, page ListPage) ([]*domain.Message, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, payload, status, delivery_attempts, available_at, locked_by, locked_at, acked_at, created_at
		FROM messages
		WHERE subscription_id = $1 AND status = 'dlq'
		ORDER BY created_at ASC
		OFFSET $2 LIMIT $3
	`, subscriptionID, page.Offset, page.Limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("list dlq: %w", err)
	}
	defer rows.Close()

	msgs := make([]*domain.Message, 0, page.Limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, false, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := len(msgs) > page.Limit
	if hasMore {
		msgs = msgs[:page.Limit]
	}
	return msgs, hasMore, nil
}

func (s *PostgresStore) ReprocessDLQ(ctx context.Context, subscriptionID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'available', available_at = NOW(), delivery_attempts = 0, locked_by = NULL, locked_at = NULL
		WHERE subscription_id = $1 AND status = 'dlq' AND id = ANY($2)
	`, subscriptionID, messageIDs)
	if err != nil {
		return fmt.Errorf("reprocess dlq: %w", err)
	}
	return nil
}

// ─── Metrics ────────────────────────────────────────────────────────────────

func (s *PostgresStore) SubscriptionMetrics(ctx context.Context, subscriptionID string) (*domain.SubscriptionMetrics, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE id = $1)`, subscriptionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check subscription exists: %w", err)
	}
	if !exists {
		return nil, ErrSubscriptionNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM messages WHERE subscription_id = $1 GROUP BY status
	`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("subscription metrics: %w", err)
	}
	defer rows.Close()

	var m domain.SubscriptionMetrics
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan metrics: %w", err)
		}
		switch domain.MessageStatus(status) {
		case domain.StatusAvailable:
			m.Available = count
		case domain.StatusDelivered:
			m.Delivered = count
		case domain.StatusAcked:
			m.Acked = count
		case domain.StatusDLQ:
			m.DLQ = count
		}
	}
	return &m, rows.Err()
}

// ─── Sweepers ───────────────────────────────────────────────────────────────

// sweepBatchSize bounds each sweeper transaction so lock windows stay short.
const sweepBatchSize = 500

func (s *PostgresStore) SweepStuckLeases(ctx context.Context, lockTimeout time.Duration) (int, error) {
	total := 0
	for {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return total, fmt.Errorf("begin stuck sweep tx: %w", err)
		}

		rows, err := tx.Query(ctx, `
			WITH stuck AS (
				SELECT m.id, m.delivery_attempts >= s.max_delivery_attempts AS exhausted
				FROM messages m
				JOIN subscriptions s ON s.id = m.subscription_id
				WHERE m.status = 'delivered' AND m.locked_at < NOW() - ($1 * INTERVAL '1 second')
				LIMIT $2
				FOR UPDATE OF m SKIP LOCKED
			),
			dlq AS (
				UPDATE messages m SET status = 'dlq', locked_by = NULL, locked_at = NULL
				FROM stuck WHERE m.id = stuck.id AND stuck.exhausted
				RETURNING m.id
			),
			recovered AS (
				UPDATE messages m SET status = 'available', available_at = NOW(), locked_by = NULL, locked_at = NULL
				FROM stuck WHERE m.id = stuck.id AND NOT stuck.exhausted
				RETURNING m.id
			)
			SELECT (SELECT COUNT(*) FROM dlq) + (SELECT COUNT(*) FROM recovered)
		`, int(lockTimeout.Seconds()), sweepBatchSize)
		if err != nil {
			tx.Rollback(ctx)
			return total, fmt.Errorf("sweep stuck leases: %w", err)
		}
		var n int
		if rows.Next() {
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				tx.Rollback(ctx)
				return total, err
			}
		}
		rows.Close()
		if err := tx.Commit(ctx); err != nil {
			return total, fmt.Errorf("commit stuck sweep tx: %w", err)
		}
		total += n
		if n < sweepBatchSize {
			break
		}
	}
	return total, nil
}

func (s *PostgresStore) SweepAckedMessages(ctx context.Context, olderThan time.Duration) (int, error) {
	total := 0
	for {
		ct, err := s.pool.Exec(ctx, `
			WITH doomed AS (
				SELECT id FROM messages
				WHERE status = 'acked' AND acked_at < NOW() - ($1 * INTERVAL '1 second')
				LIMIT $2
			)
			DELETE FROM messages WHERE id IN (SELECT id FROM doomed)
		`, olderThan.Seconds(), sweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("sweep acked messages: %w", err)
		}
		n := int(ct.RowsAffected())
		total += n
		if n < sweepBatchSize {
			break
		}
	}
	return total, nil
}

// ─── Clients ────────────────────────────────────────────────────────────────

func (s *PostgresStore) CreateClient(ctx context.Context, client *domain.Client) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clients (id, name, scopes, is_active, token_version, secret_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, client.ID, client.Name, client.Scopes, client.IsActive, client.TokenVersion, client.SecretHash)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetClientByName(ctx context.Context, name string) (*domain.Client, error) {
	return s.scanClient(ctx, `
		SELECT id, name, scopes, is_active, token_version, secret_hash, created_at, updated_at
		FROM clients WHERE name = $1
	`, name)
}

func (s *PostgresStore) GetClientByID(ctx context.Context, id string) (*domain.Client, error) {
	return s.scanClient(ctx, `
		SELECT id, name, scopes, is_active, token_version, secret_hash, created_at, updated_at
		FROM clients WHERE id = $1
	`, id)
}

func (s *PostgresStore) scanClient(ctx context.Context, query string, arg string) (*domain.Client, error) {
	var c domain.Client
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.Name, &c.Scopes, &c.IsActive, &c.TokenVersion, &c.SecretHash, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) BumpClientTokenVersion(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE clients SET token_version = token_version + 1, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("bump token version: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── helpers ────────────────────────────────────────────────────────────────

type messageRowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row messageRowScanner) (*domain.Message, error) {
	var m domain.Message
	if err := row.Scan(&m.ID, &m.SubscriptionID, &m.Payload, &m.Status, &m.DeliveryAttempts,
		&m.AvailableAt, &m.LockedBy, &m.LockedAt, &m.AckedAt, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
