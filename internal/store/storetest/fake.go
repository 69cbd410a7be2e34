// Package storetest provides an in-memory store.BrokerStore used to unit
// test the dispatch engine without a running Postgres instance.
package storetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/pgbroker/internal/broker"
	"github.com/oriys/pgbroker/internal/domain"
	"github.com/oriys/pgbroker/internal/store"
)

// Store is a goroutine-safe, in-process BrokerStore. It mirrors the
// semantics of the Postgres implementation closely enough to exercise the
// engine's logic, but makes no attempt to reproduce Postgres' exact locking
// behavior under real concurrency.
type Store struct {
	mu sync.Mutex

	topics        map[string]*domain.Topic
	subscriptions map[string]*domain.Subscription
	messages      map[string]*domain.Message
	clients       map[string]*domain.Client // keyed by ID
	clientNames   map[string]string         // name -> ID

	// Now, when set, is used instead of time.Now so tests can control
	// backoff and sweep timing deterministically.
	Now func() time.Time
}

func New() *Store {
	return &Store{
		topics:        make(map[string]*domain.Topic),
		subscriptions: make(map[string]*domain.Subscription),
		messages:      make(map[string]*domain.Message),
		clients:       make(map[string]*domain.Client),
		clientNames:   make(map[string]string),
		Now:           time.Now,
	}
}

func (s *Store) now() time.Time { return s.Now() }

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func (s *Store) CreateTopic(ctx context.Context, id string) (*domain.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[id]; ok {
		return nil, broker.ErrTopicExists
	}
	t := &domain.Topic{ID: id, CreatedAt: s.now()}
	s.topics[id] = t
	return t, nil
}

func (s *Store) GetTopic(ctx context.Context, id string) (*domain.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return nil, broker.ErrTopicNotFound
	}
	return t, nil
}

func (s *Store) ListTopics(ctx context.Context, page store.ListPage) ([]*domain.Topic, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.topics))
	for id := range s.topics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return paginate(ids, page, func(id string) *domain.Topic { return s.topics[id] })
}

func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[id]; !ok {
		return broker.ErrTopicNotFound
	}
	delete(s.topics, id)
	for subID, sub := range s.subscriptions {
		if sub.TopicID != id {
			continue
		}
		delete(s.subscriptions, subID)
		for msgID, m := range s.messages {
			if m.SubscriptionID == subID {
				delete(s.messages, msgID)
			}
		}
	}
	return nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; ok {
		return nil, broker.ErrSubscriptionExists
	}
	if _, ok := s.topics[sub.TopicID]; !ok {
		return nil, broker.ErrTopicNotFound
	}
	out := *sub
	out.CreatedAt = s.now()
	s.subscriptions[out.ID] = &out
	copied := out
	return &copied, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, broker.ErrSubscriptionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, page store.ListPage) ([]*domain.Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return paginate(ids, page, func(id string) *domain.Subscription {
		copied := *s.subscriptions[id]
		return &copied
	})
}

func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[id]; !ok {
		return broker.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, id)
	for msgID, m := range s.messages {
		if m.SubscriptionID == id {
			delete(s.messages, msgID)
		}
	}
	return nil
}

func (s *Store) PublishMessages(ctx context.Context, topicID string, payloads [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topicID]; !ok {
		return broker.ErrTopicNotFound
	}

	var decoded []map[string]any
	for _, raw := range payloads {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return err
		}
		decoded = append(decoded, obj)
	}

	for _, sub := range s.subscriptions {
		if sub.TopicID != topicID {
			continue
		}
		for i, obj := range decoded {
			if !matchFilter(sub.Filter, obj) {
				continue
			}
			id := uuid.NewString()
			s.messages[id] = &domain.Message{
				ID:               id,
				SubscriptionID:   sub.ID,
				Payload:          payloads[i],
				Status:           domain.StatusAvailable,
				DeliveryAttempts: 0,
				AvailableAt:      s.now(),
				CreatedAt:        s.now(),
			}
		}
	}
	return nil
}

func matchFilter(filter domain.Filter, payload map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for key, allowed := range filter {
		value, ok := payload[key]
		if !ok {
			return false
		}
		found := false
		for _, candidate := range allowed {
			if value == candidate {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Store) ConsumeMessages(ctx context.Context, subscriptionID, consumerID string, batchSize int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[subscriptionID]; !ok {
		return nil, broker.ErrSubscriptionNotFound
	}

	var candidates []*domain.Message
	for _, m := range s.messages {
		if m.SubscriptionID == subscriptionID && m.Status == domain.StatusAvailable && !m.AvailableAt.After(s.now()) {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].AvailableAt.Equal(candidates[j].AvailableAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].AvailableAt.Before(candidates[j].AvailableAt)
	})
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	leased := make([]*domain.Message, 0, len(candidates))
	now := s.now()
	consumer := consumerID
	for _, m := range candidates {
		m.Status = domain.StatusDelivered
		m.DeliveryAttempts++
		m.LockedBy = &consumer
		lockedAt := now
		m.LockedAt = &lockedAt
		copied := *m
		leased = append(leased, &copied)
	}
	return leased, nil
}

func (s *Store) AckMessages(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok || m.SubscriptionID != subscriptionID || m.Status != domain.StatusDelivered {
			continue
		}
		if m.LockedBy == nil || *m.LockedBy != consumerID {
			continue
		}
		m.Status = domain.StatusAcked
		ackedAt := now
		m.AckedAt = &ackedAt
	}
	return nil
}

func (s *Store) NackMessages(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return broker.ErrSubscriptionNotFound
	}
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok || m.SubscriptionID != subscriptionID || m.Status != domain.StatusDelivered {
			continue
		}
		if m.LockedBy == nil || *m.LockedBy != consumerID {
			continue
		}
		m.LockedBy = nil
		m.LockedAt = nil
		if m.DeliveryAttempts >= sub.MaxDeliveryAttempts {
			m.Status = domain.StatusDLQ
			continue
		}
		m.Status = domain.StatusAvailable
		m.AvailableAt = s.now().Add(backoffDelay(sub, m.DeliveryAttempts))
	}
	return nil
}

// backoffDelay implements min(backoff_max, backoff_min * 2^(attempts-1)).
func backoffDelay(sub *domain.Subscription, attempts int) time.Duration {
	exp := attempts - 1
	if exp < 0 {
		exp = 0
	}
	delaySeconds := sub.BackoffMinSeconds
	for i := 0; i < exp; i++ {
		delaySeconds *= 2
		if delaySeconds >= sub.BackoffMaxSeconds {
			delaySeconds = sub.BackoffMaxSeconds
			break
		}
	}
	if delaySeconds > sub.BackoffMaxSeconds {
		delaySeconds = sub.BackoffMaxSeconds
	}
	return time.Duration(delaySeconds) * time.Second
}

func (s *Store) ListDLQ(ctx context.Context, subscriptionID string, page store.ListPage) ([]*domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, m := range s.messages {
		if m.SubscriptionID == subscriptionID && m.Status == domain.StatusDLQ {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return s.messages[ids[i]].CreatedAt.Before(s.messages[ids[j]].CreatedAt) })
	return paginate(ids, page, func(id string) *domain.Message {
		copied := *s.messages[id]
		return &copied
	})
}

func (s *Store) ReprocessDLQ(ctx context.Context, subscriptionID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok || m.SubscriptionID != subscriptionID || m.Status != domain.StatusDLQ {
			continue
		}
		m.Status = domain.StatusAvailable
		m.AvailableAt = s.now()
		m.DeliveryAttempts = 0
		m.LockedBy = nil
		m.LockedAt = nil
	}
	return nil
}

func (s *Store) SubscriptionMetrics(ctx context.Context, subscriptionID string) (*domain.SubscriptionMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[subscriptionID]; !ok {
		return nil, broker.ErrSubscriptionNotFound
	}
	var m domain.SubscriptionMetrics
	for _, msg := range s.messages {
		if msg.SubscriptionID != subscriptionID {
			continue
		}
		switch msg.Status {
		case domain.StatusAvailable:
			m.Available++
		case domain.StatusDelivered:
			m.Delivered++
		case domain.StatusAcked:
			m.Acked++
		case domain.StatusDLQ:
			m.DLQ++
		}
	}
	return &m, nil
}

func (s *Store) SweepStuckLeases(ctx context.Context, lockTimeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, m := range s.messages {
		if m.Status != domain.StatusDelivered || m.LockedAt == nil {
			continue
		}
		if now.Sub(*m.LockedAt) < lockTimeout {
			continue
		}
		sub := s.subscriptions[m.SubscriptionID]
		m.LockedBy = nil
		m.LockedAt = nil
		if sub != nil && m.DeliveryAttempts >= sub.MaxDeliveryAttempts {
			m.Status = domain.StatusDLQ
		} else {
			m.Status = domain.StatusAvailable
			m.AvailableAt = now
		}
		n++
	}
	return n, nil
}

func (s *Store) SweepAckedMessages(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, m := range s.messages {
		if m.Status != domain.StatusAcked || m.AckedAt == nil {
			continue
		}
		if now.Sub(*m.AckedAt) < olderThan {
			continue
		}
		delete(s.messages, id)
		n++
	}
	return n, nil
}

func (s *Store) CreateClient(ctx context.Context, client *domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clientNames[client.Name]; ok {
		return broker.ErrAlreadyExists
	}
	copied := *client
	s.clients[client.ID] = &copied
	s.clientNames[client.Name] = client.ID
	return nil
}

func (s *Store) GetClientByName(ctx context.Context, name string) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.clientNames[name]
	if !ok {
		return nil, broker.ErrNotFound
	}
	copied := *s.clients[id]
	return &copied, nil
}

func (s *Store) GetClientByID(ctx context.Context, id string) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, broker.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *Store) BumpClientTokenVersion(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return broker.ErrNotFound
	}
	c.TokenVersion++
	return nil
}

func paginate[T any](ids []string, page store.ListPage, get func(string) T) ([]T, bool, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = len(ids)
	}
	start := page.Offset
	if start > len(ids) {
		start = len(ids)
	}
	end := start + limit
	hasMore := end < len(ids)
	if end > len(ids) {
		end = len(ids)
	}
	out := make([]T, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, get(id))
	}
	return out, hasMore, nil
}

var _ store.BrokerStore = (*Store)(nil)
