// Package domain defines the core entities of the broker: topics,
// subscriptions, messages, and auth clients.
package domain

import (
	"encoding/json"
	"time"
)

// MessageStatus is the lifecycle state of a message within a subscription.
type MessageStatus string

const (
	StatusAvailable MessageStatus = "available"
	StatusDelivered MessageStatus = "delivered"
	StatusAcked     MessageStatus = "acked"
	StatusDLQ       MessageStatus = "dlq"
)

// Topic is a named fan-out point. Deleting a topic cascades to its
// subscriptions and their messages.
type Topic struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter is a conjunction of per-key set-membership tests evaluated against
// a published payload. A nil or empty Filter matches every payload.
type Filter map[string][]any

// Subscription is a durable logical queue attached to a topic. It owns its
// messages, its filter, and its retry policy.
type Subscription struct {
	ID                  string    `json:"id"`
	TopicID             string    `json:"topic_id"`
	Filter              Filter    `json:"filter,omitempty"`
	MaxDeliveryAttempts int       `json:"max_delivery_attempts"`
	BackoffMinSeconds   int       `json:"backoff_min_seconds"`
	BackoffMaxSeconds   int       `json:"backoff_max_seconds"`
	CreatedAt           time.Time `json:"created_at"`
}

// Message is one JSON payload delivered to exactly one subscription.
type Message struct {
	ID                string        `json:"id"`
	SubscriptionID    string        `json:"subscription_id"`
	Payload           []byte        `json:"payload"`
	Status            MessageStatus `json:"status"`
	DeliveryAttempts  int           `json:"delivery_attempts"`
	AvailableAt       time.Time     `json:"available_at"`
	LockedBy          *string       `json:"locked_by,omitempty"`
	LockedAt          *time.Time    `json:"locked_at,omitempty"`
	AckedAt           *time.Time    `json:"acked_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// MarshalJSON emits Payload as the raw JSON value it stores rather than the
// base64 encoding encoding/json applies to []byte fields by default.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID               string          `json:"id"`
		SubscriptionID   string          `json:"subscription_id"`
		Payload          json.RawMessage `json:"payload"`
		Status           MessageStatus   `json:"status"`
		DeliveryAttempts int             `json:"delivery_attempts"`
		AvailableAt      time.Time       `json:"available_at"`
		LockedBy         *string         `json:"locked_by,omitempty"`
		LockedAt         *time.Time      `json:"locked_at,omitempty"`
		AckedAt          *time.Time      `json:"acked_at,omitempty"`
		CreatedAt        time.Time       `json:"created_at"`
	}
	return json.Marshal(alias{
		ID:               m.ID,
		SubscriptionID:   m.SubscriptionID,
		Payload:          json.RawMessage(m.Payload),
		Status:           m.Status,
		DeliveryAttempts: m.DeliveryAttempts,
		AvailableAt:      m.AvailableAt,
		LockedBy:         m.LockedBy,
		LockedAt:         m.LockedAt,
		AckedAt:          m.AckedAt,
		CreatedAt:        m.CreatedAt,
	})
}

// SubscriptionMetrics reports point-in-time message counts grouped by status.
type SubscriptionMetrics struct {
	Available int64 `json:"available"`
	Delivered int64 `json:"delivered"`
	Acked     int64 `json:"acked"`
	DLQ       int64 `json:"dlq"`
}

// Client is an OAuth2 client-credentials principal. Bumping TokenVersion is
// the sole revocation mechanism for outstanding bearer tokens.
type Client struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Scopes       string    `json:"scopes"`
	IsActive     bool      `json:"is_active"`
	TokenVersion int       `json:"token_version"`
	SecretHash   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Page is an offset/limit result page shared by every list endpoint.
type Page[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}
