package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/oriys/pgbroker/internal/broker"
	"github.com/oriys/pgbroker/internal/domain"
)

// SubscriptionHandler serves the /subscriptions surface: CRUD, dispatch
// (consume/ack/nack), the dead-letter queue, and per-subscription metrics.
type SubscriptionHandler struct {
	Engine *broker.Engine
}

func (h *SubscriptionHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /subscriptions", h.Create)
	mux.HandleFunc("GET /subscriptions", h.List)
	mux.HandleFunc("GET /subscriptions/{id}", h.Get)
	mux.HandleFunc("DELETE /subscriptions/{id}", h.Delete)
	mux.HandleFunc("GET /subscriptions/{id}/messages", h.Consume)
	mux.HandleFunc("POST /subscriptions/{id}/acks", h.Ack)
	mux.HandleFunc("POST /subscriptions/{id}/nacks", h.Nack)
	mux.HandleFunc("GET /subscriptions/{id}/dlq", h.ListDLQ)
	mux.HandleFunc("POST /subscriptions/{id}/dlq/reprocess", h.ReprocessDLQ)
	mux.HandleFunc("GET /subscriptions/{id}/metrics", h.Metrics)
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID                  string        `json:"id"`
		TopicID             string        `json:"topic_id"`
		Filter              domain.Filter `json:"filter"`
		MaxDeliveryAttempts int           `json:"max_delivery_attempts"`
		BackoffMinSeconds   int           `json:"backoff_min_seconds"`
		BackoffMaxSeconds   int           `json:"backoff_max_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub := &domain.Subscription{
		ID:                  req.ID,
		TopicID:             req.TopicID,
		Filter:              req.Filter,
		MaxDeliveryAttempts: req.MaxDeliveryAttempts,
		BackoffMinSeconds:   req.BackoffMinSeconds,
		BackoffMaxSeconds:   req.BackoffMaxSeconds,
	}

	created, err := h.Engine.CreateSubscription(r.Context(), sub)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Engine.GetSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePageParams(r)
	subs, hasMore, err := h.Engine.ListSubscriptions(r.Context(), offset, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Page[*domain.Subscription]{Data: subs, HasMore: hasMore})
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteSubscription(r.Context(), r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) Consume(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.PathValue("id")
	consumerID := r.URL.Query().Get("consumer_id")
	if consumerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "consumer_id query parameter is required")
		return
	}

	batchSize := 0
	if raw := r.URL.Query().Get("batch_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "batch_size must be an integer")
			return
		}
		batchSize = n
	}

	msgs, err := h.Engine.Consume(r.Context(), subscriptionID, consumerID, batchSize)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Page[*domain.Message]{Data: msgs})
}

func (h *SubscriptionHandler) Ack(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.PathValue("id")
	consumerID := r.URL.Query().Get("consumer_id")
	if consumerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "consumer_id query parameter is required")
		return
	}

	var messageIDs []string
	if err := json.NewDecoder(r.Body).Decode(&messageIDs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.Engine.Ack(r.Context(), subscriptionID, consumerID, messageIDs); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) Nack(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.PathValue("id")
	consumerID := r.URL.Query().Get("consumer_id")
	if consumerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "consumer_id query parameter is required")
		return
	}

	var messageIDs []string
	if err := json.NewDecoder(r.Body).Decode(&messageIDs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.Engine.Nack(r.Context(), subscriptionID, consumerID, messageIDs); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.PathValue("id")
	offset, limit := parsePageParams(r)
	msgs, hasMore, err := h.Engine.ListDLQ(r.Context(), subscriptionID, offset, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Page[*domain.Message]{Data: msgs, HasMore: hasMore})
}

func (h *SubscriptionHandler) ReprocessDLQ(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.PathValue("id")
	var messageIDs []string
	if err := json.NewDecoder(r.Body).Decode(&messageIDs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.Engine.ReprocessDLQ(r.Context(), subscriptionID, messageIDs); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.Engine.SubscriptionMetrics(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
