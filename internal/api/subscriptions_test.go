package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oriys/pgbroker/internal/broker"
	"github.com/oriys/pgbroker/internal/domain"
	"github.com/oriys/pgbroker/internal/store/storetest"
)

// consumedMessage decodes the fields of a message response these tests read.
// domain.Message has no UnmarshalJSON, so its []byte Payload cannot take the
// raw JSON object that Message.MarshalJSON emits.
type consumedMessage struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func setupTopicAndSub(t *testing.T, mux *http.ServeMux, filter string) string {
	t.Helper()
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/topics", strings.NewReader(`{"id":"orders"}`)))

	body := `{"topic_id":"orders","max_delivery_attempts":2,"backoff_min_seconds":1,"backoff_max_seconds":2`
	if filter != "" {
		body += `,"filter":` + filter
	}
	body += `}`

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create subscription: got %d body %s", rec.Code, rec.Body.String())
	}
	var sub domain.Subscription
	if err := json.NewDecoder(rec.Body).Decode(&sub); err != nil {
		t.Fatalf("decode subscription: %v", err)
	}
	return sub.ID
}

func TestConsumeAckLifecycle(t *testing.T) {
	mux := newTopicMux()
	subID := setupTopicAndSub(t, mux, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/topics/orders/messages", strings.NewReader(`{"region":"us"}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("publish: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/"+subID+"/messages?consumer_id=worker-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("consume: got %d body %s", rec.Code, rec.Body.String())
	}
	var consumeResp domain.Page[consumedMessage]
	if err := json.NewDecoder(rec.Body).Decode(&consumeResp); err != nil {
		t.Fatalf("decode consume response: %v", err)
	}
	if len(consumeResp.Data) != 1 {
		t.Fatalf("expected 1 message, got %d", len(consumeResp.Data))
	}
	msgID := consumeResp.Data[0].ID

	ackBody := `["` + msgID + `"]`
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/subscriptions/"+subID+"/acks?consumer_id=worker-1", strings.NewReader(ackBody)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("ack: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/"+subID+"/metrics", nil))
	var metrics domain.SubscriptionMetrics
	if err := json.NewDecoder(rec.Body).Decode(&metrics); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if metrics.Acked != 1 {
		t.Fatalf("expected 1 acked message, got %d", metrics.Acked)
	}
}

func TestConsumeRequiresConsumerID(t *testing.T) {
	mux := newTopicMux()
	subID := setupTopicAndSub(t, mux, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/"+subID+"/messages", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestNackPromotesToDLQAfterMaxAttempts(t *testing.T) {
	s := storetest.New()
	now := time.Now()
	s.Now = func() time.Time { return now }
	engine := broker.NewEngine(s)
	mux := http.NewServeMux()
	(&TopicHandler{Engine: engine}).registerRoutes(mux)
	(&SubscriptionHandler{Engine: engine}).registerRoutes(mux)
	subID := setupTopicAndSub(t, mux, "")

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/topics/orders/messages", strings.NewReader(`{}`)))

	var msgID string
	for attempt := 0; attempt < 2; attempt++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/"+subID+"/messages?consumer_id=worker-1", nil))
		var resp domain.Page[consumedMessage]
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Data) != 1 {
			t.Fatalf("attempt %d: expected 1 message, got %d", attempt, len(resp.Data))
		}
		msgID = resp.Data[0].ID

		nackBody := `["` + msgID + `"]`
		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/subscriptions/"+subID+"/nacks?consumer_id=worker-1", strings.NewReader(nackBody)))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("nack: got %d body %s", rec.Code, rec.Body.String())
		}

		// Step past the nack backoff (backoff_min_seconds=1) so the retry is due.
		now = now.Add(time.Minute)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/"+subID+"/dlq", nil))
	var page domain.Page[consumedMessage]
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode dlq: %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].ID != msgID {
		t.Fatalf("expected message %s in dlq, got %+v", msgID, page.Data)
	}

	reprocessBody := `["` + msgID + `"]`
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/subscriptions/"+subID+"/dlq/reprocess", strings.NewReader(reprocessBody)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reprocess: got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestFilterExcludesNonMatchingPayload(t *testing.T) {
	mux := newTopicMux()
	subID := setupTopicAndSub(t, mux, `{"region":["us"]}`)

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/topics/orders/messages", strings.NewReader(`{"region":"eu"}`)))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/"+subID+"/messages?consumer_id=worker-1", nil))
	var resp domain.Page[domain.Message]
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 0 {
		t.Fatalf("expected no matching messages, got %d", len(resp.Data))
	}
}

func TestDeleteSubscriptionNotFound(t *testing.T) {
	mux := newTopicMux()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/subscriptions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
