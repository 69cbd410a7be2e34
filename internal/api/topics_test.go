package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oriys/pgbroker/internal/broker"
	"github.com/oriys/pgbroker/internal/domain"
	"github.com/oriys/pgbroker/internal/store/storetest"
)

func newTopicMux() *http.ServeMux {
	engine := broker.NewEngine(storetest.New())
	mux := http.NewServeMux()
	(&TopicHandler{Engine: engine}).registerRoutes(mux)
	(&SubscriptionHandler{Engine: engine}).registerRoutes(mux)
	return mux
}

func TestCreateAndGetTopic(t *testing.T) {
	mux := newTopicMux()

	req := httptest.NewRequest(http.MethodPost, "/topics", strings.NewReader(`{"id":"orders"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create topic: got %d body %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/topics/orders", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get topic: got %d", rec.Code)
	}
	var topic domain.Topic
	if err := json.NewDecoder(rec.Body).Decode(&topic); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if topic.ID != "orders" {
		t.Fatalf("expected id orders, got %q", topic.ID)
	}
}

func TestGetTopicNotFound(t *testing.T) {
	mux := newTopicMux()
	req := httptest.NewRequest(http.MethodGet, "/topics/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateTopicConflict(t *testing.T) {
	mux := newTopicMux()
	body := `{"id":"orders"}`
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/topics", strings.NewReader(body)))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/topics", strings.NewReader(body)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestPublishSingleAndBatch(t *testing.T) {
	mux := newTopicMux()
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/topics", strings.NewReader(`{"id":"orders"}`)))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/topics/orders/messages", strings.NewReader(`{"region":"us"}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("publish single: got %d body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/topics/orders/messages",
		strings.NewReader(`[{"region":"us"},{"region":"eu"}]`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("publish batch: got %d body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %s", rec.Body.String())
	}
}

func TestPublishToMissingTopic(t *testing.T) {
	mux := newTopicMux()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/topics/missing/messages", strings.NewReader(`{}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPublishInvalidJSON(t *testing.T) {
	mux := newTopicMux()
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/topics", strings.NewReader(`{"id":"orders"}`)))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/topics/orders/messages", strings.NewReader(`not json`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestListTopics(t *testing.T) {
	mux := newTopicMux()
	for _, id := range []string{"a", "b", "c"} {
		mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/topics", strings.NewReader(`{"id":"`+id+`"}`)))
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/topics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list topics: got %d", rec.Code)
	}
	var page domain.Page[*domain.Topic]
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Data) != 3 {
		t.Fatalf("expected 3 topics, got %d", len(page.Data))
	}
}

func TestDeleteTopic(t *testing.T) {
	mux := newTopicMux()
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/topics", strings.NewReader(`{"id":"orders"}`)))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/topics/orders", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/topics/orders", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}
