package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/oriys/pgbroker/internal/broker"
	"github.com/oriys/pgbroker/internal/domain"
)

// TopicHandler serves the /topics surface.
type TopicHandler struct {
	Engine *broker.Engine
}

func (h *TopicHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /topics", h.Create)
	mux.HandleFunc("GET /topics", h.List)
	mux.HandleFunc("GET /topics/{id}", h.Get)
	mux.HandleFunc("DELETE /topics/{id}", h.Delete)
	mux.HandleFunc("POST /topics/{id}/messages", h.Publish)
}

func (h *TopicHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	topic, err := h.Engine.CreateTopic(r.Context(), req.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

func (h *TopicHandler) Get(w http.ResponseWriter, r *http.Request) {
	topic, err := h.Engine.GetTopic(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

func (h *TopicHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePageParams(r)
	topics, hasMore, err := h.Engine.ListTopics(r.Context(), offset, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Page[*domain.Topic]{Data: topics, HasMore: hasMore})
}

func (h *TopicHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteTopic(r.Context(), r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Publish handles POST /topics/{id}/messages. The body is either a single
// JSON object (one message) or a JSON array of objects (a batch). A body that
// is not valid JSON is rejected here; a payload that is valid JSON but not an
// object is rejected by the engine.
func (h *TopicHandler) Publish(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("id")

	raw, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	payloads, err := splitPublishBody(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.Engine.Publish(r.Context(), topicID, payloads); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// splitPublishBody normalizes a publish request body into one payload per
// message. A top-level JSON array publishes a batch; any other JSON value is
// passed on as exactly one payload.
func splitPublishBody(raw []byte) ([][]byte, error) {
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errInvalidJSONBody
	}

	items, ok := probe.([]any)
	if !ok {
		return [][]byte{raw}, nil
	}

	payloads := make([][]byte, 0, len(items))
	for _, item := range items {
		encoded, err := json.Marshal(item)
		if err != nil {
			return nil, errInvalidJSONBody
		}
		payloads = append(payloads, encoded)
	}
	return payloads, nil
}
