package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/oriys/pgbroker/internal/broker"
)

var errInvalidJSONBody = errors.New("request body is not valid JSON")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": http.StatusText(status), "message": message})
}

// writeEngineError maps an engine error to its HTTP status via broker.KindOf.
func writeEngineError(w http.ResponseWriter, err error) {
	switch broker.KindOf(err) {
	case broker.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case broker.KindAlreadyExists:
		writeError(w, http.StatusConflict, err.Error())
	case broker.KindInvalidArgument:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case broker.KindUnavailable:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// parsePageParams reads offset/limit query parameters, defaulting both to 0
// (the engine applies its own defaults and clamps for an unset or
// out-of-range limit).
func parsePageParams(r *http.Request) (offset, limit int) {
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return offset, limit
}
