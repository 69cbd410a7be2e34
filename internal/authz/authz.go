// Package authz enforces the scope grammar from an authenticated identity
// against the HTTP route being called.
package authz

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/oriys/pgbroker/internal/auth"
	"github.com/oriys/pgbroker/internal/logging"
)

// Authorizer checks whether an identity's scopes grant a resource/action/object.
type Authorizer struct{}

// New creates an Authorizer.
func New() *Authorizer {
	return &Authorizer{}
}

// Check returns nil if identity is allowed to perform action on resource/objectID.
func (a *Authorizer) Check(identity *auth.Identity, resource, action, objectID string) error {
	if identity == nil {
		return errForbidden
	}
	if identity.Allows(resource, action, objectID) {
		return nil
	}
	return errForbidden
}

var errForbidden = &forbiddenError{}

type forbiddenError struct{}

func (e *forbiddenError) Error() string { return "forbidden: insufficient scope" }

// resolveRoute determines the (resource, action, objectID) triple a request
// maps to. Sub-resources under /topics/{id}/... and /subscriptions/{id}/...
// need special casing since their action differs from the owning resource's
// default CRUD verbs.
func resolveRoute(method, urlPath string) (resource, action, objectID string) {
	switch {
	case strings.HasPrefix(urlPath, "/topics/"):
		rest := strings.TrimPrefix(urlPath, "/topics/")
		id, sub := splitFirstSegment(rest)
		switch {
		case sub == "messages" && method == http.MethodPost:
			return "topics", "publish", id
		case method == http.MethodDelete:
			return "topics", "delete", id
		default:
			return "topics", "read", id
		}

	case urlPath == "/topics":
		if method == http.MethodPost {
			return "topics", "create", ""
		}
		return "topics", "read", ""

	case strings.HasPrefix(urlPath, "/subscriptions/"):
		rest := strings.TrimPrefix(urlPath, "/subscriptions/")
		id, sub := splitFirstSegment(rest)
		switch {
		case sub == "messages":
			return "subscriptions", "consume", id
		case sub == "acks" || sub == "nacks":
			return "subscriptions", "consume", id
		case strings.HasPrefix(sub, "dlq/reprocess"):
			return "subscriptions", "update", id
		case sub == "dlq":
			return "subscriptions", "read", id
		case sub == "metrics":
			return "subscriptions", "read", id
		case method == http.MethodDelete:
			return "subscriptions", "delete", id
		default:
			return "subscriptions", "read", id
		}

	case urlPath == "/subscriptions":
		if method == http.MethodPost {
			return "subscriptions", "create", ""
		}
		return "subscriptions", "read", ""
	}

	return "", "", ""
}

func splitFirstSegment(s string) (first, rest string) {
	if idx := strings.Index(s, "/"); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// Middleware returns an HTTP middleware enforcing the scope grammar. Requests
// with no identity in context (public paths) pass through unchecked; the
// authentication middleware is responsible for rejecting those that need one.
func Middleware(authorizer *Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.GetIdentity(r.Context())
			if identity == nil {
				next.ServeHTTP(w, r)
				return
			}

			resource, action, objectID := resolveRoute(r.Method, r.URL.Path)
			if err := authorizer.Check(identity, resource, action, objectID); err != nil {
				logging.Op().Warn("authorization denied",
					"client_id", identity.ClientID,
					"resource", resource,
					"action", action,
					"object_id", objectID,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "forbidden",
					"message": "insufficient scope for this operation",
				})
				return
			}

			logging.Op().Debug("authorization granted",
				"client_id", identity.ClientID,
				"resource", resource,
				"action", action,
				"object_id", objectID,
				"path", r.URL.Path,
				"method", r.Method,
			)
			next.ServeHTTP(w, r)
		})
	}
}
