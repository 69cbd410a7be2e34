package auth

import (
	"context"
	"net/http"
	"strings"
)

// Identity represents an authenticated OAuth2 client-credentials principal.
type Identity struct {
	ClientID     string
	ClientName   string
	Scopes       []Scope
	TokenVersion int
}

// Allows reports whether this identity's scopes grant resource/action on
// objectID.
func (id *Identity) Allows(resource, action, objectID string) bool {
	if id == nil {
		return false
	}
	return AnyAllows(id.Scopes, resource, action, objectID)
}

type contextKey struct{}

var identityKey = contextKey{}

// WithIdentity adds an Identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity retrieves the Identity from context.
func GetIdentity(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityKey).(*Identity); ok {
		return id
	}
	return nil
}

// Authenticator attempts to authenticate an incoming request, returning nil
// if it does not recognize the credentials presented.
type Authenticator interface {
	Authenticate(r *http.Request) *Identity
}

// Middleware requires one of the given authenticators to succeed, unless the
// request path is public.
func Middleware(authenticators []Authenticator, publicPaths []string) func(http.Handler) http.Handler {
	publicSet := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		publicSet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path, publicSet) {
				next.ServeHTTP(w, r)
				return
			}

			for _, a := range authenticators {
				if id := a.Authenticate(r); id != nil {
					ctx := WithIdentity(r.Context(), id)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="pgbroker"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
		})
	}
}

func isPublicPath(path string, publicSet map[string]bool) bool {
	if publicSet[path] {
		return true
	}
	for p := range publicSet {
		if strings.HasSuffix(p, "/*") {
			prefix := strings.TrimSuffix(p, "*")
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
	}
	return false
}
