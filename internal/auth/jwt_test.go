package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeLookup struct {
	version int
	active  bool
}

func (f fakeLookup) ClientTokenVersion(clientID string) (int, bool, bool) {
	if clientID != "client-1" {
		return 0, false, false
	}
	return f.version, f.active, true
}

func bearerRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/topics", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestJWTAuthenticatorAcceptsValidToken(t *testing.T) {
	secret := "test-secret"
	token, err := MintToken(secret, "client-1", "topics:publish", 1, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	a, err := NewJWTAuthenticator(secret, fakeLookup{version: 1, active: true})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	id := a.Authenticate(bearerRequest(token))
	if id == nil {
		t.Fatalf("expected identity, got nil")
	}
	if id.ClientID != "client-1" {
		t.Fatalf("unexpected client id: %s", id.ClientID)
	}
	if !id.Allows("topics", "publish", "orders") {
		t.Fatalf("expected scope to allow topics:publish")
	}
}

func TestJWTAuthenticatorRejectsBumpedTokenVersion(t *testing.T) {
	secret := "test-secret"
	token, err := MintToken(secret, "client-1", "*", 1, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	a, _ := NewJWTAuthenticator(secret, fakeLookup{version: 2, active: true})
	if id := a.Authenticate(bearerRequest(token)); id != nil {
		t.Fatalf("expected nil identity for stale token version, got %+v", id)
	}
}

func TestJWTAuthenticatorRejectsInactiveClient(t *testing.T) {
	secret := "test-secret"
	token, err := MintToken(secret, "client-1", "*", 1, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	a, _ := NewJWTAuthenticator(secret, fakeLookup{version: 1, active: false})
	if id := a.Authenticate(bearerRequest(token)); id != nil {
		t.Fatalf("expected nil identity for inactive client, got %+v", id)
	}
}

func TestJWTAuthenticatorRejectsWrongSecret(t *testing.T) {
	token, err := MintToken("right-secret", "client-1", "*", 1, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	a, _ := NewJWTAuthenticator("wrong-secret", fakeLookup{version: 1, active: true})
	if id := a.Authenticate(bearerRequest(token)); id != nil {
		t.Fatalf("expected nil identity for bad signature, got %+v", id)
	}
}

func TestJWTAuthenticatorRejectsExpiredToken(t *testing.T) {
	secret := "test-secret"
	token, err := MintToken(secret, "client-1", "*", 1, -time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	a, _ := NewJWTAuthenticator(secret, fakeLookup{version: 1, active: true})
	if id := a.Authenticate(bearerRequest(token)); id != nil {
		t.Fatalf("expected nil identity for expired token, got %+v", id)
	}
}

func TestJWTAuthenticatorIgnoresNonBearerRequests(t *testing.T) {
	a, _ := NewJWTAuthenticator("test-secret", fakeLookup{})
	if id := a.Authenticate(bearerRequest("")); id != nil {
		t.Fatalf("expected nil identity with no Authorization header, got %+v", id)
	}
}
