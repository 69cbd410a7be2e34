package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/oriys/pgbroker/internal/domain"
	"github.com/oriys/pgbroker/internal/store/storetest"
)

func newTestClient(t *testing.T, secret string) *domain.Client {
	t.Helper()
	hash, err := HashSecret(secret, 4)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	return &domain.Client{
		ID:           "client-1",
		Name:         "reporting-service",
		Scopes:       "topics:read subscriptions:consume",
		IsActive:     true,
		TokenVersion: 1,
		SecretHash:   hash,
	}
}

func TestClientStoreAuthenticateSuccess(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	client := newTestClient(t, "s3cret")
	if err := s.CreateClient(ctx, client); err != nil {
		t.Fatalf("create client: %v", err)
	}

	cs := NewClientStore(s)
	got, err := cs.Authenticate(ctx, "reporting-service", "s3cret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != "client-1" {
		t.Fatalf("unexpected client: %+v", got)
	}
}

func TestClientStoreAuthenticateWrongSecret(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	client := newTestClient(t, "s3cret")
	if err := s.CreateClient(ctx, client); err != nil {
		t.Fatalf("create client: %v", err)
	}

	cs := NewClientStore(s)
	if _, err := cs.Authenticate(ctx, "reporting-service", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestClientStoreAuthenticateInactiveClient(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	client := newTestClient(t, "s3cret")
	client.IsActive = false
	if err := s.CreateClient(ctx, client); err != nil {
		t.Fatalf("create client: %v", err)
	}

	cs := NewClientStore(s)
	if _, err := cs.Authenticate(ctx, "reporting-service", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for inactive client, got %v", err)
	}
}

func TestClientStoreAuthenticateUnknownName(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	cs := NewClientStore(s)
	if _, err := cs.Authenticate(ctx, "missing", "anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown client, got %v", err)
	}
}

func TestClientTokenVersionLookup(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	client := newTestClient(t, "s3cret")
	if err := s.CreateClient(ctx, client); err != nil {
		t.Fatalf("create client: %v", err)
	}

	cs := NewClientStore(s)
	version, active, ok := cs.ClientTokenVersion("client-1")
	if !ok || !active || version != 1 {
		t.Fatalf("unexpected lookup result: version=%d active=%v ok=%v", version, active, ok)
	}

	if err := s.BumpClientTokenVersion(ctx, "client-1"); err != nil {
		t.Fatalf("bump token version: %v", err)
	}
	version, _, _ = cs.ClientTokenVersion("client-1")
	if version != 2 {
		t.Fatalf("expected bumped version 2, got %d", version)
	}
}

func TestGenerateSecretIsUnique(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct secrets")
	}
}
