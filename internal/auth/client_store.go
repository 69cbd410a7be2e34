package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/oriys/pgbroker/internal/domain"
	"github.com/oriys/pgbroker/internal/store"
)

// ErrInvalidCredentials is returned by ClientStore.Authenticate when the
// client name, secret, or active flag does not check out. It is intentionally
// the same error for "unknown client" and "wrong secret" to avoid leaking
// which one failed.
var ErrInvalidCredentials = errors.New("auth: invalid client credentials")

// ClientStore wraps a BrokerStore's client table with the credential checks
// needed by the OAuth2 token endpoint, and implements ClientLookup for
// JWTAuthenticator.
type ClientStore struct {
	store store.BrokerStore
}

// NewClientStore wraps s for client credential verification.
func NewClientStore(s store.BrokerStore) *ClientStore {
	return &ClientStore{store: s}
}

// Authenticate verifies name/secret against the stored bcrypt hash and
// returns the client if it checks out and is active.
func (c *ClientStore) Authenticate(ctx context.Context, name, secret string) (*domain.Client, error) {
	client, err := c.store.GetClientByName(ctx, name)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !client.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return client, nil
}

// ClientTokenVersion implements ClientLookup.
func (c *ClientStore) ClientTokenVersion(clientID string) (version int, active bool, ok bool) {
	client, err := c.store.GetClientByID(context.Background(), clientID)
	if err != nil {
		return 0, false, false
	}
	return client.TokenVersion, client.IsActive, true
}

// HashSecret hashes a plaintext client secret at the given bcrypt cost.
func HashSecret(secret string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// GenerateSecret returns a new random client secret, base64url encoded.
func GenerateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
