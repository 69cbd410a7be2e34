package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// brokerClaims is the JWT claim set minted for an OAuth2 client-credentials
// grant. Ver carries the client's token_version at mint time; a client whose
// stored token_version has since been bumped must be rejected even though the
// signature and exp are still valid.
type brokerClaims struct {
	Scopes string `json:"scopes"`
	Ver    int    `json:"ver"`
	jwt.RegisteredClaims
}

// ClientLookup resolves a client ID to its current token_version, so the
// authenticator can reject tokens revoked by a version bump.
type ClientLookup interface {
	ClientTokenVersion(clientID string) (version int, active bool, ok bool)
}

// JWTAuthenticator validates bearer tokens minted by the token endpoint.
type JWTAuthenticator struct {
	secret []byte
	lookup ClientLookup
}

// NewJWTAuthenticator creates a JWT authenticator for HS256 bearer tokens.
func NewJWTAuthenticator(secret string, lookup ClientLookup) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	return &JWTAuthenticator{secret: []byte(secret), lookup: lookup}, nil
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) *Identity {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return nil
	}
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

	claims := &brokerClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil
	}

	clientID := claims.Subject
	if clientID == "" {
		return nil
	}

	if a.lookup != nil {
		version, active, ok := a.lookup.ClientTokenVersion(clientID)
		if !ok || !active || version != claims.Ver {
			return nil
		}
	}

	return &Identity{
		ClientID:     clientID,
		Scopes:       ParseScopes(claims.Scopes),
		TokenVersion: claims.Ver,
	}
}

// MintToken signs a client-credentials access token for clientID.
func MintToken(secret, clientID, scopes string, tokenVersion int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := brokerClaims{
		Scopes: scopes,
		Ver:    tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
