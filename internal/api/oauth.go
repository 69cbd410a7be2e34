package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oriys/pgbroker/internal/auth"
)

// OAuthHandler mints bearer tokens for the client-credentials grant.
type OAuthHandler struct {
	Clients  *auth.ClientStore
	Secret   string
	TokenTTL time.Duration
}

func (h *OAuthHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /oauth/token", h.IssueToken)
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (h *OAuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		writeError(w, http.StatusUnauthorized, "client_id and client_secret are required")
		return
	}

	client, err := h.Clients.Authenticate(r.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid client credentials")
		return
	}

	ttl := h.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, err := auth.MintToken(h.Secret, client.ID, client.Scopes, client.TokenVersion, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mint token")
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
	})
}
