package http_handlers

import (
	"net/http"

	"github.com/pantrylab/pantryd/internal/application/auth"
	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/transport/http/dto"
	"github.com/pantrylab/pantryd/internal/transport/http/response"
)

// OAuthHandler exposes the authorization-code + PKCE flow over HTTP.
// Start hands the browser an authorization URL; the provider redirects
// back with code and state, which Callback exchanges for a token pair.
type OAuthHandler struct {
	svc      *auth.Service
	provider *auth.OAuthProvider
}

func NewOAuthHandler(svc *auth.Service, provider *auth.OAuthProvider) *OAuthHandler {
	return &OAuthHandler{svc: svc, provider: provider}
}

func (h *OAuthHandler) enabled() bool { return h.provider != nil }

func (h *OAuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.enabled() {
		response.WriteError(w, r, domain.ErrAuthFailed("provider_disabled"))
		return
	}

	authURL, state, err := h.provider.BeginAuthorization(r.Context())
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, dto.OAuthStartData{AuthorizationURL: authURL, State: state})
}

// Callback completes the flow. Provider errors arrive as query params;
// everything else goes through the provider's state/exchange/verify
// chain before any tokens are issued.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.enabled() {
		response.WriteError(w, r, domain.ErrAuthFailed("provider_disabled"))
		return
	}

	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		response.WriteError(w, r, domain.ErrAuthFailed(errCode))
		return
	}

	res, pair, err := h.svc.AuthenticateUser(r.Context(), h.provider.Name(), auth.Credentials{
		Code:  q.Get("code"),
		State: q.Get("state"),
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if res.Status != auth.StatusSuccess {
		response.WriteError(w, r, domain.ErrAuthFailed(res.Reason))
		return
	}

	response.OK(w, dto.AuthData{
		UserID:  res.UserID,
		Email:   res.Email,
		NewUser: res.Metadata["new_user"] == "true",
		Tokens:  dto.NewTokensView(pair),
	})
}
