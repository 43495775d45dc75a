package http_handlers

import (
	"net/http"

	"github.com/pantrylab/pantryd/internal/application/auth"
	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/security"
	"github.com/pantrylab/pantryd/internal/transport/http/dto"
	"github.com/pantrylab/pantryd/internal/transport/http/middleware"
	"github.com/pantrylab/pantryd/internal/transport/http/response"
)

type AuthHandler struct {
	svc *auth.Service
}

func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	profile := domain.Profile{}
	if req.Profile != nil {
		profile = req.Profile.Domain()
	}

	res, pair, err := h.svc.RegisterUser(r.Context(), domain.AuthProviderPassword, auth.Credentials{
		Email:    req.Email,
		Password: req.Password,
	}, profile)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if res.Status != auth.StatusSuccess {
		response.WriteError(w, r, failureError(res))
		return
	}

	strength := security.PasswordStrength(req.Password)
	response.Created(w, dto.AuthData{
		UserID:           res.UserID,
		Email:            res.Email,
		PasswordStrength: &strength,
		Tokens:           dto.NewTokensView(pair),
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	res, pair, err := h.svc.AuthenticateUser(r.Context(), domain.AuthProviderPassword, auth.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if res.Status != auth.StatusSuccess {
		response.WriteError(w, r, failureError(res))
		return
	}

	response.OK(w, dto.AuthData{
		UserID: res.UserID,
		Email:  res.Email,
		Tokens: dto.NewTokensView(pair),
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req dto.RefreshRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	pair, err := h.svc.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, dto.NewTokensView(pair))
}

// Logout tears down the bearer session, including any storefront
// session the user holds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw, err := middleware.BearerToken(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := h.svc.Logout(r.Context(), raw); err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.NoContent(w)
}

// Revoke invalidates the session behind any presented token, expired
// signatures included.
func (h *AuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req dto.RevokeRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	revoked, err := h.svc.RevokeToken(r.Context(), req.Token)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, map[string]bool{"revoked": revoked})
}

func (h *AuthHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrTokenInvalid())
		return
	}

	n, err := h.svc.RevokeAllSessions(r.Context(), info.UserID)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, map[string]int64{"revoked_sessions": n})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrTokenInvalid())
		return
	}

	u, err := h.svc.CurrentUser(r.Context(), info)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, dto.NewUserView(u))
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrTokenInvalid())
		return
	}

	var req dto.ProfileUpdateRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	if err := h.svc.UpdateProfile(r.Context(), info.UserID, req.Profile.Domain()); err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.NoContent(w)
}

// PasswordResetRequest always answers the same way, whether or not the
// email maps to an account.
func (h *AuthHandler) PasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req dto.PasswordResetRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	if _, err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, map[string]string{
		"message": "if the email is registered, a reset link has been sent",
	})
}

func (h *AuthHandler) PasswordResetComplete(w http.ResponseWriter, r *http.Request) {
	var req dto.PasswordResetCompleteRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	if err := h.svc.CompletePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.NoContent(w)
}

// failureError maps a provider failure value to the non-enumerating
// client error; the machine reason stays in the audit trail only.
func failureError(res auth.Result) error {
	if res.Status == auth.StatusRequiresVerification {
		return domain.ErrAuthFailed("email_not_verified")
	}
	switch res.Reason {
	case "account_locked":
		return domain.ErrAccountLocked()
	case "email_not_verified", "provider_disabled":
		return domain.ErrAuthFailed(res.Reason)
	default:
		return domain.ErrInvalidCredentials()
	}
}
