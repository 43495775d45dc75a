package auth

import (
	"context"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/security"
	"github.com/pantrylab/pantryd/internal/metrics"
	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

// RequestPasswordReset issues a reset token and stores it on the user
// row. The return value is the token itself; delivery (email) is the
// caller's concern. Unknown emails and OAuth-only accounts return an
// empty token with no error so the endpoint cannot be used to enumerate
// accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return "", domain.ErrMissingField("email")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if domain.Is(err, "user_not_found") {
			return "", nil
		}
		return "", err
	}
	if u.PasswordHash == nil {
		// OAuth-only account; nothing to reset.
		return "", nil
	}

	token, claims, err := s.tokens.IssueReset(u.ID, u.Email)
	if err != nil {
		return "", err
	}
	if err := s.users.SetPasswordResetToken(ctx, u.ID, token, claims.ExpiresAt); err != nil {
		return "", err
	}

	rec := domain.AuditRecord{
		EventType: domain.AuditPasswordResetRequested,
		UserID:    u.ID,
		Email:     u.Email,
		IPAddress: reqctx.Device(ctx).IPAddress,
		Success:   true,
	}
	if err := s.audits.Append(ctx, rec); err != nil {
		s.log.Warn().Err(err).Msg("audit append failed for reset request")
	}
	s.mirror.PasswordResetRequested(ctx, u.Email)
	s.publish(ctx, rec)

	return token, nil
}

// CompletePasswordReset validates the reset token both cryptographically
// and against the stored pending token, swaps the hash, revokes every
// live session and tears down the user's external storefront session.
func (s *Service) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	claims, ok := s.tokens.Validate(token, security.TokenReset)
	if !ok {
		return domain.ErrResetTokenNotFound()
	}

	// The stored copy must match: issuing a newer reset token, or
	// completing a reset, invalidates older ones even if unexpired.
	u, err := s.users.GetByResetToken(ctx, token)
	if err != nil {
		return err
	}
	if u.ID != claims.UserID {
		return domain.ErrResetTokenNotFound()
	}

	if err := security.ValidatePassword(newPassword, u.Email); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	rec := domain.AuditRecord{
		EventType: domain.AuditPasswordResetCompleted,
		UserID:    u.ID,
		Email:     u.Email,
		IPAddress: reqctx.Device(ctx).IPAddress,
		Success:   true,
	}
	revoked, err := s.users.CompletePasswordReset(ctx, u.ID, hash, rec)
	if err != nil {
		return err
	}

	if s.ext != nil {
		if _, err := s.ext.Clear(ctx, u.Email); err != nil {
			s.log.Warn().Err(err).Str("user_id", u.ID).Msg("storefront session teardown failed on password reset")
		}
	}

	s.mirror.PasswordResetCompleted(ctx, u.ID)
	if revoked > 0 {
		s.mirror.SessionsRevoked(ctx, u.ID, revoked)
	}
	s.publish(ctx, rec)
	metrics.RecordPasswordReset()
	return nil
}
