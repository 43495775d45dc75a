package auth

import (
	"context"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/metrics"
	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

// RevokeToken revokes the session behind a presented token. The token is
// decoded without verification: revocation must work for expired tokens,
// and marking a row revoked with a forged JTI is harmless.
func (s *Service) RevokeToken(ctx context.Context, token string) (bool, error) {
	claims, err := s.tokens.DecodeUnchecked(token)
	if err != nil || claims.JTI == "" {
		return false, domain.ErrTokenInvalid()
	}

	rec := domain.AuditRecord{
		EventType: domain.AuditTokenRevoked,
		UserID:    claims.UserID,
		Email:     claims.Email,
		IPAddress: reqctx.Device(ctx).IPAddress,
		Success:   true,
	}
	revoked, err := s.sessions.RevokeByJTI(ctx, claims.JTI, rec)
	if err != nil {
		return false, err
	}
	if revoked {
		s.mirror.TokenRevoked(ctx, claims.UserID, claims.JTI)
		s.publish(ctx, rec)
		metrics.RecordSessionRevoked()
	}
	return revoked, nil
}

// Logout revokes the presented access token's session and tears down the
// user's external storefront session. Best-effort on the storefront
// side: a failed teardown is logged, the revocation stands.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.DecodeUnchecked(accessToken)
	if err != nil {
		return domain.ErrTokenInvalid()
	}

	if _, err := s.RevokeToken(ctx, accessToken); err != nil {
		return err
	}

	if s.ext != nil && claims.Email != "" {
		if _, err := s.ext.Clear(ctx, claims.Email); err != nil {
			s.log.Warn().Err(err).Str("user_id", claims.UserID).Msg("storefront session teardown failed on logout")
		}
	}
	return nil
}

// RevokeAllSessions revokes every live session of a user. Used by the
// password-reset flow and the operator CLI.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.mirror.SessionsRevoked(ctx, userID, n)
	}
	return n, nil
}
