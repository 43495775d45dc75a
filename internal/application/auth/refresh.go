package auth

import (
	"context"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/security"
	"github.com/pantrylab/pantryd/internal/metrics"
	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

// RefreshToken exchanges a live refresh token for a new pair. The old
// JTIs stop being routable the instant the rotation commits; a refresh
// token whose session row is revoked or gone is rejected even when the
// signature verifies.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, ok := s.tokens.Validate(refreshToken, security.TokenRefresh)
	if !ok {
		return nil, domain.ErrTokenInvalid()
	}

	sess, err := s.sessions.GetByRefreshJTI(ctx, claims.JTI)
	if err != nil {
		if domain.Is(err, "session_not_found") {
			return nil, domain.ErrSessionRevoked()
		}
		return nil, err
	}
	if !sess.UsableAt(nowUTC()) {
		return nil, domain.ErrSessionRevoked()
	}

	newAccess, ac, err := s.tokens.IssueAccess(claims.UserID, claims.Email)
	if err != nil {
		return nil, err
	}
	newRefresh, rc, err := s.tokens.IssueRefresh(claims.UserID, claims.Email)
	if err != nil {
		return nil, err
	}

	rec := domain.AuditRecord{
		EventType: domain.AuditTokenRefreshed,
		UserID:    claims.UserID,
		Email:     claims.Email,
		IPAddress: reqctx.Device(ctx).IPAddress,
		Success:   true,
	}
	rotated, err := s.sessions.Rotate(ctx, claims.JTI, ac.JTI, rc.JTI, rc.ExpiresAt, rec)
	if err != nil {
		if domain.Is(err, "session_not_found") {
			// Row disappeared or was revoked between the read and the
			// rotation; a racing refresh with the same token lost.
			return nil, domain.ErrSessionRevoked()
		}
		return nil, err
	}

	s.mirror.TokenRefreshed(ctx, claims.UserID)
	s.publish(ctx, rec)
	metrics.RecordTokenRefresh()

	return &TokenPair{
		AccessToken:      newAccess,
		RefreshToken:     newRefresh,
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshExpiresAt: rc.ExpiresAt,
		SessionID:        rotated.ID,
	}, nil
}
