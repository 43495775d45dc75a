package auth

import (
	"context"
	"time"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/security"
)

func nowUTC() time.Time { return time.Now().UTC() }

// ValidateSession authorizes a bearer token: the signature and kind must
// verify, and a non-revoked session row must hold the token's JTI. A
// valid signature with no live row is worthless.
func (s *Service) ValidateSession(ctx context.Context, accessToken string) (domain.SessionInfo, error) {
	claims, ok := s.tokens.Validate(accessToken, security.TokenAccess)
	if !ok {
		return domain.SessionInfo{}, domain.ErrTokenInvalid()
	}

	sess, err := s.sessions.GetByAccessJTI(ctx, claims.JTI)
	if err != nil {
		if domain.Is(err, "session_not_found") {
			return domain.SessionInfo{}, domain.ErrSessionRevoked()
		}
		return domain.SessionInfo{}, err
	}
	if !sess.UsableAt(nowUTC()) {
		return domain.SessionInfo{}, domain.ErrSessionRevoked()
	}

	if err := s.sessions.TouchActivity(ctx, claims.JTI); err != nil {
		s.log.Debug().Err(err).Msg("could not stamp session activity")
	}

	return domain.SessionInfo{
		UserID:    claims.UserID,
		Email:     claims.Email,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// CurrentUser resolves the full user row for an authorized session.
func (s *Service) CurrentUser(ctx context.Context, info domain.SessionInfo) (domain.User, error) {
	return s.users.GetByID(ctx, info.UserID)
}
