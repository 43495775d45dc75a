package auth

import (
	"context"

	"github.com/pantrylab/pantryd/internal/infrastructure/artifactcache"

	"github.com/pantrylab/pantryd/internal/domain"
)

// UpdateProfile replaces a user's dietary profile. When the edit changes
// any field that feeds the artifact-cache fingerprint, every cached
// artifact for the user is invalidated: recipes generated for the old
// restrictions must never be served against the new ones.
func (s *Service) UpdateProfile(ctx context.Context, userID string, p domain.Profile) error {
	if err := domain.ValidateProfile(p); err != nil {
		return err
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	before := artifactcache.ProfileFingerprint(u.Profile)
	after := artifactcache.ProfileFingerprint(p)

	if err := s.users.UpdateProfile(ctx, userID, p); err != nil {
		return err
	}

	if before != after && s.artifacts != nil {
		n, err := s.artifacts.InvalidateForUser(u.Email)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("artifact invalidation failed after profile edit")
		} else if n > 0 {
			s.log.Info().Str("user_id", userID).Int("invalidated", n).Msg("profile edit invalidated cached artifacts")
		}
	}
	return nil
}
