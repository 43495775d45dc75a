package auth

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pantrylab/pantryd/internal/audit"
	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

// Service is the authentication kernel: a registry of credential
// providers plus the session lifecycle (issue, validate, refresh,
// revoke). It never hands out a token pair without a committed session
// row behind it.
type Service struct {
	providers map[string]Provider
	sessions  Sessions
	users     Users
	tokens    Tokens
	hasher    PasswordHasher
	audits    AuditLog
	mirror    *audit.Logger
	ext       ExtSessions
	artifacts ArtifactInvalidator
	events    EventPublisher
	log       zerolog.Logger
}

func NewService(sessions Sessions, users Users, tokens Tokens, hasher PasswordHasher, audits AuditLog, mirror *audit.Logger) *Service {
	return &Service{
		providers: make(map[string]Provider),
		sessions:  sessions,
		users:     users,
		tokens:    tokens,
		hasher:    hasher,
		audits:    audits,
		mirror:    mirror,
		log:       logger.Component("auth"),
	}
}

// RegisterProvider adds a credential provider. Called once per enabled
// provider at construction; not safe for concurrent use afterwards.
func (s *Service) RegisterProvider(p Provider) {
	s.providers[p.Name()] = p
}

// WithExternalSessions couples logout and password changes to the
// storefront session registry.
func (s *Service) WithExternalSessions(ext ExtSessions) *Service {
	s.ext = ext
	return s
}

// WithArtifactCache couples profile edits to artifact invalidation.
func (s *Service) WithArtifactCache(inv ArtifactInvalidator) *Service {
	s.artifacts = inv
	return s
}

// WithEvents enables best-effort audit event publication.
func (s *Service) WithEvents(pub EventPublisher) *Service {
	s.events = pub
	return s
}

// Providers lists the registered provider names.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for n := range s.providers {
		names = append(names, n)
	}
	return names
}

func (s *Service) provider(name string) (Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, domain.ErrAuthFailed(reasonProviderDisabled)
	}
	return p, nil
}

// issueTokenPair mints an access/refresh pair and writes the session row
// (with its tokens_issued audit record) before returning. If the write
// fails the tokens are dropped on the floor: an unrecorded JTI is
// unusable by construction, since validation requires the row.
func (s *Service) issueTokenPair(ctx context.Context, userID, email string) (*TokenPair, error) {
	accessToken, ac, err := s.tokens.IssueAccess(userID, email)
	if err != nil {
		return nil, err
	}
	refreshToken, rc, err := s.tokens.IssueRefresh(userID, email)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := domain.Session{
		UserID:          userID,
		AccessTokenJTI:  ac.JTI,
		RefreshTokenJTI: rc.JTI,
		DeviceInfo:      reqctx.Device(ctx),
		CreatedAt:       now,
		ExpiresAt:       rc.ExpiresAt,
		LastActivity:    now,
	}
	rec := domain.AuditRecord{
		EventType: domain.AuditTokensIssued,
		UserID:    userID,
		Email:     email,
		IPAddress: sess.DeviceInfo.IPAddress,
		Success:   true,
		Metadata:  map[string]string{"access_jti": ac.JTI},
	}
	created, err := s.sessions.Create(ctx, sess, rec)
	if err != nil {
		return nil, err
	}

	s.mirror.TokensIssued(ctx, userID, created.ID)
	s.publish(ctx, rec)

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshExpiresAt: rc.ExpiresAt,
		SessionID:        created.ID,
	}, nil
}

// publish forwards an audit record to the broker, best-effort. Failures
// are logged and dropped; publication is at-most-once.
func (s *Service) publish(ctx context.Context, rec domain.AuditRecord) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishAuditEvent(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("event", rec.EventType).Msg("audit event publication failed")
	}
}
