package auth

import (
	"context"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

// RegisterUser creates an account through the named provider and, when
// the outcome is an immediate success, issues the first token pair.
// Accounts that still require verification get no tokens.
func (s *Service) RegisterUser(ctx context.Context, providerName string, creds Credentials, profile domain.Profile) (Result, *TokenPair, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return Result{}, nil, err
	}

	res, err := p.Register(ctx, creds, profile)
	if err != nil {
		return Result{}, nil, err
	}
	if res.Status != StatusSuccess {
		return res, nil, nil
	}

	s.mirror.RegistrationSucceeded(ctx, res.UserID, res.Email, providerName)

	pair, err := s.issueTokenPair(ctx, res.UserID, res.Email)
	if err != nil {
		return Result{}, nil, err
	}
	return res, pair, nil
}

// AuthenticateUser runs the named provider's credential check and issues
// a token pair on success.
func (s *Service) AuthenticateUser(ctx context.Context, providerName string, creds Credentials) (Result, *TokenPair, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return Result{}, nil, err
	}

	res, err := p.Authenticate(ctx, creds)
	if err != nil {
		return Result{}, nil, err
	}
	ip := reqctx.Device(ctx).IPAddress
	if res.Status != StatusSuccess {
		if res.Status == StatusFailure {
			s.mirror.LoginFailed(ctx, creds.Email, ip, res.Reason)
		}
		return res, nil, nil
	}

	s.mirror.LoginSuccess(ctx, res.UserID, res.Email, ip)

	pair, err := s.issueTokenPair(ctx, res.UserID, res.Email)
	if err != nil {
		return Result{}, nil, err
	}
	return res, pair, nil
}
