package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

// Logger provides structured audit logging for auth business events.
// It mirrors persisted AuditRecords to the process log; persistence itself
// happens in the repositories (transactionally where required).
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// Event mirrors an arbitrary audit record. Used by the recorder after a
// row is written so log and collection stay in step.
func (l *Logger) Event(ctx context.Context, rec domain.AuditRecord) {
	ev := l.log.Info()
	if !rec.Success {
		ev = l.log.Warn()
	}
	ev.
		Str("action", rec.EventType).
		Str("user_id", rec.UserID).
		Str("email", maskEmail(rec.Email)).
		Str("ip", rec.IPAddress).
		Str("request_id", reqctx.RequestID(ctx)).
		Bool("success", rec.Success).
		Msg("audit event")
}

// RegistrationSucceeded logs a completed registration
func (l *Logger) RegistrationSucceeded(ctx context.Context, userID, email, provider string) {
	l.log.Info().
		Str("action", domain.AuditUserRegistered).
		Str("user_id", userID).
		Str("email", maskEmail(email)).
		Str("provider", provider).
		Str("request_id", reqctx.RequestID(ctx)).
		Msg("User registered")
}

// LoginSuccess logs a successful login
func (l *Logger) LoginSuccess(ctx context.Context, userID, email, ip string) {
	l.log.Info().
		Str("action", domain.AuditLoginSuccess).
		Str("user_id", userID).
		Str("email", maskEmail(email)).
		Str("ip", ip).
		Str("request_id", reqctx.RequestID(ctx)).
		Msg("User logged in successfully")
}

// LoginFailed logs a failed login attempt
func (l *Logger) LoginFailed(ctx context.Context, email, ip, reason string) {
	l.log.Warn().
		Str("action", domain.AuditLoginFailed).
		Str("email", maskEmail(email)).
		Str("ip", ip).
		Str("reason", reason).
		Str("request_id", reqctx.RequestID(ctx)).
		Msg("Login attempt failed")
}

// AccountLocked logs an account lockout
func (l *Logger) AccountLocked(ctx context.Context, email, ip string) {
	l.log.Warn().
		Str("action", domain.AuditAccountLocked).
		Str("email", maskEmail(email)).
		Str("ip", ip).
		Str("request_id", reqctx.RequestID(ctx)).
		Msg("Account locked after repeated failures")
}

// TokensIssued logs a new session's token pair
func (l *Logger) TokensIssued(ctx context.Context, userID, sessionID string) {
	l.log.Info().
		Str("action", domain.AuditTokensIssued).
		Str("user_id", userID).
		Str("session_id", sessionID).
		Str("request_id", reqctx.RequestID(ctx)).
		Msg("Token pair issued")
}

// TokenRefreshed logs a token refresh
func (l *Logger) TokenRefreshed(ctx context.Context, userID string) {
	l.log.Info().
		Str("action", domain.AuditTokenRefreshed).
		Str("user_id", userID).
		Str("request_id", reqctx.RequestID(ctx)).
		Msg("Access token refreshed")
}

// TokenRevoked logs an explicit revocation
func (l *Logger) TokenRevoked(ctx context.Context, userID, sessionID string) {
	l.log.Info().
		Str("action", domain.AuditTokenRevoked).
		Str("user_id", userID).
		Str("session_id", sessionID).
		Str("request_id", reqctx.RequestID(ctx)).
		Msg("Session revoked")
}

// SessionsRevoked logs when all sessions are revoked
func (l *Logger) SessionsRevoked(ctx context.Context, userID string, count int64) {
	l.log.Warn().
		Str("action", "sessions_revoked").
		Str("user_id", userID).
		Int64("count", count).
		Str("request_id", reqctx.RequestID(ctx)).
		Msg("All sessions revoked for user")
}

// PasswordResetRequested logs a password reset request
func (l *Logger) PasswordResetRequested(ctx context.Context, email string) {
	l.log.Info().
		Str("action", domain.AuditPasswordResetRequested).
		Str("email", maskEmail(email)).
		Str("request_id", reqctx.RequestID(ctx)).
		Msg("Password reset requested")
}

// PasswordResetCompleted logs a completed reset
func (l *Logger) PasswordResetCompleted(ctx context.Context, userID string) {
	l.log.Info().
		Str("action", domain.AuditPasswordResetCompleted).
		Str("user_id", userID).
		Str("request_id", reqctx.RequestID(ctx)).
		Msg("Password reset completed; sessions revoked")
}

// maskEmail partially masks email for privacy in logs
func maskEmail(email string) string {
	if len(email) < 5 {
		return "***"
	}
	// Show first 2 chars and domain
	at := 0
	for i, c := range email {
		if c == '@' {
			at = i
			break
		}
	}
	if at < 2 {
		return email[:1] + "***" + email[at:]
	}
	return email[:2] + "***" + email[at:]
}
