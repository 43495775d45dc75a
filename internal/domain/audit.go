package domain

import "time"

// Audit event types. Stable strings; consumed by the audit log and the
// event publisher routing keys.
const (
	AuditUserRegistered         = "user_registered"
	AuditLoginSuccess           = "login_success"
	AuditLoginFailed            = "login_failed"
	AuditTokensIssued           = "tokens_issued"
	AuditTokenRefreshed         = "token_refreshed"
	AuditTokenRevoked           = "token_revoked"
	AuditPasswordResetRequested = "password_reset_requested"
	AuditPasswordResetCompleted = "password_reset_completed"
	AuditAccountLocked          = "account_locked"
)

// AuditRecord is an append-only security event. Records are never updated
// or deleted except by the 90-day TTL index. UserID is always the hex
// string form of the user id, never a raw object reference.
type AuditRecord struct {
	ID            string
	EventType     string
	UserID        string
	Email         string
	Provider      string
	IPAddress     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
	Timestamp     time.Time
}
