package domain

import (
	"errors"
	"fmt"
)

// ErrKind is used to map domain errors to HTTP status codes consistently.
type ErrKind string

const (
	KindValidation    ErrKind = "validation"    // 400
	KindAuth          ErrKind = "auth"          // 401
	KindForbidden     ErrKind = "forbidden"     // 403
	KindNotFound      ErrKind = "not_found"     // 404
	KindConflict      ErrKind = "conflict"      // 409
	KindUnprocessable ErrKind = "unprocessable" // 422
	KindUnavailable   ErrKind = "unavailable"   // 503
	KindTimeout       ErrKind = "timeout"       // 504
	KindInternal      ErrKind = "internal"      // 500
)

// Error is a structured domain error.
// - Kind: high-level category for HTTP mapping
// - Code: stable machine code (do not change casually)
// - Message: safe summary for clients (avoid leaking sensitive details)
// - Meta: optional details (field, reason, etc.)
// - Cause: wrapped internal error for logging/diagnostics
type Error struct {
	Kind    ErrKind
	Code    string
	Message string
	Meta    map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind ErrKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind ErrKind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

func WithMeta(err *Error, meta map[string]string) *Error {
	err.Meta = meta
	return err
}

func Is(err error, code string) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Kind reports the kind of err, or KindInternal for non-domain errors.
func KindOf(err error) ErrKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// ----------------------
// Validation errors (400)
// ----------------------

func ErrInvalidJSON(cause error) *Error {
	return Wrap(KindValidation, "invalid_json", "invalid JSON body", cause)
}

func ErrMissingField(field string) *Error {
	return WithMeta(New(KindValidation, "missing_field", "missing required field"), map[string]string{
		"field": field,
	})
}

func ErrInvalidField(field, reason string) *Error {
	return WithMeta(New(KindValidation, "invalid_field", "invalid field"), map[string]string{
		"field":  field,
		"reason": reason,
	})
}

func ErrWeakPassword(reason string) *Error {
	return WithMeta(New(KindValidation, "weak_password", "password does not meet requirements"), map[string]string{
		"reason": reason,
	})
}

func ErrInvalidProfile(field, reason string) *Error {
	return WithMeta(New(KindValidation, "invalid_profile", "invalid profile value"), map[string]string{
		"field":  field,
		"reason": reason,
	})
}

// ----------------------
// Auth errors (401)
// ----------------------

// IMPORTANT: use this for login failures to avoid user enumeration.
func ErrInvalidCredentials() *Error {
	return New(KindAuth, "invalid_credentials", "invalid email or password")
}

// ErrAuthFailed carries a machine-readable reason for audit records;
// the client message stays non-enumerating.
func ErrAuthFailed(reason string) *Error {
	return WithMeta(New(KindAuth, "auth_failed", "authentication failed"), map[string]string{
		"reason": reason,
	})
}

func ErrTokenInvalid() *Error {
	return New(KindAuth, "token_invalid", "invalid token")
}

func ErrSessionRevoked() *Error {
	return New(KindAuth, "session_revoked", "session has been revoked")
}

func ErrAccountLocked() *Error {
	return New(KindForbidden, "account_locked", "account temporarily locked")
}

// ----------------------
// Not Found (404)
// ----------------------

func ErrUserNotFound() *Error {
	return New(KindNotFound, "user_not_found", "user not found")
}

func ErrSessionNotFound() *Error {
	return New(KindNotFound, "session_not_found", "session not found")
}

func ErrListNotFound(name string) *Error {
	return WithMeta(New(KindNotFound, "list_not_found", "grocery list not found"), map[string]string{
		"name": name,
	})
}

func ErrResetTokenNotFound() *Error {
	return New(KindNotFound, "reset_token_not_found", "reset token invalid or expired")
}

func ErrImageNotFound(id string) *Error {
	return WithMeta(New(KindNotFound, "image_not_found", "image not found"), map[string]string{
		"id": id,
	})
}

// ----------------------
// Conflict (409)
// ----------------------

func ErrEmailAlreadyExists() *Error {
	return New(KindConflict, "email_already_exists", "email already registered")
}

func ErrListAlreadyExists(name string) *Error {
	return WithMeta(New(KindConflict, "list_already_exists", "grocery list name already in use"), map[string]string{
		"name": name,
	})
}

func ErrVersionConflict(resource string) *Error {
	return WithMeta(New(KindConflict, "version_conflict", "document was modified concurrently"), map[string]string{
		"resource": resource,
	})
}

// ----------------------
// Transactions
// ----------------------

// Transient transaction errors are retryable; callers inside the
// transaction runtime retry them, callers outside treat them as 503.
func ErrTransactionTransient(cause error) *Error {
	return Wrap(KindUnavailable, "transaction_transient", "transient transaction error", cause)
}

func ErrTransactionAborted(cause error) *Error {
	return Wrap(KindInternal, "transaction_aborted", "transaction aborted", cause)
}

func ErrTransactionTimedOut(elapsed string) *Error {
	return WithMeta(New(KindTimeout, "transaction_timeout", "transaction exceeded wall-clock deadline"), map[string]string{
		"elapsed": elapsed,
	})
}

// ----------------------
// Connectivity / external services
// ----------------------

func ErrConnectionFailed(cause error) *Error {
	return Wrap(KindUnavailable, "connection_failed", "database unreachable", cause)
}

func ErrCircuitOpen(service string) *Error {
	return WithMeta(New(KindUnavailable, "circuit_open", "service circuit breaker is open"), map[string]string{
		"service": service,
	})
}

func ErrTimeout(op string, cause error) *Error {
	return WithMeta(Wrap(KindTimeout, "timeout", "operation timed out", cause), map[string]string{
		"op": op,
	})
}

func ErrServiceUnavailable(service string, cause error) *Error {
	return WithMeta(Wrap(KindUnavailable, "service_unavailable", "external service unavailable", cause), map[string]string{
		"service": service,
	})
}

func ErrPageInvalid(detail string) *Error {
	return WithMeta(New(KindUnavailable, "page_invalid", "storefront page not usable"), map[string]string{
		"detail": detail,
	})
}

// ----------------------
// Ordering outcomes (422)
// ----------------------

func ErrCartVerificationFailed(detail string) *Error {
	return WithMeta(New(KindUnprocessable, "cart_verification_failed", "cart contents could not be verified"), map[string]string{
		"detail": detail,
	})
}

func ErrProductVerificationFailed(query string) *Error {
	return WithMeta(New(KindUnprocessable, "product_verification_failed", "no sufficiently similar product found"), map[string]string{
		"query": query,
	})
}

func ErrStoreClosed() *Error {
	return New(KindUnprocessable, "store_closed", "store is closed, order saved for later")
}

// ----------------------
// Infrastructure / internal (5xx)
// ----------------------

func ErrConfigMissing(key string) *Error {
	return WithMeta(New(KindInternal, "config_missing", "missing required configuration"), map[string]string{
		"key": key,
	})
}

func ErrHashFailed(cause error) *Error {
	return Wrap(KindInternal, "hash_failed", "password hashing failed", cause)
}

func ErrTokenSignFailed(cause error) *Error {
	return Wrap(KindInternal, "token_sign_failed", "token signing failed", cause)
}

func ErrRandomFailed(cause error) *Error {
	return Wrap(KindInternal, "random_failed", "random generation failed", cause)
}

func ErrInternal(cause error) *Error {
	return Wrap(KindInternal, "internal_error", "internal error", cause)
}
