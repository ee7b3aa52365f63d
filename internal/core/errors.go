// internal/core/errors.go
package core

import (
	"errors"
	"fmt"
	"time"
)

// Error represents a structured error with code and optional cause.
// CredentialID and ResetAt are populated for credential-scoped outcomes
// (quota exhaustion, expired credentials).
type Error struct {
	Code         string
	Message      string
	Cause        error
	CredentialID string
	ResetAt      time.Time
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.CredentialID != "" {
		msg = fmt.Sprintf("%s (credential %s)", msg, e.CredentialID)
	}
	if !e.ResetAt.IsZero() {
		msg = fmt.Sprintf("%s, resets at %s", msg, e.ResetAt.UTC().Format(time.RFC3339))
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors
var (
	// Runtime outcomes surfaced to the embedding program
	ErrQuotaExceeded = &Error{Code: "QUOTA_EXCEEDED", Message: "daily quota exhausted"}
	ErrAuthExpired   = &Error{Code: "AUTH_EXPIRED", Message: "credential past its grace window"}
	ErrTransient     = &Error{Code: "TRANSIENT", Message: "service temporarily unavailable"}
	ErrNotFound      = &Error{Code: "NOT_FOUND", Message: "not found"}

	// Gateway errors
	ErrAuthInvalid = &Error{Code: "AUTH_INVALID", Message: "credential rejected"}
	ErrRejected    = &Error{Code: "REQUEST_REJECTED", Message: "request rejected by service"}

	// Credential errors
	ErrRotationPending = &Error{Code: "ROTATION_PENDING", Message: "previous rotation still inside grace window"}
	ErrNoCredential    = &Error{Code: "NO_CREDENTIAL", Message: "no active credential"}

	// Stream errors
	ErrMalformedEvent = &Error{Code: "MALFORMED_EVENT", Message: "malformed push event"}
	ErrNotConnected   = &Error{Code: "NOT_CONNECTED", Message: "stream not connected"}
	ErrHandshake      = &Error{Code: "HANDSHAKE_FAILED", Message: "stream handshake failed"}

	// Broker errors
	ErrBrokerFailed = &Error{Code: "BROKER_FAILED", Message: "broker call failed"}
	ErrRiskRejected = &Error{Code: "RISK_REJECTED", Message: "intent rejected by risk checks"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)

// QuotaExceeded reports that credentialID has no calls left until resetAt.
func QuotaExceeded(credentialID string, resetAt time.Time) *Error {
	return &Error{
		Code:         ErrQuotaExceeded.Code,
		Message:      ErrQuotaExceeded.Message,
		CredentialID: credentialID,
		ResetAt:      resetAt,
	}
}

// AuthExpired reports that credentialID was used after its grace window.
func AuthExpired(credentialID string, cause error) *Error {
	return &Error{
		Code:         ErrAuthExpired.Code,
		Message:      ErrAuthExpired.Message,
		Cause:        cause,
		CredentialID: credentialID,
	}
}

// Transient wraps a network or service-side failure.
func Transient(cause error) *Error {
	return WrapError(ErrTransient, cause)
}

// NotFound reports a lookup miss for the named identifier.
func NotFound(what string) *Error {
	return &Error{Code: ErrNotFound.Code, Message: what + " not found"}
}

// IsRetryable reports whether err is eligible for caller-controlled retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// CredentialOf extracts the credential identity attached to err, if any.
func CredentialOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.CredentialID
	}
	return ""
}
