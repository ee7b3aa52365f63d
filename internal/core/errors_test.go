// internal/core/errors_test.go
package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: "TEST_ERROR", Message: "test message"}
	if err.Error() != "[TEST_ERROR] test message" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{Code: "WRAP", Message: "wrapped", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should return cause")
	}
}

func TestError_Is(t *testing.T) {
	if !errors.Is(ErrNotFound, ErrNotFound) {
		t.Error("same error should match")
	}
	if errors.Is(ErrNotFound, ErrTransient) {
		t.Error("different codes should not match")
	}
}

func TestWrapError(t *testing.T) {
	cause := errors.New("original")
	wrapped := WrapError(ErrBrokerFailed, cause)
	if wrapped.Cause != cause {
		t.Error("cause not set")
	}
	if wrapped.Code != ErrBrokerFailed.Code {
		t.Error("code not preserved")
	}
}

func TestQuotaExceeded(t *testing.T) {
	reset := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	err := QuotaExceeded("pro-abc", reset)

	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatal("should match ErrQuotaExceeded")
	}
	if err.ResetAt != reset {
		t.Errorf("reset = %v", err.ResetAt)
	}
	if !strings.Contains(err.Error(), "pro-abc") {
		t.Errorf("message should name credential: %s", err.Error())
	}
	if CredentialOf(fmt.Errorf("call: %w", err)) != "pro-abc" {
		t.Error("credential should survive wrapping")
	}
}

func TestAuthExpired(t *testing.T) {
	err := AuthExpired("free-1", ErrAuthInvalid)
	if !errors.Is(err, ErrAuthExpired) {
		t.Error("should match ErrAuthExpired")
	}
	if errors.Is(err, ErrTransient) {
		t.Error("should not be transient")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Transient(errors.New("reset by peer"))) {
		t.Error("transient should be retryable")
	}
	if IsRetryable(QuotaExceeded("x", time.Time{})) {
		t.Error("quota exhaustion must not be retried")
	}
	if IsRetryable(NotFound("subscription")) {
		t.Error("not found must not be retried")
	}
}
