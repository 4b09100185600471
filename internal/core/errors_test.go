package core

import (
	"errors"
	"testing"
	"time"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := (&DomainError{
		Category: ErrCatValidation,
		Code:     "CODE",
		Message:  "message",
	}).WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}

	match := &DomainError{Category: ErrCatValidation, Code: "CODE"}
	if !errors.Is(err, match) {
		t.Fatalf("expected errors.Is to match category and code")
	}
}

func TestErrorFactories(t *testing.T) {
	if ErrConfig("C", "m").Retryable {
		t.Fatalf("config should not be retryable")
	}
	if ErrValidation("C", "m").Retryable {
		t.Fatalf("validation should not be retryable")
	}
	if !ErrTransient("C", "m").Retryable {
		t.Fatalf("transient should be retryable")
	}
	if !ErrTimeout("m").Retryable {
		t.Fatalf("timeout should be retryable")
	}
	if !ErrRateLimit("m").Retryable {
		t.Fatalf("rate limit should be retryable")
	}
	if !ErrSchema("m").Retryable {
		t.Fatalf("schema should be retryable under its own limit")
	}
	if ErrState("C", "m").Retryable {
		t.Fatalf("state should not be retryable")
	}
	if ErrAuth("m").Retryable {
		t.Fatalf("auth should not be retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrRateLimit("m")) {
		t.Fatalf("expected retryable error")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("expected non-domain error to be non-retryable")
	}
}

func TestGetCategory(t *testing.T) {
	if GetCategory(ErrRateLimit("m")) != ErrCatRateLimit {
		t.Fatalf("expected rate_limit category")
	}
	if GetCategory(errors.New("plain")) != ErrCatInternal {
		t.Fatalf("expected internal category for non-domain error")
	}
	if !IsCategory(ErrAuth("m"), ErrCatAuth) {
		t.Fatalf("expected category match")
	}
	if !IsSchemaInvalid(ErrSchema("bad")) {
		t.Fatalf("expected schema category match")
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := ErrRateLimit("throttled").WithRetryAfter(30 * time.Second)
	d, ok := RetryAfterOf(err)
	if !ok || d != 30*time.Second {
		t.Fatalf("RetryAfterOf = %v, %v; want 30s, true", d, ok)
	}

	if _, ok := RetryAfterOf(ErrRateLimit("throttled")); ok {
		t.Fatalf("expected no retry-after without hint")
	}
	if _, ok := RetryAfterOf(errors.New("plain")); ok {
		t.Fatalf("expected no retry-after for non-domain error")
	}

	// Wrapped errors still expose the hint.
	wrapped := ErrState("X", "outer").WithCause(ErrRateLimit("inner").WithRetryAfter(time.Second))
	if _, ok := RetryAfterOf(wrapped); !ok {
		t.Fatalf("expected retry-after through wrapping")
	}
}
