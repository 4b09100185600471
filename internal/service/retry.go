package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/vulnhound/vulnhound/internal/core"
)

// ErrorClass describes how a provider failure is handled.
type ErrorClass int

const (
	ClassFatal ErrorClass = iota
	ClassTransient
	ClassRateLimited
	ClassSchemaInvalid
)

// String returns the class name for logging.
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassSchemaInvalid:
		return "schema_invalid"
	default:
		return "fatal"
	}
}

// Classify maps an error to its retry class. Anything unrecognized is
// fatal: authentication failures and malformed requests never retry.
func Classify(err error) ErrorClass {
	switch {
	case core.IsCategory(err, core.ErrCatRateLimit):
		return ClassRateLimited
	case core.IsSchemaInvalid(err):
		return ClassSchemaInvalid
	case core.IsCategory(err, core.ErrCatTransient):
		return ClassTransient
	default:
		return ClassFatal
	}
}

// RetryPolicy defines retry behavior for provider calls.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0, scales the added jitter
	Multiplier   float64 // Exponential factor
}

// DefaultRetryPolicy returns a default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     60 * time.Second,
		JitterFactor: 1.0,
		Multiplier:   2.0,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxAttempts = n
	}
}

// WithBaseDelay sets the initial delay.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum delay.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxDelay = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.JitterFactor = factor
	}
}

// WithMultiplier sets the exponential multiplier.
func WithMultiplier(m float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.Multiplier = m
	}
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// Execute runs the function with retry logic. The attempt counter is
// local to this call. Schema failures pass through untouched: they have
// their own bounded loop at the gateway.
func (p *RetryPolicy) Execute(ctx context.Context, fn RetryableFunc) error {
	return p.ExecuteWithNotify(ctx, fn, nil)
}

// RetryNotifyFunc is called before each retry wait.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// ExecuteWithNotify runs with retry and notifications.
func (p *RetryPolicy) ExecuteWithNotify(ctx context.Context, fn RetryableFunc, notify RetryNotifyFunc) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		switch Classify(err) {
		case ClassFatal, ClassSchemaInvalid:
			return err
		}

		// Don't wait after the last attempt
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.DelayFor(err, attempt)

		if notify != nil {
			notify(attempt, err, delay)
		}

		// Wait with context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &RetryExhaustedError{
		Attempts: p.MaxAttempts,
		LastErr:  lastErr,
	}
}

// DelayFor computes the wait before the next attempt. A provider-supplied
// retry hint overrides the computed backoff.
func (p *RetryPolicy) DelayFor(err error, attempt int) time.Duration {
	if hint, ok := core.RetryAfterOf(err); ok {
		return hint
	}
	return p.CalculateDelay(attempt)
}

// CalculateDelay computes the backoff delay for a given attempt (1-based):
// min(maxDelay, baseDelay * multiplier^(attempt-1)) plus random jitter
// in [0, delay] so concurrent retries spread out.
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := p.backoff(attempt)
	if p.JitterFactor > 0 {
		delay += delay * rand.Float64() * p.JitterFactor
	}
	return time.Duration(delay)
}

// CalculateDelayNoJitter computes the delay without jitter (for testing).
func (p *RetryPolicy) CalculateDelayNoJitter(attempt int) time.Duration {
	return time.Duration(p.backoff(attempt))
}

func (p *RetryPolicy) backoff(attempt int) float64 {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return delay
}

// RetryExhaustedError indicates all retry attempts failed.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	_, ok := err.(*RetryExhaustedError)
	return ok
}
