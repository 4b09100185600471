package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vulnhound/vulnhound/internal/core"
)

const (
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// classifyStatus maps a non-200 provider reply to a domain error. A 429
// carries the provider's Retry-After hint when one was supplied, so retry
// scheduling can honor it instead of the computed backoff.
func classifyStatus(provider string, status int, header http.Header, detail string) error {
	msg := fmt.Sprintf("%s returned status %d", provider, status)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.ErrAuth(msg)
	case status == http.StatusTooManyRequests:
		err := core.ErrRateLimit(msg)
		if wait, ok := retryAfterHeader(header); ok {
			return err.WithRetryAfter(wait)
		}
		return err
	case status == http.StatusRequestTimeout || status >= 500:
		return core.ErrTransient(core.CodeProviderFailed, msg)
	default:
		// Remaining 4xx: the request itself is malformed (bad model name,
		// oversized payload). Retrying cannot help.
		return core.ErrValidation(core.CodeBadRequest, msg)
	}
}

// classifyTransport maps a transport-level failure. Cancellation of the
// caller's context passes through untouched so the orchestrator can park
// the session as resumable; a per-call timeout with a live outer context
// is an ordinary transient failure.
func classifyTransport(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ErrTimeout(fmt.Sprintf("%s request timed out", provider)).WithCause(err)
	}
	return core.ErrTransient(core.CodeProviderFailed, fmt.Sprintf("%s unreachable", provider)).WithCause(err)
}

// retryAfterHeader parses a Retry-After header, either delta-seconds or an
// HTTP date.
func retryAfterHeader(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}
