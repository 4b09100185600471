package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/logging"
)

// Gateway wraps one provider with rate limiting, transport retries, and
// structural validation of replies. The provider is fixed at construction:
// a session talks to exactly one backend. The gateway holds no cache and
// no analysis state.
type Gateway struct {
	provider      core.Provider
	limiter       *AdaptiveRateLimiter
	policy        *RetryPolicy
	schemaRetries int
	logger        *logging.Logger
}

// GatewayOption configures a gateway.
type GatewayOption func(*Gateway)

// WithGatewayLimiter sets the rate limiter.
func WithGatewayLimiter(l *AdaptiveRateLimiter) GatewayOption {
	return func(g *Gateway) {
		g.limiter = l
	}
}

// WithGatewayRetryPolicy sets the transport retry policy.
func WithGatewayRetryPolicy(p *RetryPolicy) GatewayOption {
	return func(g *Gateway) {
		g.policy = p
	}
}

// WithSchemaRetries sets how many times an invalid reply is re-requested.
// This budget is separate from the transport retry budget.
func WithSchemaRetries(n int) GatewayOption {
	return func(g *Gateway) {
		if n >= 0 {
			g.schemaRetries = n
		}
	}
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger *logging.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// NewGateway creates a gateway for the given provider.
func NewGateway(provider core.Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider:      provider,
		policy:        DefaultRetryPolicy(),
		schemaRetries: 2,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.limiter == nil {
		g.limiter = NewAdaptiveRateLimiter(limiterConfigFor(provider.Name()))
	}
	return g
}

func limiterConfigFor(provider string) RateLimiterConfig {
	if cfg, ok := defaultProviderConfigs()[provider]; ok {
		return cfg
	}
	return DefaultRateLimiterConfig()
}

// ProviderName returns the backing provider's identifier.
func (g *Gateway) ProviderName() string {
	return g.provider.Name()
}

// Ping verifies the backing provider is reachable and credentialed.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.provider.Ping(ctx)
}

// Send issues one logical model call: acquire a token, send, retry
// transient and rate-limit failures, then validate the reply shape.
// An invalid reply is re-requested with a corrective note up to the
// schema retry budget; fields are never coerced.
func (g *Gateway) Send(ctx context.Context, prompt core.Prompt) (*core.ModelResponse, error) {
	var lastSchemaErr error

	for attempt := 0; attempt <= g.schemaRetries; attempt++ {
		p := prompt
		if lastSchemaErr != nil {
			p = withFormatReminder(prompt, lastSchemaErr)
		}

		raw, err := g.sendRaw(ctx, p)
		if err != nil {
			return nil, err
		}

		resp, err := core.ParseModelResponse(raw)
		if err == nil {
			return resp, nil
		}
		if !core.IsSchemaInvalid(err) {
			return nil, err
		}

		lastSchemaErr = err
		g.logger.Warn("reply failed validation",
			"provider", g.provider.Name(),
			"attempt", attempt+1,
			"error", err,
		)
	}

	return nil, core.ErrSchema(fmt.Sprintf("reply still invalid after %d attempts", g.schemaRetries+1)).
		WithCause(lastSchemaErr)
}

// SendText issues a rate-limited, retried call and returns the raw reply
// with no shape validation. The schema retry budget does not apply.
func (g *Gateway) SendText(ctx context.Context, prompt core.Prompt) (string, error) {
	return g.sendRaw(ctx, prompt)
}

// sendRaw performs the rate-limited provider call under the transport
// retry policy and returns the raw reply text.
func (g *Gateway) sendRaw(ctx context.Context, prompt core.Prompt) (string, error) {
	if prompt.System == "" && prompt.User == "" {
		return "", core.ErrValidation(core.CodeEmptyPrompt, "prompt has no content")
	}

	var raw string

	err := g.policy.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		if err := g.limiter.Acquire(ctx); err != nil {
			return err
		}

		out, err := g.provider.Send(ctx, prompt)
		if err != nil {
			if Classify(err) == ClassRateLimited {
				g.limiter.RecordError()
			}
			return err
		}

		g.limiter.RecordSuccess()
		raw = out
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		g.logger.Warn("provider call failed, retrying",
			"provider", g.provider.Name(),
			"attempt", attempt,
			"class", Classify(err).String(),
			"delay", delay,
			"error", err,
		)
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

// withFormatReminder appends a corrective note after a rejected reply so
// the next attempt returns the required JSON shape.
func withFormatReminder(prompt core.Prompt, cause error) core.Prompt {
	prompt.User += fmt.Sprintf(
		"\n\nYour previous response was rejected: %v.\nReply again with a single JSON object containing exactly these fields: scratchpad, analysis, poc, confidence_score, vulnerability_types, context_code. No prose outside the JSON object.",
		cause,
	)
	return prompt
}
