package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vulnhound/vulnhound/internal/core"
)

const validReply = `{
	"scratchpad": "traced user input to the sink",
	"analysis": "command built from unsanitized request parameter",
	"poc": "curl 'http://host/run?cmd=id'",
	"confidence_score": 8,
	"vulnerability_types": ["RCE"],
	"context_code": [{"name": "run_cmd", "reason": "sink", "code_line": "subprocess.call(cmd)"}]
}`

// fakeProvider replays a scripted sequence of replies and errors.
type fakeProvider struct {
	name    string
	replies []string
	errs    []error
	calls   int
	prompts []core.Prompt
}

func (f *fakeProvider) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeProvider) Send(ctx context.Context, prompt core.Prompt) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return validReply, nil
}

func (f *fakeProvider) Ping(ctx context.Context) error { return nil }

// fastGateway builds a gateway whose waits are negligible in tests.
func fastGateway(p core.Provider, opts ...GatewayOption) *Gateway {
	base := []GatewayOption{
		WithGatewayLimiter(NewAdaptiveRateLimiter(RateLimiterConfig{MaxTokens: 100, RefillRate: 1000})),
		WithGatewayRetryPolicy(NewRetryPolicy(WithBaseDelay(time.Millisecond), WithJitter(0))),
	}
	return NewGateway(p, append(base, opts...)...)
}

func TestGateway_Send_Success(t *testing.T) {
	provider := &fakeProvider{replies: []string{validReply}}
	gw := fastGateway(provider)

	resp, err := gw.Send(context.Background(), core.Prompt{User: "analyze"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.ConfidenceScore != 8 {
		t.Errorf("ConfidenceScore = %d, want 8", resp.ConfidenceScore)
	}
	if len(resp.VulnTypes) != 1 || resp.VulnTypes[0] != core.VulnRCE {
		t.Errorf("VulnTypes = %v, want [RCE]", resp.VulnTypes)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestGateway_Send_RetriesTransient(t *testing.T) {
	provider := &fakeProvider{
		errs:    []error{core.ErrTimeout("deadline"), nil},
		replies: []string{"", validReply},
	}
	gw := fastGateway(provider)

	resp, err := gw.Send(context.Background(), core.Prompt{User: "analyze"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp == nil {
		t.Fatal("Send() returned nil response")
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2 (one retry)", provider.calls)
	}
}

func TestGateway_Send_FatalNotRetried(t *testing.T) {
	provider := &fakeProvider{
		errs: []error{core.ErrAuth("invalid api key")},
	}
	gw := fastGateway(provider)

	_, err := gw.Send(context.Background(), core.Prompt{User: "analyze"})
	if err == nil {
		t.Fatal("Send() error = nil, want auth error")
	}
	if !core.IsCategory(err, core.ErrCatAuth) {
		t.Errorf("error category = %v, want auth", core.GetCategory(err))
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (no retry)", provider.calls)
	}
}

func TestGateway_Send_SchemaRetryRecovers(t *testing.T) {
	provider := &fakeProvider{
		replies: []string{"not json at all", validReply},
	}
	gw := fastGateway(provider, WithSchemaRetries(2))

	resp, err := gw.Send(context.Background(), core.Prompt{User: "analyze"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp == nil {
		t.Fatal("Send() returned nil response")
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}

	// The second prompt carries a corrective note, the first does not.
	if strings.Contains(provider.prompts[0].User, "rejected") {
		t.Error("first prompt should not carry a format reminder")
	}
	if !strings.Contains(provider.prompts[1].User, "rejected") {
		t.Error("retry prompt should carry a format reminder")
	}
}

func TestGateway_Send_SchemaRetryExhausted(t *testing.T) {
	provider := &fakeProvider{
		replies: []string{"junk", "junk", "junk", "junk"},
	}
	gw := fastGateway(provider, WithSchemaRetries(2))

	_, err := gw.Send(context.Background(), core.Prompt{User: "analyze"})
	if err == nil {
		t.Fatal("Send() error = nil, want schema error")
	}
	if !core.IsSchemaInvalid(err) {
		t.Errorf("error = %v, want schema invalid", err)
	}
	// 1 initial + 2 schema retries
	if provider.calls != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls)
	}
}

func TestGateway_SendText_SkipsValidation(t *testing.T) {
	provider := &fakeProvider{replies: []string{"<summary>fastapi app exposing /query</summary>"}}
	gw := fastGateway(provider)

	raw, err := gw.SendText(context.Background(), core.Prompt{User: "summarize"})
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if raw != "<summary>fastapi app exposing /query</summary>" {
		t.Errorf("raw = %q, want the untouched reply", raw)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestGateway_Send_EmptyPromptRejected(t *testing.T) {
	provider := &fakeProvider{}
	gw := fastGateway(provider)

	_, err := gw.Send(context.Background(), core.Prompt{})
	if err == nil {
		t.Fatal("Send() error = nil, want validation error")
	}
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Errorf("error category = %v, want validation", core.GetCategory(err))
	}
	if provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0 for an empty prompt", provider.calls)
	}
}

func TestGateway_Send_OutOfRangeConfidenceIsSchemaInvalid(t *testing.T) {
	bad := strings.Replace(validReply, `"confidence_score": 8`, `"confidence_score": 11`, 1)
	provider := &fakeProvider{replies: []string{bad, bad, bad}}
	gw := fastGateway(provider, WithSchemaRetries(1))

	_, err := gw.Send(context.Background(), core.Prompt{User: "analyze"})
	if !core.IsSchemaInvalid(err) {
		t.Errorf("error = %v, want schema invalid for out-of-range confidence", err)
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}
}

func TestGateway_Send_RetryHintHonored(t *testing.T) {
	hint := 150 * time.Millisecond
	provider := &fakeProvider{
		errs:    []error{core.ErrRateLimit("throttled").WithRetryAfter(hint), nil},
		replies: []string{"", validReply},
	}
	gw := fastGateway(provider)

	start := time.Now()
	_, err := gw.Send(context.Background(), core.Prompt{User: "analyze"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < hint-20*time.Millisecond {
		t.Errorf("elapsed = %v, want >= provider hint %v", elapsed, hint)
	}
}

func TestGateway_Send_RateLimiterGatesCalls(t *testing.T) {
	provider := &fakeProvider{replies: []string{validReply, validReply}}
	gw := NewGateway(provider,
		WithGatewayLimiter(NewAdaptiveRateLimiter(RateLimiterConfig{MaxTokens: 1, RefillRate: 5})),
		WithGatewayRetryPolicy(NewRetryPolicy(WithBaseDelay(time.Millisecond), WithJitter(0))),
	)
	ctx := context.Background()

	start := time.Now()
	if _, err := gw.Send(ctx, core.Prompt{User: "one"}); err != nil {
		t.Fatalf("Send() #1 error = %v", err)
	}
	if _, err := gw.Send(ctx, core.Prompt{User: "two"}); err != nil {
		t.Fatalf("Send() #2 error = %v", err)
	}
	// Second call waits for a token (~200ms at 5 tokens/second)
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("elapsed = %v, want >= ~200ms for token refill", elapsed)
	}
}

func TestGateway_Send_ContextCancelled(t *testing.T) {
	provider := &fakeProvider{}
	// Empty bucket that refills too slowly to matter.
	gw := NewGateway(provider,
		WithGatewayLimiter(NewAdaptiveRateLimiter(RateLimiterConfig{MaxTokens: 1, RefillRate: 0.001})),
	)
	gw.limiter.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := gw.Send(ctx, core.Prompt{User: "analyze"})
	if err == nil {
		t.Fatal("Send() error = nil, want context error")
	}
	if provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0", provider.calls)
	}
}

func TestGateway_ProviderName(t *testing.T) {
	gw := fastGateway(&fakeProvider{name: "claude"})
	if gw.ProviderName() != "claude" {
		t.Errorf("ProviderName() = %q, want %q", gw.ProviderName(), "claude")
	}
}
