package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vulnhound/vulnhound/internal/core"
)

func TestAnthropic_SendStructured(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{
				{Type: "text", Text: `{"scratchpad": "1. `},
				{Type: "text", Text: `trace input"}`},
			},
		})
	}))
	defer srv.Close()

	provider := NewAnthropic(Settings{APIKey: "sk-test", BaseURL: srv.URL, Model: "claude-test"})
	out, err := provider.Send(context.Background(), core.Prompt{System: "You are a security researcher.", User: "analyze this"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != `{"scratchpad": "1. trace input"}` {
		t.Errorf("reply = %q, want concatenated text blocks", out)
	}
	if got.Model != "claude-test" || got.System != "You are a security researcher." {
		t.Errorf("request = %+v", got)
	}
	if got.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", got.MaxTokens, defaultMaxTokens)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("messages = %+v, want single user message", got.Messages)
	}
}

func TestAnthropic_RateLimitCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "slow down"}}`))
	}))
	defer srv.Close()

	provider := NewAnthropic(Settings{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := provider.Send(context.Background(), core.Prompt{User: "x"})
	if !core.IsCategory(err, core.ErrCatRateLimit) {
		t.Fatalf("category = %s, want rate_limit (%v)", core.GetCategory(err), err)
	}
	wait, ok := core.RetryAfterOf(err)
	if !ok || wait != 7*time.Second {
		t.Errorf("RetryAfterOf = %v, %v; want 7s hint", wait, ok)
	}
}

func TestAnthropic_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"type": "authentication_error", "message": "invalid x-api-key"}}`))
	}))
	defer srv.Close()

	provider := NewAnthropic(Settings{APIKey: "bad", BaseURL: srv.URL})
	_, err := provider.Send(context.Background(), core.Prompt{User: "x"})
	if !core.IsCategory(err, core.ErrCatAuth) {
		t.Fatalf("category = %s, want auth (%v)", core.GetCategory(err), err)
	}
	if !strings.Contains(err.Error(), "invalid x-api-key") {
		t.Errorf("error %q lacks provider detail", err)
	}
}

func TestAnthropic_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider := NewAnthropic(Settings{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := provider.Send(context.Background(), core.Prompt{User: "x"})
	if !core.IsCategory(err, core.ErrCatTransient) {
		t.Fatalf("category = %s, want transient (%v)", core.GetCategory(err), err)
	}
	if !core.IsRetryable(err) {
		t.Error("5xx error not marked retryable")
	}
}

func TestAnthropic_CancellationPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	provider := NewAnthropic(Settings{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := provider.Send(ctx, core.Prompt{User: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled in chain", err)
	}
}

func TestAnthropic_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %s, want /v1/models", r.URL.Path)
		}
		if r.Header.Get("x-api-key") == "sk-good" {
			_, _ = w.Write([]byte(`{"data": []}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if err := NewAnthropic(Settings{APIKey: "sk-good", BaseURL: srv.URL}).Ping(context.Background()); err != nil {
		t.Errorf("Ping with valid key: %v", err)
	}
	err := NewAnthropic(Settings{APIKey: "sk-bad", BaseURL: srv.URL}).Ping(context.Background())
	if !core.IsCategory(err, core.ErrCatAuth) {
		t.Errorf("Ping with bad key category = %s, want auth", core.GetCategory(err))
	}
}

func TestOpenAI_SendBuildsChatRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "{\"analysis\": \"ok\"}"}}]}`))
	}))
	defer srv.Close()

	provider := NewOpenAI(Settings{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o"})
	out, err := provider.Send(context.Background(), core.Prompt{System: "sys", User: "analyze"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != `{"analysis": "ok"}` {
		t.Errorf("reply = %q", out)
	}

	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want system + user", got["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "sys" {
		t.Errorf("first message = %v", first)
	}
	format, _ := got["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", got["response_format"])
	}
	if got["max_tokens"] != float64(defaultMaxTokens) {
		t.Errorf("max_tokens = %v, want %d", got["max_tokens"], defaultMaxTokens)
	}
}

func TestOpenAI_FreeFormSkipsResponseFormat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "<summary>demo</summary>"}}]}`))
	}))
	defer srv.Close()

	provider := NewOpenAI(Settings{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	out, err := provider.Send(context.Background(), core.Prompt{User: "summarize the README"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != "<summary>demo</summary>" {
		t.Errorf("reply = %q", out)
	}
	if _, ok := got["response_format"]; ok {
		t.Error("free-form call pinned response_format")
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages = %v, want single user message", got["messages"])
	}
}

func TestOpenAI_ReasoningModelUsesCompletionTokens(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "{}"}}]}`))
	}))
	defer srv.Close()

	provider := NewOpenAI(Settings{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "o3-mini"})
	if _, err := provider.Send(context.Background(), core.Prompt{System: "sys", User: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, ok := got["max_tokens"]; ok {
		t.Error("reasoning model request carried max_tokens")
	}
	if got["max_completion_tokens"] != float64(defaultMaxTokens) {
		t.Errorf("max_completion_tokens = %v, want %d", got["max_completion_tokens"], defaultMaxTokens)
	}
}

func TestOpenAI_RateLimitClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limited", "type": "requests"}}`))
	}))
	defer srv.Close()

	provider := NewOpenAI(Settings{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	_, err := provider.Send(context.Background(), core.Prompt{User: "x"})
	if !core.IsCategory(err, core.ErrCatRateLimit) {
		t.Fatalf("category = %s, want rate_limit (%v)", core.GetCategory(err), err)
	}
}

func TestOpenRouter_Defaults(t *testing.T) {
	provider := NewOpenRouter(Settings{APIKey: "sk-or"})
	if provider.Name() != "openrouter" {
		t.Errorf("Name = %s", provider.Name())
	}
	if provider.model != openrouterDefaultModel {
		t.Errorf("model = %s, want %s", provider.model, openrouterDefaultModel)
	}
}

func TestOllama_SendPinsJSONFormatForAnalysis(t *testing.T) {
	var got ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s, want /api/generate", r.URL.Path)
		}
		got = ollamaGenerateRequest{}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response": "{\"poc\": \"curl\"}", "done": true}`))
	}))
	defer srv.Close()

	provider := NewOllama(Settings{BaseURL: srv.URL, Model: "llama3"})
	out, err := provider.Send(context.Background(), core.Prompt{System: "sys", User: "analyze"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != `{"poc": "curl"}` {
		t.Errorf("reply = %q", out)
	}
	if got.Format != "json" || got.Stream {
		t.Errorf("request format=%q stream=%v, want json non-streaming", got.Format, got.Stream)
	}
	if got.Options["num_predict"] != float64(defaultMaxTokens) {
		t.Errorf("num_predict = %v", got.Options["num_predict"])
	}

	// The free-form summary must not force a JSON reply.
	if _, err := provider.Send(context.Background(), core.Prompt{User: "summarize"}); err != nil {
		t.Fatalf("free-form Send: %v", err)
	}
	if got.Format != "" {
		t.Errorf("free-form format = %q, want unset", got.Format)
	}
}

func TestOllama_MissingModelIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "model 'nope' not found"}`))
	}))
	defer srv.Close()

	provider := NewOllama(Settings{BaseURL: srv.URL, Model: "nope"})
	_, err := provider.Send(context.Background(), core.Prompt{User: "x"})
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("category = %s, want validation (%v)", core.GetCategory(err), err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error %q lacks daemon detail", err)
	}
}

func TestRegistry_BuildsLazilyAndCaches(t *testing.T) {
	t.Setenv("VULNHOUND_TEST_KEY", "sk-from-env")
	reg := NewRegistry(map[string]Settings{
		"claude": {APIKeyEnv: "VULNHOUND_TEST_KEY"},
	})

	first, err := reg.Get("claude")
	if err != nil {
		t.Fatalf("Get(claude): %v", err)
	}
	second, err := reg.Get("claude")
	if err != nil {
		t.Fatalf("second Get(claude): %v", err)
	}
	if first != second {
		t.Error("Get rebuilt an already-built provider")
	}
	if first.(*Anthropic).apiKey != "sk-from-env" {
		t.Error("API key not resolved from environment")
	}

	if _, err := reg.Get("ollama"); err != nil {
		t.Errorf("Get(ollama) without settings: %v", err)
	}
}

func TestRegistry_MissingKeyAndUnknownProvider(t *testing.T) {
	reg := NewRegistry(map[string]Settings{
		"openai": {APIKeyEnv: "VULNHOUND_TEST_UNSET_KEY"},
	})

	_, err := reg.Get("openai")
	if !core.IsCategory(err, core.ErrCatAuth) {
		t.Errorf("missing key category = %s, want auth (%v)", core.GetCategory(err), err)
	}

	_, err = reg.Get("grok")
	if !core.IsCategory(err, core.ErrCatConfig) {
		t.Errorf("unknown provider category = %s, want config (%v)", core.GetCategory(err), err)
	}
}

func TestRetryAfterHeader(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
		ok    bool
	}{
		{"7", 7 * time.Second, true},
		{"0", 0, false},
		{"", 0, false},
		{"soon", 0, false},
	}
	for _, tc := range cases {
		h := http.Header{}
		if tc.value != "" {
			h.Set("Retry-After", tc.value)
		}
		got, ok := retryAfterHeader(h)
		if ok != tc.ok || got != tc.want {
			t.Errorf("retryAfterHeader(%q) = %v, %v; want %v, %v", tc.value, got, ok, tc.want, tc.ok)
		}
	}

	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(30*time.Second).UTC().Format(http.TimeFormat))
	got, ok := retryAfterHeader(h)
	if !ok || got <= 0 || got > 30*time.Second {
		t.Errorf("HTTP-date Retry-After = %v, %v; want positive duration within 30s", got, ok)
	}
}
