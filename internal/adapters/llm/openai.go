package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vulnhound/vulnhound/internal/core"
)

const (
	openaiDefaultModel     = "chatgpt-4o-latest"
	openrouterBase         = "https://openrouter.ai/api/v1"
	openrouterDefaultModel = "anthropic/claude-3.5-sonnet"
)

// OpenAI drives OpenAI-compatible chat completion endpoints. OpenRouter
// speaks the same protocol, so both providers share this client.
type OpenAI struct {
	client    *openai.Client
	name      string
	model     string
	maxTokens int
}

// NewOpenAI creates the openai provider from settings.
func NewOpenAI(settings Settings) *OpenAI {
	return newCompatible("openai", settings, "", openaiDefaultModel)
}

// NewOpenRouter creates the openrouter provider from settings.
func NewOpenRouter(settings Settings) *OpenAI {
	return newCompatible("openrouter", settings, openrouterBase, openrouterDefaultModel)
}

func newCompatible(name string, settings Settings, defaultBase, defaultModel string) *OpenAI {
	cfg := openai.DefaultConfig(settings.APIKey)
	if base := settings.baseURL(defaultBase); base != "" {
		cfg.BaseURL = strings.TrimSuffix(base, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: settings.timeout()}
	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		name:      name,
		model:     settings.model(defaultModel),
		maxTokens: settings.maxTokens(),
	}
}

// Name implements core.Provider.
func (o *OpenAI) Name() string { return o.name }

// Send performs one completion call and returns the raw reply text.
// Analysis calls always carry a system prompt and must reply in JSON; the
// free-form project summary does not, so it skips the response format pin.
func (o *OpenAI) Send(ctx context.Context, prompt core.Prompt) (string, error) {
	var messages []openai.ChatCompletionMessage
	if prompt.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.User,
	})

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	}
	if prompt.System != "" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	// Reasoning models reject max_tokens in favor of max_completion_tokens.
	if isReasoningModel(o.model) {
		req.MaxCompletionTokens = o.maxTokens
	} else {
		req.MaxTokens = o.maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", o.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", core.ErrTransient(core.CodeProviderFailed, fmt.Sprintf("%s returned no choices", o.name))
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping verifies the API is reachable and the key is accepted.
func (o *OpenAI) Ping(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return o.classify(ctx, err)
	}
	return nil
}

func (o *OpenAI) classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		detail := apiErr.Message
		return classifyStatus(o.name, apiErr.HTTPStatusCode, nil, detail)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return classifyStatus(o.name, reqErr.HTTPStatusCode, nil, "")
	}
	return classifyTransport(ctx, o.name, err)
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

var _ core.Provider = (*OpenAI)(nil)
