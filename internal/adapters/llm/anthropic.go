package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vulnhound/vulnhound/internal/core"
)

const (
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultBase  = "https://api.anthropic.com"
	anthropicDefaultModel = "claude-3-5-sonnet-latest"
)

// Anthropic calls the Anthropic messages API directly over HTTP.
type Anthropic struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
}

// NewAnthropic creates the claude provider from settings.
func NewAnthropic(settings Settings) *Anthropic {
	return &Anthropic{
		httpClient: &http.Client{Timeout: settings.timeout()},
		baseURL:    strings.TrimSuffix(settings.baseURL(anthropicDefaultBase), "/"),
		apiKey:     settings.APIKey,
		model:      settings.model(anthropicDefaultModel),
		maxTokens:  settings.maxTokens(),
	}
}

// Name implements core.Provider.
func (a *Anthropic) Name() string { return "claude" }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Send performs one completion call and returns the raw reply text.
func (a *Anthropic) Send(ctx context.Context, prompt core.Prompt) (string, error) {
	payload := anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    prompt.System,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt.User}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(ctx, a.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(ctx, a.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(a.Name(), resp.StatusCode, resp.Header, apiErrorDetail(respBody))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", core.ErrTransient(core.CodeProviderFailed, "claude reply is not valid JSON").WithCause(err)
	}
	if parsed.Error != nil {
		return "", core.ErrTransient(core.CodeProviderFailed,
			fmt.Sprintf("claude error: %s: %s", parsed.Error.Type, parsed.Error.Message))
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", core.ErrTransient(core.CodeProviderFailed, "claude returned no text content")
	}
	return text.String(), nil
}

// Ping verifies the API is reachable and the key is accepted.
func (a *Anthropic) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return classifyStatus(a.Name(), resp.StatusCode, resp.Header, apiErrorDetail(body))
	}
	return nil
}

// apiErrorDetail extracts a human-readable message from an error body of
// the form {"error": {"message": ...}} or {"error": ...}.
func apiErrorDetail(body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}
	return ""
}

var _ core.Provider = (*Anthropic)(nil)
