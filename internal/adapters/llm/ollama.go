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
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3"
)

// Ollama calls a local Ollama daemon's generate API.
type Ollama struct {
	httpClient *http.Client
	baseURL    string
	model      string
	maxTokens  int
}

// NewOllama creates the ollama provider from settings. No API key is
// involved; the daemon is assumed local or otherwise trusted.
func NewOllama(settings Settings) *Ollama {
	return &Ollama{
		httpClient: &http.Client{Timeout: settings.timeout()},
		baseURL:    strings.TrimSuffix(settings.baseURL(ollamaDefaultBase), "/"),
		model:      settings.model(ollamaDefaultModel),
		maxTokens:  settings.maxTokens(),
	}
}

// Name implements core.Provider.
func (o *Ollama) Name() string { return "ollama" }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Send performs one completion call and returns the raw reply text.
// Analysis calls always carry a system prompt and must reply in JSON, so
// they pin format=json; the free-form project summary does not.
func (o *Ollama) Send(ctx context.Context, prompt core.Prompt) (string, error) {
	payload := ollamaGenerateRequest{
		Model:   o.model,
		System:  prompt.System,
		Prompt:  prompt.User,
		Stream:  false,
		Options: map[string]any{"num_predict": o.maxTokens},
	}
	if prompt.System != "" {
		payload.Format = "json"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(ctx, o.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(ctx, o.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(o.Name(), resp.StatusCode, resp.Header, apiErrorDetail(respBody))
	}

	var parsed ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", core.ErrTransient(core.CodeProviderFailed, "ollama reply is not valid JSON").WithCause(err)
	}
	if parsed.Response == "" {
		return "", core.ErrTransient(core.CodeProviderFailed, "ollama returned no text")
	}
	return parsed.Response, nil
}

// Ping verifies the daemon is reachable.
func (o *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, o.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return classifyStatus(o.Name(), resp.StatusCode, resp.Header, apiErrorDetail(body))
	}
	return nil
}

var _ core.Provider = (*Ollama)(nil)
