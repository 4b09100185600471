package llm

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/logging"
)

// Settings configures one provider. Zero values fall back to the provider's
// defaults; the API key is read from the named environment variable when
// the provider is first built.
type Settings struct {
	APIKey    string
	APIKeyEnv string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func (s Settings) baseURL(fallback string) string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return fallback
}

func (s Settings) model(fallback string) string {
	if s.Model != "" {
		return s.Model
	}
	return fallback
}

func (s Settings) maxTokens() int {
	if s.MaxTokens > 0 {
		return s.MaxTokens
	}
	return defaultMaxTokens
}

func (s Settings) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return defaultTimeout
}

// Registry builds providers lazily from per-provider settings and caches
// them. The provider for a session is fixed at session start; the registry
// only resolves the name once.
type Registry struct {
	mu       sync.Mutex
	settings map[string]Settings
	built    map[string]core.Provider
	logger   *logging.Logger
}

// RegistryOption configures the registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *logging.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry over per-provider settings, keyed by
// provider name (claude, openai, openrouter, ollama). Providers without an
// entry still resolve with all-default settings.
func NewRegistry(settings map[string]Settings, opts ...RegistryOption) *Registry {
	r := &Registry{
		settings: settings,
		built:    make(map[string]core.Provider),
		logger:   logging.NewNop(),
	}
	if r.settings == nil {
		r.settings = make(map[string]Settings)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns a provider by name, building it on first use.
func (r *Registry) Get(name string) (core.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.built[name]; ok {
		return p, nil
	}

	settings := r.settings[name]
	if err := resolveAPIKey(name, &settings); err != nil {
		return nil, err
	}

	var provider core.Provider
	switch name {
	case "claude":
		provider = NewAnthropic(settings)
	case "openai":
		provider = NewOpenAI(settings)
	case "openrouter":
		provider = NewOpenRouter(settings)
	case "ollama":
		provider = NewOllama(settings)
	default:
		return nil, core.ErrConfig(core.CodeProviderNotFound, fmt.Sprintf("unknown provider %q", name))
	}

	r.logger.Debug("provider initialized", "provider", name)
	r.built[name] = provider
	return provider, nil
}

// List returns the known provider names, sorted.
func (r *Registry) List() []string {
	names := []string{"claude", "openai", "openrouter", "ollama"}
	sort.Strings(names)
	return names
}

// Ping checks whether a provider is reachable and credentialed.
func (r *Registry) Ping(ctx context.Context, name string) error {
	provider, err := r.Get(name)
	if err != nil {
		return err
	}
	return provider.Ping(ctx)
}

// resolveAPIKey fills in the key from the environment for providers that
// need one. Ollama runs without credentials.
func resolveAPIKey(name string, settings *Settings) error {
	if name == "ollama" || settings.APIKey != "" {
		return nil
	}
	env := settings.APIKeyEnv
	if env == "" {
		env = defaultKeyEnv(name)
	}
	if env == "" {
		return nil
	}
	settings.APIKey = os.Getenv(env)
	if settings.APIKey == "" {
		return core.ErrAuth(fmt.Sprintf("%s: environment variable %s is not set", name, env))
	}
	return nil
}

func defaultKeyEnv(name string) string {
	switch name {
	case "claude":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "openrouter":
		return "OPENROUTER_API_KEY"
	}
	return ""
}

var _ core.ProviderRegistry = (*Registry)(nil)
