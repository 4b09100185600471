package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "VULNHOUND",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "VULNHOUND",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (VULNHOUND_*)
// 3. Project config (.vulnhound.yaml in current directory)
// 4. User config (~/.config/vulnhound/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	// Set defaults first
	l.setDefaults()

	// Configure environment variable reading
	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// Config file setup. An explicit file must exist; otherwise the first
	// discovered candidate wins and absence just means defaults.
	file := l.configFile
	if file == "" {
		file = discoverConfigFile()
	}
	if file != "" {
		l.v.SetConfigFile(file)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile returns the first config file present: the project
// .vulnhound.yaml, then the per-user config. Empty when neither exists.
func discoverConfigFile() string {
	candidates := []string{ProjectConfigName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "vulnhound", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Scan defaults
	l.v.SetDefault("scan.extensions", []string{".py"})
	l.v.SetDefault("scan.exclude", []string{"/setup.py", "/test", "/example", "/docs", "/site-packages", ".venv", "virtualenv", "/dist"})
	l.v.SetDefault("scan.network_only", true)

	// Analysis defaults
	l.v.SetDefault("analysis.provider", "claude")
	l.v.SetDefault("analysis.model", "")
	l.v.SetDefault("analysis.max_iterations", 7)
	l.v.SetDefault("analysis.schema_retries", 2)
	l.v.SetDefault("analysis.workers", 1)

	// Retry defaults
	l.v.SetDefault("retry.max_attempts", 3)
	l.v.SetDefault("retry.base_delay", "1s")
	l.v.SetDefault("retry.max_delay", "60s")

	// Provider defaults
	l.v.SetDefault("providers.claude.model", "claude-3-5-sonnet-latest")
	l.v.SetDefault("providers.claude.base_url", "https://api.anthropic.com")
	l.v.SetDefault("providers.claude.api_key_env", "ANTHROPIC_API_KEY")
	l.v.SetDefault("providers.claude.rpm", 50)
	l.v.SetDefault("providers.claude.max_tokens", 4096)
	l.v.SetDefault("providers.claude.timeout", "120s")
	l.v.SetDefault("providers.openai.model", "chatgpt-4o-latest")
	l.v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	l.v.SetDefault("providers.openai.api_key_env", "OPENAI_API_KEY")
	l.v.SetDefault("providers.openai.rpm", 60)
	l.v.SetDefault("providers.openai.max_tokens", 4096)
	l.v.SetDefault("providers.openai.timeout", "120s")
	l.v.SetDefault("providers.openrouter.model", "anthropic/claude-3.5-sonnet")
	l.v.SetDefault("providers.openrouter.base_url", "https://openrouter.ai/api/v1")
	l.v.SetDefault("providers.openrouter.api_key_env", "OPENROUTER_API_KEY")
	l.v.SetDefault("providers.openrouter.rpm", 30)
	l.v.SetDefault("providers.openrouter.max_tokens", 4096)
	l.v.SetDefault("providers.openrouter.timeout", "120s")
	l.v.SetDefault("providers.ollama.model", "llama3")
	l.v.SetDefault("providers.ollama.base_url", "http://localhost:11434")
	l.v.SetDefault("providers.ollama.api_key_env", "")
	l.v.SetDefault("providers.ollama.rpm", 100)
	l.v.SetDefault("providers.ollama.max_tokens", 4096)
	l.v.SetDefault("providers.ollama.timeout", "300s")

	// State defaults (unified under .vulnhound/)
	l.v.SetDefault("state.dir", ".vulnhound")
	l.v.SetDefault("state.lock_ttl", "1h")
	l.v.SetDefault("state.cleanup_days", 30)

	// Report defaults
	l.v.SetDefault("report.min_confidence", 1)
	l.v.SetDefault("report.format", "terminal")

	// Server defaults
	l.v.SetDefault("server.addr", "127.0.0.1:8741")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}
