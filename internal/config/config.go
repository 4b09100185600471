package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Providers ProvidersConfig `mapstructure:"providers"`
	State     StateConfig     `mapstructure:"state"`
	Report    ReportConfig    `mapstructure:"report"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ScanConfig configures repository file discovery.
type ScanConfig struct {
	Extensions  []string `mapstructure:"extensions"`
	Exclude     []string `mapstructure:"exclude"`
	NetworkOnly bool     `mapstructure:"network_only"`
}

// AnalysisConfig configures the analysis engine.
type AnalysisConfig struct {
	Provider      string `mapstructure:"provider"`
	Model         string `mapstructure:"model"`
	MaxIterations int    `mapstructure:"max_iterations"`
	SchemaRetries int    `mapstructure:"schema_retries"`
	Workers       int    `mapstructure:"workers"`
}

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	MaxAttempts int    `mapstructure:"max_attempts"`
	BaseDelay   string `mapstructure:"base_delay"`
	MaxDelay    string `mapstructure:"max_delay"`
}

// BaseDelayDuration returns the parsed base delay.
// The validator guarantees the string parses; on a zero value the
// caller gets the documented default.
func (c *RetryConfig) BaseDelayDuration() time.Duration {
	if d, err := time.ParseDuration(c.BaseDelay); err == nil && d > 0 {
		return d
	}
	return time.Second
}

// MaxDelayDuration returns the parsed delay ceiling.
func (c *RetryConfig) MaxDelayDuration() time.Duration {
	if d, err := time.ParseDuration(c.MaxDelay); err == nil && d > 0 {
		return d
	}
	return 60 * time.Second
}

// ProvidersConfig configures available LLM providers.
type ProvidersConfig struct {
	Claude     ProviderConfig `mapstructure:"claude"`
	OpenAI     ProviderConfig `mapstructure:"openai"`
	OpenRouter ProviderConfig `mapstructure:"openrouter"`
	Ollama     ProviderConfig `mapstructure:"ollama"`
}

// ByName returns the configuration for a named provider.
func (c *ProvidersConfig) ByName(name string) (*ProviderConfig, bool) {
	switch name {
	case "claude":
		return &c.Claude, true
	case "openai":
		return &c.OpenAI, true
	case "openrouter":
		return &c.OpenRouter, true
	case "ollama":
		return &c.Ollama, true
	}
	return nil, false
}

// ProviderNames lists the providers the engine knows how to drive.
func ProviderNames() []string {
	return []string{"claude", "openai", "openrouter", "ollama"}
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	RPM       int    `mapstructure:"rpm"`
	MaxTokens int    `mapstructure:"max_tokens"`
	Timeout   string `mapstructure:"timeout"`
}

// TimeoutDuration returns the parsed request timeout.
func (c *ProviderConfig) TimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return 120 * time.Second
}

// StateConfig configures session persistence. Dir is the state root; the
// store lays out sessions/ and index.db beneath it.
type StateConfig struct {
	Dir         string `mapstructure:"dir"`
	LockTTL     string `mapstructure:"lock_ttl"`
	CleanupDays int    `mapstructure:"cleanup_days"`
}

// LockTTLDuration returns the parsed lock expiry.
func (c *StateConfig) LockTTLDuration() time.Duration {
	if d, err := time.ParseDuration(c.LockTTL); err == nil && d > 0 {
		return d
	}
	return time.Hour
}

// ReportConfig configures report generation.
type ReportConfig struct {
	MinConfidence int    `mapstructure:"min_confidence"`
	Format        string `mapstructure:"format"`
}

// ServerConfig configures the status API server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}
