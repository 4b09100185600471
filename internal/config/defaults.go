package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ProjectConfigName is the per-project config file probed in the working
// directory before the per-user config.
const ProjectConfigName = ".vulnhound.yaml"

// DefaultConfigYAML contains the default configuration YAML content.
// It is written by `vulnhound init` so projects start from a documented file.
const DefaultConfigYAML = `# VulnHound Configuration
#
# Values not specified here use sensible defaults.

# Analysis engine
analysis:
  # Provider used for the whole session: claude | openai | openrouter | ollama
  provider: claude
  # Override the provider's default model (empty = provider default)
  model: ""
  # Ceiling on secondary analysis rounds per vulnerability class
  max_iterations: 7
  # Extra attempts when a response fails schema validation
  schema_retries: 2
  # Concurrent file analyses (1 = sequential, deterministic order)
  workers: 1

# Repository scanning
scan:
  extensions: [".py"]
  exclude: ["/setup.py", "/test", "/example", "/docs", "/site-packages", ".venv", "virtualenv", "/dist"]
  # Only analyze files that look network-facing (routes, handlers, sockets)
  network_only: true

# Provider call retry policy
retry:
  max_attempts: 3
  base_delay: 1s
  max_delay: 60s

# Per-provider settings. API keys are read from the named environment
# variable, never from this file.
providers:
  claude:
    model: claude-3-5-sonnet-latest
    api_key_env: ANTHROPIC_API_KEY
    rpm: 50
  openai:
    model: chatgpt-4o-latest
    api_key_env: OPENAI_API_KEY
    rpm: 60
  openrouter:
    model: anthropic/claude-3.5-sonnet
    api_key_env: OPENROUTER_API_KEY
    rpm: 30
  ollama:
    base_url: http://localhost:11434
    model: llama3
    rpm: 100

# Session persistence. Checkpoints live in <dir>/sessions, the query
# index in <dir>/index.db.
state:
  dir: .vulnhound
  cleanup_days: 30
`

// UserConfigPath returns the per-user configuration path.
func UserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vulnhound", "config.yaml"), nil
}

// EnsureConfigFile ensures a configuration file exists at path, creating
// it from DefaultConfigYAML when missing. Existing files are left alone.
func EnsureConfigFile(path string) (created bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		return false, nil
	} else if !os.IsNotExist(statErr) {
		return false, fmt.Errorf("checking config: %w", statErr)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return false, fmt.Errorf("creating config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(DefaultConfigYAML), 0o600); err != nil {
		return false, fmt.Errorf("creating config: %w", err)
	}

	return true, nil
}
