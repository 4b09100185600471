package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateScan(&cfg.Scan)
	v.validateAnalysis(&cfg.Analysis)
	v.validateRetry(&cfg.Retry)
	v.validateProviders(&cfg.Providers)
	v.validateState(&cfg.State)
	v.validateReport(&cfg.Report)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateScan(cfg *ScanConfig) {
	if len(cfg.Extensions) == 0 {
		v.addError("scan.extensions", cfg.Extensions, "at least one extension required")
	}
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			v.addError("scan.extensions", ext, "extensions must start with a dot")
		}
	}
}

func (v *Validator) validateAnalysis(cfg *AnalysisConfig) {
	valid := map[string]bool{}
	for _, name := range ProviderNames() {
		valid[name] = true
	}
	if !valid[cfg.Provider] {
		v.addError("analysis.provider", cfg.Provider, "must be one of: "+strings.Join(ProviderNames(), ", "))
	}

	if cfg.MaxIterations < 1 || cfg.MaxIterations > 50 {
		v.addError("analysis.max_iterations", cfg.MaxIterations, "must be between 1 and 50")
	}

	if cfg.SchemaRetries < 0 || cfg.SchemaRetries > 10 {
		v.addError("analysis.schema_retries", cfg.SchemaRetries, "must be between 0 and 10")
	}

	if cfg.Workers < 1 || cfg.Workers > 64 {
		v.addError("analysis.workers", cfg.Workers, "must be between 1 and 64")
	}
}

func (v *Validator) validateRetry(cfg *RetryConfig) {
	if cfg.MaxAttempts < 0 || cfg.MaxAttempts > 10 {
		v.addError("retry.max_attempts", cfg.MaxAttempts, "must be between 0 and 10")
	}

	base, baseErr := time.ParseDuration(cfg.BaseDelay)
	if baseErr != nil {
		v.addError("retry.base_delay", cfg.BaseDelay, "invalid duration format")
	}

	max, maxErr := time.ParseDuration(cfg.MaxDelay)
	if maxErr != nil {
		v.addError("retry.max_delay", cfg.MaxDelay, "invalid duration format")
	}

	if baseErr == nil && maxErr == nil && max < base {
		v.addError("retry.max_delay", cfg.MaxDelay, "must be >= retry.base_delay")
	}
}

func (v *Validator) validateProviders(cfg *ProvidersConfig) {
	for _, name := range ProviderNames() {
		pc, _ := cfg.ByName(name)
		v.validateProvider("providers."+name, pc)
	}
}

func (v *Validator) validateProvider(prefix string, cfg *ProviderConfig) {
	if cfg.Model == "" {
		v.addError(prefix+".model", cfg.Model, "model required")
	}

	if cfg.RPM < 1 || cfg.RPM > 10000 {
		v.addError(prefix+".rpm", cfg.RPM, "must be between 1 and 10000")
	}

	if cfg.MaxTokens < 0 || cfg.MaxTokens > 200000 {
		v.addError(prefix+".max_tokens", cfg.MaxTokens, "must be between 0 and 200000")
	}

	if cfg.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Timeout); err != nil {
			v.addError(prefix+".timeout", cfg.Timeout, "invalid duration format")
		}
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	if cfg.Dir == "" {
		v.addError("state.dir", cfg.Dir, "directory required")
	}

	if _, err := time.ParseDuration(cfg.LockTTL); err != nil {
		v.addError("state.lock_ttl", cfg.LockTTL, "invalid duration format")
	}

	if cfg.CleanupDays < 1 {
		v.addError("state.cleanup_days", cfg.CleanupDays, "must be positive")
	}
}

func (v *Validator) validateReport(cfg *ReportConfig) {
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 10 {
		v.addError("report.min_confidence", cfg.MinConfidence, "must be between 0 and 10")
	}

	validFormats := map[string]bool{
		"terminal": true, "json": true, "yaml": true, "markdown": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("report.format", cfg.Format, "must be one of: terminal, json, yaml, markdown")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Addr == "" {
		v.addError("server.addr", cfg.Addr, "listen address required")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
