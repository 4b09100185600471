package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/vulnhound/vulnhound/internal/adapters/llm"
	"github.com/vulnhound/vulnhound/internal/adapters/state"
	"github.com/vulnhound/vulnhound/internal/config"
	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/logging"
	"github.com/vulnhound/vulnhound/internal/prompts"
	"github.com/vulnhound/vulnhound/internal/scan"
	"github.com/vulnhound/vulnhound/internal/service"
	"github.com/vulnhound/vulnhound/internal/symbols"
	"github.com/vulnhound/vulnhound/internal/tui"
)

// deps bundles what every command needs: validated config, logger, and the
// opened state store. Callers must Close it.
type deps struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *state.Store
}

// initDeps loads and validates configuration using the global viper (so
// persistent flag bindings apply), then opens logging and the state store.
func initDeps() (*deps, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	level := cfg.Log.Level
	if quiet && level != "error" {
		level = "warn"
	}
	logger := logging.New(logging.Config{
		Level:  level,
		Format: cfg.Log.Format,
	})

	store, err := state.NewStore(cfg.State.Dir,
		state.WithLockTTL(cfg.State.LockTTLDuration()),
		state.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	return &deps{cfg: cfg, logger: logger, store: store}, nil
}

// Close releases the state store.
func (d *deps) Close() {
	if err := d.store.Close(); err != nil {
		d.logger.Warn("closing state store", "error", err)
	}
}

// detector builds the terminal detector honoring the global flags.
func (d *deps) detector() *tui.Detector {
	det := tui.NewDetector().NoColor(noColor)
	if quiet {
		det = det.ForceMode(tui.ModeQuiet)
	}
	return det
}

// providerSettings maps provider configuration onto adapter settings.
func providerSettings(cfg *config.Config) map[string]llm.Settings {
	settings := make(map[string]llm.Settings, len(config.ProviderNames()))
	for _, name := range config.ProviderNames() {
		pc, ok := cfg.Providers.ByName(name)
		if !ok {
			continue
		}
		settings[name] = llm.Settings{
			APIKeyEnv: pc.APIKeyEnv,
			BaseURL:   pc.BaseURL,
			Model:     pc.Model,
			MaxTokens: pc.MaxTokens,
			Timeout:   pc.TimeoutDuration(),
		}
	}
	return settings
}

// newProviderRegistry builds the registry all commands share.
func newProviderRegistry(d *deps) *llm.Registry {
	return llm.NewRegistry(providerSettings(d.cfg), llm.WithRegistryLogger(d.logger))
}

// scanOptions carries per-run knobs from command flags into assembly.
type scanOptions struct {
	analyzePath string
	progress    core.ProgressFunc
}

// buildOrchestrator assembles the full analysis engine: provider behind the
// gateway, repository scanner, symbol resolver, prompt renderer.
func buildOrchestrator(d *deps, opts scanOptions) (*service.Orchestrator, error) {
	registry := newProviderRegistry(d)
	provider, err := registry.Get(d.cfg.Analysis.Provider)
	if err != nil {
		return nil, err
	}

	policy := service.NewRetryPolicy(
		service.WithMaxAttempts(d.cfg.Retry.MaxAttempts),
		service.WithBaseDelay(d.cfg.Retry.BaseDelayDuration()),
		service.WithMaxDelay(d.cfg.Retry.MaxDelayDuration()),
	)
	gwOpts := []service.GatewayOption{
		service.WithGatewayRetryPolicy(policy),
		service.WithSchemaRetries(d.cfg.Analysis.SchemaRetries),
		service.WithGatewayLogger(d.logger),
	}
	if pc, ok := d.cfg.Providers.ByName(d.cfg.Analysis.Provider); ok && pc.RPM > 0 {
		gwOpts = append(gwOpts, service.WithGatewayLimiter(
			service.NewAdaptiveRateLimiter(service.RateLimiterConfigForRPM(pc.RPM))))
	}
	gateway := service.NewGateway(provider, gwOpts...)

	scanOpts := []scan.Option{
		scan.WithExtensions(d.cfg.Scan.Extensions),
		scan.WithExcludes(d.cfg.Scan.Exclude),
		scan.WithNetworkOnly(d.cfg.Scan.NetworkOnly),
		scan.WithLogger(d.logger),
	}
	if opts.analyzePath != "" {
		scanOpts = append(scanOpts, scan.WithAnalyzePath(opts.analyzePath))
	}
	scanner := scan.NewScanner(scanOpts...)

	resolver := symbols.NewResolver(
		symbols.WithExtensions(d.cfg.Scan.Extensions),
		symbols.WithIgnore(d.cfg.Scan.Exclude),
		symbols.WithLogger(d.logger),
	)

	renderer, err := prompts.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("loading prompt templates: %w", err)
	}

	ocfg := service.OrchestratorConfig{
		Provider:      d.cfg.Analysis.Provider,
		Model:         d.cfg.Analysis.Model,
		MaxIterations: d.cfg.Analysis.MaxIterations,
		Workers:       d.cfg.Analysis.Workers,
	}
	orchOpts := []service.OrchestratorOption{
		service.WithOrchestratorLogger(d.logger),
	}
	if opts.progress != nil {
		orchOpts = append(orchOpts, service.WithProgress(opts.progress))
	}

	return service.NewOrchestrator(ocfg, d.store, gateway, scanner, resolver, renderer, orchOpts...), nil
}

// signalContext derives a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
