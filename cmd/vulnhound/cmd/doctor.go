package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vulnhound/vulnhound/internal/adapters/state"
	"github.com/vulnhound/vulnhound/internal/config"
	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/diagnostics"
	"github.com/vulnhound/vulnhound/internal/logging"
	"github.com/vulnhound/vulnhound/internal/service"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, providers, and system readiness",
	Long: `Verify everything a scan needs: a valid configuration, a writable
state directory, reachable providers, and a host with headroom for a
multi-hour run. The configured analysis provider must pass; the others are
reported but optional.`,
	RunE: runDoctor,
}

const pingTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	failed := false

	// Configuration. Doctor keeps going on a broken config so the other
	// sections still report, falling back to defaults.
	cfg, cfgErr := loadDoctorConfig()
	fmt.Println("Configuration")
	if cfgErr != nil {
		failed = true
		fmt.Printf("  ✗ %s\n", indentError(cfgErr))
	} else {
		fmt.Println("  ✓ valid")
	}
	fmt.Println()

	// State directory.
	fmt.Println("State")
	if err := diagnostics.ProbeWritable(cfg.State.Dir); err != nil {
		failed = true
		fmt.Printf("  ✗ %v\n", err)
	} else {
		fmt.Printf("  ✓ %s writable\n", cfg.State.Dir)
	}
	if store, err := state.NewStore(cfg.State.Dir, state.WithLogger(logging.NewNop())); err != nil {
		failed = true
		fmt.Printf("  ✗ session index: %v\n", err)
	} else {
		store.Close()
		fmt.Println("  ✓ session index opens")
	}
	fmt.Println()

	// Providers. Only the configured one is required.
	fmt.Println("Providers")
	if !pingProviders(cmd.Context(), cfg) {
		failed = true
	}
	fmt.Println()

	// System headroom.
	fmt.Println("System")
	printSystemSection(diagnostics.CollectSystem(cfg.State.Dir))

	if failed {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}

// loadDoctorConfig loads config without aborting doctor on failure; a broken
// or missing config still leaves defaults to probe with.
func loadDoctorConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		fallback, _ := config.NewLoader().Load()
		return fallback, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func pingProviders(parent context.Context, cfg *config.Config) bool {
	d := &deps{cfg: cfg, logger: logging.NewNop()}
	registry := newProviderRegistry(d)
	budgets := providerBudgets(cfg)

	requiredOK := true
	for _, name := range config.ProviderNames() {
		required := name == cfg.Analysis.Provider

		ctx, cancel := context.WithTimeout(parent, pingTimeout)
		err := registry.Ping(ctx, name)
		cancel()

		switch {
		case err == nil:
			fmt.Printf("  ✓ %s (%s)\n", name, budgets[name])
		case required:
			requiredOK = false
			fmt.Printf("  ✗ %s (configured): %s\n", name, pingDetail(err))
		default:
			fmt.Printf("  ○ %s: %s\n", name, pingDetail(err))
		}
	}
	return requiredOK
}

// providerBudgets reports each provider's request budget, config overrides
// applied on top of the built-in per-provider defaults.
func providerBudgets(cfg *config.Config) map[string]string {
	limits := service.NewRateLimiterRegistry()
	for _, name := range config.ProviderNames() {
		if pc, ok := cfg.Providers.ByName(name); ok && pc.RPM > 0 {
			limits.SetConfig(name, service.RateLimiterConfigForRPM(pc.RPM))
		}
	}
	budgets := make(map[string]string)
	for _, name := range config.ProviderNames() {
		budgets[name] = fmt.Sprintf("%.0f req/min", limits.Get(name).RefillRate()*60)
	}
	return budgets
}

// pingDetail shortens a ping failure to one line.
func pingDetail(err error) string {
	var derr *core.DomainError
	if errors.As(err, &derr) {
		switch derr.Category {
		case core.ErrCatAuth:
			return derr.Message
		case core.ErrCatTransient:
			return "unreachable"
		}
		return derr.Message
	}
	return err.Error()
}

func printSystemSection(info diagnostics.SystemInfo) {
	if info.CPUModel != "" {
		fmt.Printf("  cpu:  %s (%d cores, %d threads)\n", info.CPUModel, info.CPUCores, info.CPUThreads)
	} else if info.CPUThreads > 0 {
		fmt.Printf("  cpu:  %d cores, %d threads\n", info.CPUCores, info.CPUThreads)
	}
	if info.MemTotalMB > 0 {
		fmt.Printf("  mem:  %.0f MB available of %.0f MB\n", info.MemAvailMB, info.MemTotalMB)
	}
	if info.DiskFreeGB > 0 {
		fmt.Printf("  disk: %.1f GB free under %s\n", info.DiskFreeGB, info.StatePath)
	}
	if len(info.GPUs) > 0 {
		fmt.Printf("  gpu:  %s\n", strings.Join(info.GPUs, ", "))
	}

	warns := info.Warnings()
	if len(warns) == 0 {
		fmt.Println("  ✓ enough headroom for a long scan")
		return
	}
	for _, w := range warns {
		fmt.Printf("  ⚠ %s\n", w)
	}
}

// indentError keeps multi-line validation errors aligned under their icon.
func indentError(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "\n    ")
}
