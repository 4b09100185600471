package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old analysis sessions",
	Long: `Remove sessions whose checkpoints have not been updated within the
horizon (default from config, 30 days). Cached per-file analysis results are
content-addressed and survive the sessions that produced them.`,
	RunE: runCleanup,
}

var cleanupDays int

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0,
		"prune sessions older than this many days (default from config)")
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	d, err := initDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	days := d.cfg.State.CleanupDays
	if cmd.Flags().Changed("days") {
		days = cleanupDays
	}

	pruned, err := d.store.Cleanup(days)
	if err != nil {
		return err
	}
	if pruned == 0 {
		fmt.Printf("no sessions older than %d days\n", days)
	} else {
		fmt.Printf("pruned %d session(s) older than %d days\n", pruned, days)
	}
	return nil
}
