package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vulnhound/vulnhound/internal/core"
)

var statsCmd = &cobra.Command{
	Use:   "stats [session-id]",
	Short: "Show analysis statistics",
	Long: `Show statistics for one session, or aggregates across all sessions
when no session is named: sessions by status, files analyzed, cache hits,
and findings by vulnerability type.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStats,
}

var statsJSON bool

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
}

func runStats(_ *cobra.Command, args []string) error {
	d, err := initDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	if len(args) == 1 {
		return printSessionStats(d, core.SessionID(args[0]))
	}
	return printGlobalStats(d)
}

func printSessionStats(d *deps, id core.SessionID) error {
	stats, err := d.store.Stats(id)
	if err != nil {
		return err
	}
	if statsJSON {
		return outputJSON(stats)
	}

	fmt.Printf("Session: %s\n", stats.SessionID)
	fmt.Printf("Status:  %s\n", stats.Status)
	fmt.Printf("Files:   %d total, %d done, %d failed, %d skipped\n",
		stats.FilesTotal, stats.FilesDone, stats.FilesFailed, stats.FilesSkipped)
	fmt.Printf("Errors:  %d\n", stats.Errors)
	printFindingCounts(stats.FindingsByType)
	return nil
}

func printGlobalStats(d *deps) error {
	stats, err := d.store.GlobalStats()
	if err != nil {
		return err
	}
	if statsJSON {
		return outputJSON(stats)
	}
	if stats.Sessions == 0 {
		fmt.Println("No sessions. Start one with: vulnhound scan")
		return nil
	}

	fmt.Printf("Sessions: %d", stats.Sessions)
	if len(stats.SessionsByStatus) > 0 {
		statuses := make([]string, 0, len(stats.SessionsByStatus))
		for status := range stats.SessionsByStatus {
			statuses = append(statuses, string(status))
		}
		sort.Strings(statuses)
		fmt.Print(" (")
		for i, status := range statuses {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Printf("%d %s", stats.SessionsByStatus[core.SessionStatus(status)], status)
		}
		fmt.Print(")")
	}
	fmt.Println()

	fmt.Printf("Files analyzed: %d\n", stats.FilesAnalyzed)
	if stats.CachedResults > 0 || stats.CacheHits > 0 {
		fmt.Printf("Cache: %d stored results, %d hits\n", stats.CachedResults, stats.CacheHits)
	}
	printFindingCounts(stats.FindingsByType)
	return nil
}

func printFindingCounts(byType map[core.VulnType]int) {
	if len(byType) == 0 {
		return
	}
	fmt.Println("\nFindings by type:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, vt := range core.AllVulnTypes {
		if n, ok := byType[vt]; ok && n > 0 {
			fmt.Fprintf(w, "  %s\t%d\n", vt, n)
		}
	}
	w.Flush()
}
