package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List analysis sessions",
	Long: `List all persisted sessions, newest first.

With --follow the listing refreshes whenever a running scan checkpoints,
so a scan in another terminal can be watched live.`,
	RunE: runSessions,
}

var (
	sessionsJSON   bool
	sessionsFollow bool
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")
	sessionsCmd.Flags().BoolVarP(&sessionsFollow, "follow", "f", false,
		"refresh the listing as checkpoints change")
}

func runSessions(cmd *cobra.Command, _ []string) error {
	d, err := initDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	if !sessionsFollow {
		return printSessions(d)
	}
	return followSessions(cmd, d)
}

func printSessions(d *deps) error {
	summaries, err := d.store.List()
	if err != nil {
		return err
	}

	if sessionsJSON {
		return outputJSON(summaries)
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions. Start one with: vulnhound scan")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATUS\tFILES\tUPDATED\tREPO")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			s.ID, s.Status, s.DoneFiles+s.FailedFiles, s.TotalFiles,
			formatAge(s.UpdatedAt), s.RepoRoot)
	}
	return w.Flush()
}

// followSessions re-renders the listing whenever a checkpoint under the
// state directory changes. Checkpoint writes are atomic renames, so events
// are debounced briefly to coalesce the rename pair.
func followSessions(cmd *cobra.Command, d *deps) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	sessionsDir := filepath.Join(d.cfg.State.Dir, "sessions")
	if err := watcher.Add(sessionsDir); err != nil {
		return fmt.Errorf("watching %s: %w", sessionsDir, err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := printSessions(d); err != nil {
		return err
	}

	var refresh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasSuffix(ev.Name, ".lock") {
				continue
			}
			refresh = time.After(500 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("watch error", "error", err)
		case <-refresh:
			refresh = nil
			fmt.Println()
			if err := printSessions(d); err != nil {
				return err
			}
		}
	}
}

// formatAge renders a timestamp as a short relative age.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	age := time.Since(t)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}
