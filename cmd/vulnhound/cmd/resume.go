package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/service"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume an interrupted analysis session",
	Long: `Continue a session from its last checkpoint. Completed files and
finished investigations are never repeated; a mid-flight deep dive picks up
at its next iteration with the accumulated context intact.

Resuming a finished session is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().BoolVar(&scanNoProgress, "no-progress", false,
		"plain line output instead of the live progress view")
}

func runResume(cmd *cobra.Command, args []string) error {
	d, err := initDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	id := core.SessionID(args[0])
	// Peek at the checkpoint so the progress view starts with the real
	// file count instead of discovering it event by event.
	existing, err := d.store.Load(id)
	if err != nil {
		return err
	}
	if existing.IsTerminal() {
		return finishAnalysis(d, existing, nil)
	}

	// The session continues with the provider and model it started with.
	if existing.Provider != "" {
		d.cfg.Analysis.Provider = existing.Provider
	}
	if existing.Model != "" {
		d.cfg.Analysis.Model = existing.Model
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	invoke := func(o *service.Orchestrator) (*core.AnalysisSession, error) {
		return o.Resume(ctx, id)
	}
	session, err := driveAnalysis(cancel, d, scanOptions{}, invoke, id, len(existing.Files))
	return finishAnalysis(d, session, err)
}
