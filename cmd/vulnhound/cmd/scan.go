package cmd

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/service"
	"github.com/vulnhound/vulnhound/internal/tui"
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Analyze a repository for vulnerabilities",
	Long: `Scan a repository (default: current directory) for remotely exploitable
vulnerabilities. Every candidate file gets an initial analysis; flagged
vulnerability classes get iterative deep dives with symbol context pulled
from the rest of the repository.

The session checkpoints after every step. An interrupted scan is resumed
with 'vulnhound resume <session-id>'.

Examples:
  # Scan the current directory
  vulnhound scan

  # Scan one subtree of a larger repository
  vulnhound scan ~/code/webapp --analyze app/api

  # Use a local model and four concurrent files
  vulnhound scan --provider ollama --workers 4`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

var (
	scanAnalyze       string
	scanProvider      string
	scanModel         string
	scanWorkers       int
	scanMaxIterations int
	scanNoProgress    bool
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanAnalyze, "analyze", "",
		"restrict analysis to files under this path prefix")
	scanCmd.Flags().StringVar(&scanProvider, "provider", "",
		"LLM provider (claude, openai, openrouter, ollama)")
	scanCmd.Flags().StringVar(&scanModel, "model", "",
		"override the provider's default model")
	scanCmd.Flags().IntVar(&scanWorkers, "workers", 0,
		"concurrent file analyses (default from config)")
	scanCmd.Flags().IntVar(&scanMaxIterations, "max-iterations", 0,
		"deep dive iteration ceiling per vulnerability class")
	scanCmd.Flags().BoolVar(&scanNoProgress, "no-progress", false,
		"plain line output instead of the live progress view")
}

func runScan(cmd *cobra.Command, args []string) error {
	d, err := initDeps()
	if err != nil {
		return err
	}
	defer d.Close()
	applyScanFlags(cmd, d)

	repoRoot := "."
	if len(args) == 1 {
		repoRoot = args[0]
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	run := func(o *service.Orchestrator) (*core.AnalysisSession, error) {
		return o.Run(ctx, repoRoot)
	}
	session, err := driveAnalysis(cancel, d, scanOptions{analyzePath: scanAnalyze}, run, "", 0)
	return finishAnalysis(d, session, err)
}

// applyScanFlags overlays explicitly set scan flags onto the loaded config.
// Unset flags leave config and file values alone.
func applyScanFlags(cmd *cobra.Command, d *deps) {
	if cmd.Flags().Changed("provider") {
		d.cfg.Analysis.Provider = scanProvider
	}
	if cmd.Flags().Changed("model") {
		d.cfg.Analysis.Model = scanModel
	}
	if cmd.Flags().Changed("workers") {
		d.cfg.Analysis.Workers = scanWorkers
	}
	if cmd.Flags().Changed("max-iterations") {
		d.cfg.Analysis.MaxIterations = scanMaxIterations
	}
}

// driveAnalysis runs an orchestrator invocation under either the live
// progress view or plain line output, and returns the resulting session.
// sessionID and total seed the progress view when resuming; a fresh scan
// fills them in from the first event.
func driveAnalysis(
	cancel context.CancelFunc,
	d *deps,
	opts scanOptions,
	invoke func(*service.Orchestrator) (*core.AnalysisSession, error),
	sessionID core.SessionID,
	total int,
) (*core.AnalysisSession, error) {
	mode := d.detector().Detect()
	if scanNoProgress || mode != tui.ModeProgress {
		opts.progress = plainProgress(mode)
		orch, err := buildOrchestrator(d, opts)
		if err != nil {
			return nil, err
		}
		return invoke(orch)
	}

	program := tea.NewProgram(tui.NewProgress(sessionID, total, cancel))
	opts.progress = func(ev core.ProgressEvent) {
		program.Send(tui.EventMsg{Event: ev})
	}
	orch, err := buildOrchestrator(d, opts)
	if err != nil {
		return nil, err
	}

	var (
		session *core.AnalysisSession
		runErr  error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		session, runErr = invoke(orch)
		program.Send(tui.DoneMsg{Err: runErr})
	}()

	_, uiErr := program.Run()
	if uiErr != nil {
		// Without a working terminal UI the scan cannot be watched or
		// canceled; stop it at the next checkpoint.
		cancel()
	}
	// A user quit cancels the context inside the model; either way the
	// orchestrator checkpoints and returns before session is read.
	<-done
	if uiErr != nil {
		return session, uiErr
	}
	return session, runErr
}

// plainProgress prints one line per file outcome. Quiet mode drops it.
func plainProgress(mode tui.OutputMode) core.ProgressFunc {
	if mode == tui.ModeQuiet {
		return nil
	}
	return func(ev core.ProgressEvent) {
		switch ev.Kind {
		case core.ProgressFileDone:
			fmt.Printf("[%d/%d] done   %s\n", ev.FilesDone, ev.FilesAll, ev.File)
		case core.ProgressFileFailed:
			fmt.Printf("[%d/%d] failed %s: %s\n", ev.FilesDone, ev.FilesAll, ev.File, ev.Message)
		}
	}
}

// finishAnalysis reports the session outcome. Exit status is zero only when
// the session completed; an interrupted session points at resume.
func finishAnalysis(d *deps, session *core.AnalysisSession, err error) error {
	if session == nil {
		return err
	}

	switch session.Status {
	case core.SessionStatusCompleted:
		printScanSummary(d, session)
		return nil
	case core.SessionStatusRunning:
		// Still running on disk: the process stopped before the session
		// finished, so the checkpoint is resumable.
		fmt.Fprintf(os.Stderr, "scan interrupted; resume with: vulnhound resume %s\n", session.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("session %s interrupted", session.ID)
	default:
		if err != nil {
			return err
		}
		return fmt.Errorf("session %s ended in state %s", session.ID, session.Status)
	}
}

func printScanSummary(d *deps, session *core.AnalysisSession) {
	rep := service.BuildReport(session, d.cfg.Report.MinConfidence)
	if !quiet {
		fmt.Printf("scan complete: %d/%d files, %d findings",
			rep.FilesDone, rep.FilesTotal, len(rep.Findings))
		if len(rep.Failures) > 0 {
			fmt.Printf(", %d failures", len(rep.Failures))
		}
		fmt.Println()
		fmt.Printf("full report: vulnhound report %s\n", session.ID)
	} else {
		fmt.Println(session.ID)
	}
}
