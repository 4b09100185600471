package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vulnhound/vulnhound/internal/clip"
	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/report"
	"github.com/vulnhound/vulnhound/internal/service"
	"github.com/vulnhound/vulnhound/internal/tui"
)

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Render a session's vulnerability report",
	Long: `Render the findings of a session. Works on finished and in-flight
sessions alike; an interrupted session reports whatever it found so far.

Formats: terminal (default), markdown, json, yaml.

Examples:
  vulnhound report 4f8c21aa-0b7e-4c11-9d3a-d1a2b3c4d5e6
  vulnhound report 4f8c21aa-0b7e-4c11-9d3a-d1a2b3c4d5e6 -o json > report.json
  vulnhound report 4f8c21aa-0b7e-4c11-9d3a-d1a2b3c4d5e6 --copy`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var (
	reportOutput        string
	reportMinConfidence int
	reportCopy          bool
)

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "",
		"output format: terminal, markdown, json, yaml (default from config)")
	reportCmd.Flags().IntVar(&reportMinConfidence, "min-confidence", -1,
		"only report findings at or above this confidence (0-10)")
	reportCmd.Flags().BoolVar(&reportCopy, "copy", false,
		"copy the markdown report to the clipboard")
}

func runReport(cmd *cobra.Command, args []string) error {
	d, err := initDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	session, err := d.store.Load(core.SessionID(args[0]))
	if err != nil {
		return err
	}

	minConfidence := d.cfg.Report.MinConfidence
	if cmd.Flags().Changed("min-confidence") {
		if reportMinConfidence < 0 || reportMinConfidence > 10 {
			return core.ErrValidation(core.CodeBadRequest, "min-confidence must be between 0 and 10")
		}
		minConfidence = reportMinConfidence
	}
	rep := service.BuildReport(session, minConfidence)

	name := reportOutput
	if name == "" {
		name = d.cfg.Report.Format
	}
	format, err := report.ParseFormat(name)
	if err != nil {
		return err
	}

	width, _ := tui.TerminalSize()
	opts := report.Options{
		Width: width,
		Color: d.detector().ShouldUseColor(),
	}
	if err := report.Render(os.Stdout, rep, format, opts); err != nil {
		return err
	}

	if reportCopy {
		return copyReport(rep, opts)
	}
	return nil
}

// copyReport puts the markdown rendering on the clipboard, falling back to a
// temp file when no clipboard mechanism is available.
func copyReport(rep *core.Report, opts report.Options) error {
	var buf bytes.Buffer
	if err := report.Render(&buf, rep, report.FormatMarkdown, opts); err != nil {
		return err
	}

	result, err := clip.Copy(buf.String())
	if err != nil {
		return fmt.Errorf("copying report: %w", err)
	}
	switch result.Method {
	case clip.MethodFile:
		fmt.Fprintf(os.Stderr, "no clipboard available; report written to %s\n", result.FilePath)
	case clip.MethodOSC52:
		fmt.Fprintln(os.Stderr, "report copied via terminal escape (OSC 52)")
	default:
		fmt.Fprintln(os.Stderr, "report copied to clipboard")
	}
	return nil
}
