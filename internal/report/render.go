// Package report renders an assembled vulnerability report for the terminal
// or for machine-readable export.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/vulnhound/vulnhound/internal/core"
)

// Format selects an output encoding.
type Format string

const (
	FormatTerminal Format = "terminal"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// ParseFormat normalizes a format name from a CLI flag.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "terminal", "term":
		return FormatTerminal, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", core.ErrValidation(core.CodeBadRequest, fmt.Sprintf("unknown output format %q", s))
	}
}

// Color palette, matching the scan progress UI.
var (
	colorHigh   = lipgloss.Color("#EF4444") // Red
	colorMedium = lipgloss.Color("#F59E0B") // Amber
	colorLow    = lipgloss.Color("#3B82F6") // Blue
	colorOK     = lipgloss.Color("#10B981") // Green
	colorMuted  = lipgloss.Color("#9CA3AF") // Muted gray
	colorTitle  = lipgloss.Color("#7C3AED") // Purple
)

var severityColors = map[core.Severity]lipgloss.Color{
	core.SeverityHigh:   colorHigh,
	core.SeverityMedium: colorMedium,
	core.SeverityLow:    colorLow,
}

// Options configures terminal rendering.
type Options struct {
	// Width wraps the markdown body; 0 uses a default of 100 columns.
	Width int
	// Color enables ANSI styling. Off, the renderer emits plain text.
	Color bool
}

// Render writes rep to w in the requested format.
func Render(w io.Writer, rep *core.Report, format Format, opts Options) error {
	switch format {
	case FormatJSON:
		return JSON(w, rep)
	case FormatYAML:
		return YAML(w, rep)
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(rep))
		return err
	default:
		return Terminal(w, rep, opts)
	}
}

// JSON writes the report as indented JSON.
func JSON(w io.Writer, rep *core.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// YAML writes the report as YAML.
func YAML(w io.Writer, rep *core.Report) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(rep)
}

// Markdown renders the full report as a markdown document. This is also the
// form copied to the clipboard and fed to the terminal renderer.
func Markdown(rep *core.Report) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Vulnerability Report: %s\n\n", rep.SessionID)
	fmt.Fprintf(&sb, "- **Repository:** %s\n", rep.RepoRoot)
	fmt.Fprintf(&sb, "- **Session status:** %s\n", rep.Status)
	fmt.Fprintf(&sb, "- **Generated:** %s\n", rep.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&sb, "- **Files:** %d total, %d done, %d failed\n\n", rep.FilesTotal, rep.FilesDone, rep.FilesFailed)

	if len(rep.Findings) == 0 {
		sb.WriteString("No findings above the confidence threshold.\n")
	} else {
		fmt.Fprintf(&sb, "## Findings (%d)\n\n", len(rep.Findings))
		for _, f := range rep.Findings {
			fmt.Fprintf(&sb, "### %s: %s in `%s`\n\n", strings.ToUpper(string(f.Severity)), f.Type.Title(), f.File)
			fmt.Fprintf(&sb, "**Confidence:** %d/10\n\n", f.Confidence)
			if f.Analysis != "" {
				sb.WriteString(f.Analysis)
				sb.WriteString("\n\n")
			}
			if f.PoC != "" {
				sb.WriteString("**Proof of concept**\n\n```\n")
				sb.WriteString(strings.TrimRight(f.PoC, "\n"))
				sb.WriteString("\n```\n\n")
			}
		}
	}

	if len(rep.Failures) > 0 {
		fmt.Fprintf(&sb, "## Failures (%d)\n\n", len(rep.Failures))
		for _, fl := range rep.Failures {
			if fl.Type != "" {
				fmt.Fprintf(&sb, "- `%s` (%s): %s\n", fl.File, fl.Type, fl.Error)
			} else {
				fmt.Fprintf(&sb, "- `%s`: %s\n", fl.File, fl.Error)
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// Terminal writes a styled report: a summary header and severity table via
// lipgloss, finding bodies through the glamour markdown renderer.
func Terminal(w io.Writer, rep *core.Report, opts Options) error {
	width := opts.Width
	if width <= 0 {
		width = 100
	}

	var sb strings.Builder
	sb.WriteString(renderHeader(rep, opts.Color))
	sb.WriteString(renderSummaryLine(rep, opts.Color))
	sb.WriteString("\n")

	if len(rep.Findings) > 0 {
		sb.WriteString(renderFindingTable(rep, opts.Color))
		sb.WriteString("\n")
	}

	body, err := renderBody(rep, width, opts.Color)
	if err != nil {
		return err
	}
	sb.WriteString(body)

	_, err = io.WriteString(w, sb.String())
	return err
}

func renderHeader(rep *core.Report, color bool) string {
	title := fmt.Sprintf("vulnhound report  %s", rep.SessionID)
	status := string(rep.Status)
	if color {
		title = lipgloss.NewStyle().Bold(true).Foreground(colorTitle).Render(title)
		statusColor := colorOK
		if rep.Status == core.SessionStatusFailed {
			statusColor = colorHigh
		} else if rep.Status == core.SessionStatusRunning {
			statusColor = colorMedium
		}
		status = lipgloss.NewStyle().Foreground(statusColor).Render(status)
	}
	return fmt.Sprintf("%s\n%s  %s\n", title, rep.RepoRoot, status)
}

func renderSummaryLine(rep *core.Report, color bool) string {
	counts := map[core.Severity]int{}
	for _, f := range rep.Findings {
		counts[f.Severity]++
	}
	parts := make([]string, 0, 4)
	for _, sev := range []core.Severity{core.SeverityHigh, core.SeverityMedium, core.SeverityLow} {
		chip := fmt.Sprintf("%d %s", counts[sev], strings.ToUpper(string(sev)))
		if color {
			chip = lipgloss.NewStyle().Bold(true).Foreground(severityColors[sev]).Render(chip)
		}
		parts = append(parts, chip)
	}
	files := fmt.Sprintf("%d/%d files", rep.FilesDone, rep.FilesTotal)
	if color {
		files = lipgloss.NewStyle().Foreground(colorMuted).Render(files)
	}
	parts = append(parts, files)
	return strings.Join(parts, "  ") + "\n"
}

func renderFindingTable(rep *core.Report, color bool) string {
	var sb strings.Builder
	for _, f := range rep.Findings {
		sev := fmt.Sprintf("%-6s", strings.ToUpper(string(f.Severity)))
		if color {
			sev = lipgloss.NewStyle().Bold(true).Foreground(severityColors[f.Severity]).Render(sev)
		}
		fmt.Fprintf(&sb, "  %s %-5s %2d/10  %s\n", sev, f.Type, f.Confidence, f.File)
	}
	return sb.String()
}

// renderBody feeds the markdown findings and failures through glamour.
func renderBody(rep *core.Report, width int, color bool) (string, error) {
	md := bodyMarkdown(rep)
	style := glamour.WithStandardStyle("notty")
	if color {
		style = glamour.WithAutoStyle()
	}
	renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return "", fmt.Errorf("rendering report: %w", err)
	}
	return out, nil
}

// bodyMarkdown is the detail portion of the markdown document, without the
// header lines the terminal renderer already printed with lipgloss.
func bodyMarkdown(rep *core.Report) string {
	full := Markdown(rep)
	if idx := strings.Index(full, "## "); idx >= 0 {
		return full[idx:]
	}
	if idx := strings.Index(full, "No findings"); idx >= 0 {
		return full[idx:]
	}
	return full
}
