// Package tui renders live scan progress in the terminal.
package tui

import (
	"os"

	"golang.org/x/term"
)

// OutputMode selects how scan progress is presented.
type OutputMode int

const (
	// ModeProgress runs the full Bubble Tea progress UI.
	ModeProgress OutputMode = iota

	// ModePlain logs progress as plain lines.
	ModePlain

	// ModeQuiet suppresses progress output entirely.
	ModeQuiet
)

// String returns the mode name.
func (m OutputMode) String() string {
	switch m {
	case ModeProgress:
		return "progress"
	case ModePlain:
		return "plain"
	case ModeQuiet:
		return "quiet"
	default:
		return "unknown"
	}
}

// Detector decides the progress output mode for the current environment.
type Detector struct {
	forceMode *OutputMode
	noColor   bool
}

// NewDetector creates a detector with no overrides.
func NewDetector() *Detector {
	return &Detector{}
}

// ForceMode pins the output mode, bypassing detection.
func (d *Detector) ForceMode(mode OutputMode) *Detector {
	d.forceMode = &mode
	return d
}

// NoColor disables color output.
func (d *Detector) NoColor(disable bool) *Detector {
	d.noColor = disable
	return d
}

// Detect picks the output mode: the full UI only on an interactive terminal
// outside CI.
func (d *Detector) Detect() OutputMode {
	if d.forceMode != nil {
		return *d.forceMode
	}

	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return ModePlain
	}

	if !d.isTTY() {
		return ModePlain
	}

	return ModeProgress
}

func (d *Detector) isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor honors --no-color, the NO_COLOR convention, and dumb
// terminals.
func (d *Detector) ShouldUseColor() bool {
	if d.noColor {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return d.isTTY()
}

// TerminalSize returns terminal dimensions, defaulting to 80x24.
func TerminalSize() (width, height int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80, 24
	}
	return w, h
}
