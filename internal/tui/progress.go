package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vulnhound/vulnhound/internal/core"
)

// Color palette, shared with the report renderer.
var (
	titleColor  = lipgloss.Color("#7C3AED") // Purple
	accentColor = lipgloss.Color("#3B82F6") // Blue
	okColor     = lipgloss.Color("#10B981") // Green
	failColor   = lipgloss.Color("#EF4444") // Red
	mutedColor  = lipgloss.Color("#9CA3AF") // Muted gray
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(titleColor)
	activeStyle  = lipgloss.NewStyle().Foreground(accentColor)
	okStyle      = lipgloss.NewStyle().Foreground(okColor)
	failStyle    = lipgloss.NewStyle().Foreground(failColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	spinnerStyle = lipgloss.NewStyle().Foreground(titleColor)
)

// How many finished files stay visible under the progress bar.
const recentLines = 5

// EventMsg wraps an orchestrator progress event for the UI loop.
type EventMsg struct {
	Event core.ProgressEvent
}

// DoneMsg signals that the scan goroutine returned.
type DoneMsg struct {
	Err error
}

type recentFile struct {
	path   string
	failed bool
	detail string
}

// Model is the live scan progress UI. The orchestrator goroutine feeds it
// EventMsg values through tea.Program.Send; pressing q cancels the scan
// context and the session stays resumable.
type Model struct {
	sessionID core.SessionID
	cancel    context.CancelFunc

	total  int
	done   int
	failed int

	current  string
	activity string
	recent   []recentFile

	spin spinner.Model
	bar  progress.Model

	quitting bool
	err      error
}

// NewProgress creates the progress model for a session over total files.
// cancel, when non-nil, is invoked if the user quits mid-scan.
func NewProgress(sessionID core.SessionID, total int, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	bar := progress.New(
		progress.WithScaledGradient("#7C3AED", "#3B82F6"),
		progress.WithoutPercentage(),
	)

	return Model{
		sessionID: sessionID,
		cancel:    cancel,
		total:     total,
		spin:      sp,
		bar:       bar,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Update handles UI and scan events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 20
		if m.bar.Width > 60 {
			m.bar.Width = 60
		}
		return m, nil

	case EventMsg:
		m.apply(msg.Event)
		return m, nil

	case DoneMsg:
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) apply(ev core.ProgressEvent) {
	// A fresh scan has no session ID until the orchestrator mints one; the
	// first event carries it.
	if m.sessionID == "" {
		m.sessionID = ev.SessionID
	}

	switch ev.Kind {
	case core.ProgressFileStarted:
		m.current = ev.File
		m.activity = "initial analysis"

	case core.ProgressInitialDone:
		if ev.File == m.current {
			m.activity = "triaging results"
		}

	case core.ProgressIterationDone:
		m.current = ev.File
		m.activity = fmt.Sprintf("%s deep dive, iteration %d", ev.VulnType, ev.Iteration)

	case core.ProgressFileDone:
		m.done = ev.FilesDone
		m.total = max(m.total, ev.FilesAll)
		m.pushRecent(recentFile{path: ev.File})
		if ev.File == m.current {
			m.current, m.activity = "", ""
		}

	case core.ProgressFileFailed:
		m.done = ev.FilesDone
		m.total = max(m.total, ev.FilesAll)
		m.failed++
		m.pushRecent(recentFile{path: ev.File, failed: true, detail: ev.Message})
		if ev.File == m.current {
			m.current, m.activity = "", ""
		}

	case core.ProgressSessionDone:
		m.done = ev.FilesDone
		m.total = max(m.total, ev.FilesAll)
		m.current, m.activity = "", ""
	}
}

func (m *Model) pushRecent(f recentFile) {
	m.recent = append(m.recent, f)
	if len(m.recent) > recentLines {
		m.recent = m.recent[len(m.recent)-recentLines:]
	}
}

// Err returns the scan error delivered by DoneMsg, for the caller to inspect
// after the program exits.
func (m Model) Err() error {
	return m.err
}

// Quitting reports whether the user aborted the scan.
func (m Model) Quitting() bool {
	return m.quitting
}

// View renders the progress screen.
func (m Model) View() string {
	var sb strings.Builder

	title := "vulnhound"
	if m.sessionID != "" {
		title += "  " + string(m.sessionID)
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n\n")

	if m.current != "" {
		line := fmt.Sprintf("%s analyzing %s", m.spin.View(), activeStyle.Render(m.current))
		if m.activity != "" {
			line += mutedStyle.Render("  (" + m.activity + ")")
		}
		sb.WriteString(line)
		sb.WriteString("\n\n")
	}

	pct := 0.0
	if m.total > 0 {
		pct = float64(m.done) / float64(m.total)
	}
	counts := fmt.Sprintf(" %d/%d files", m.done, m.total)
	if m.failed > 0 {
		counts += failStyle.Render(fmt.Sprintf("  %d failed", m.failed))
	}
	sb.WriteString(m.bar.ViewAs(pct))
	sb.WriteString(counts)
	sb.WriteString("\n")

	for _, f := range m.recent {
		if f.failed {
			sb.WriteString("  " + failStyle.Render("✗ "+f.path))
			if f.detail != "" {
				sb.WriteString(mutedStyle.Render("  " + f.detail))
			}
		} else {
			sb.WriteString("  " + okStyle.Render("✓ "+f.path))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(mutedStyle.Render("q to cancel (session stays resumable)"))
	sb.WriteString("\n")

	return sb.String()
}
