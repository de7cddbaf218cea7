// Package tui renders the boot screen: an animated progress bar, the unit in
// flight, and a short history of finished slots. [App] implements
// progress.Controller so the orchestrator can drive it directly.
package tui

import (
	"fmt"
	"strings"
	"time"

	bprogress "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/stagehand/internal/event"
	"github.com/Iron-Ham/stagehand/internal/tui/styles"
)

// Layout constants
const (
	DefaultWidth = 48
	MaxWidth     = 96
	maxRecent    = 5
	framePadding = 8 // border (2) + horizontal padding (4) + margin (2)
)

// Options configures the boot screen.
type Options struct {
	Stage          string
	Width          int
	ShowPercentage bool
	GradientStart  string
	GradientEnd    string
	OnlyIncrease   bool

	// Interrupt is called when the user presses ctrl+c or q.
	Interrupt func()
}

// Messages

type progressMsg struct {
	value    float64
	animated bool
}

type visibilityMsg bool

type busMsg struct {
	event event.Event
}

type slotLine struct {
	label  string
	status string
	detail string
}

// Model is the bubbletea model of the boot screen.
type Model struct {
	stage     string
	bar       bprogress.Model
	maxWidth  int
	target    float64
	animated  bool
	visible   bool
	phase     string
	current   string
	slot      int
	total     int
	recent    []slotLine
	completed int
	failed    int
	skipped   int
	outcome   string
	interrupt func()
	quitting  bool
}

// NewModel creates the boot screen model.
func NewModel(opts Options) Model {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.GradientStart == "" {
		opts.GradientStart = styles.GradientStart
	}
	if opts.GradientEnd == "" {
		opts.GradientEnd = styles.GradientEnd
	}

	barOpts := []bprogress.Option{
		bprogress.WithGradient(opts.GradientStart, opts.GradientEnd),
		bprogress.WithWidth(opts.Width),
	}
	if !opts.ShowPercentage {
		barOpts = append(barOpts, bprogress.WithoutPercentage())
	}

	return Model{
		stage:     opts.Stage,
		bar:       bprogress.New(barOpts...),
		maxWidth:  opts.Width,
		interrupt: opts.Interrupt,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			if m.interrupt != nil {
				m.interrupt()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-framePadding, 10), m.maxWidth)

	case progressMsg:
		m.target = msg.value
		m.animated = msg.animated
		if msg.animated {
			return m, m.bar.SetPercent(msg.value)
		}

	case visibilityMsg:
		m.visible = bool(msg)

	case busMsg:
		m.apply(msg.event)

	case bprogress.FrameMsg:
		updated, cmd := m.bar.Update(msg)
		if bar, ok := updated.(bprogress.Model); ok {
			m.bar = bar
		}
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(e event.Event) {
	switch e := e.(type) {
	case event.RunStartedEvent:
		m.total = e.Slots
		m.slot = 0
		m.current = ""
		m.recent = nil
		m.completed, m.failed, m.skipped = 0, 0, 0
		m.outcome = ""

	case event.PhaseChangeEvent:
		m.phase = e.To

	case event.UnitStartedEvent:
		m.current = e.Unit
		m.slot = e.Slot
		m.total = e.Total

	case event.UnitFinishedEvent:
		m.current = ""
		switch e.Outcome {
		case "completed":
			m.completed++
		case "failed":
			m.failed++
		}
		m.push(slotLine{label: e.Unit, status: e.Outcome, detail: e.Error})

	case event.UnitSkippedEvent:
		m.skipped++
		m.push(slotLine{label: e.Unit, status: "skipped", detail: e.Reason})

	case event.RunReadyEvent:
		m.outcome = fmt.Sprintf("ready in %s", e.Duration.Round(time.Millisecond))

	case event.RunCancelledEvent:
		m.outcome = "cancelled during " + e.Phase

	case event.HandoffEvent:
		m.outcome = "handed off to " + e.To
	}
}

func (m *Model) push(line slotLine) {
	m.recent = append(m.recent, line)
	if len(m.recent) > maxRecent {
		m.recent = m.recent[len(m.recent)-maxRecent:]
	}
}

// View renders the boot screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(styles.Title.Render("stagehand · " + m.stage))
	b.WriteString("\n")
	if m.phase != "" {
		b.WriteString(styles.Subtitle.Render(m.phase))
		b.WriteString("\n\n")
	}

	if m.visible {
		if m.animated {
			b.WriteString(m.bar.View())
		} else {
			b.WriteString(m.bar.ViewAs(m.target))
		}
		b.WriteString("\n\n")
	}

	if m.current != "" {
		icon := lipgloss.NewStyle().Foreground(styles.StatusColor("running")).Render(styles.StatusIcon("running"))
		fmt.Fprintf(&b, "%s %s %s\n", icon, styles.Text.Render(m.current),
			styles.Muted.Render(fmt.Sprintf("(%d/%d)", m.slot+1, m.total)))
	}

	for _, line := range m.recent {
		style := lipgloss.NewStyle().Foreground(styles.StatusColor(line.status))
		row := style.Render(styles.StatusIcon(line.status)) + " " + line.label
		if line.detail != "" {
			row += " " + styles.Muted.Render(line.detail)
		}
		b.WriteString(row + "\n")
	}

	counts := fmt.Sprintf("%d completed · %d failed · %d skipped", m.completed, m.failed, m.skipped)
	b.WriteString("\n" + styles.Muted.Render(counts))

	switch {
	case strings.HasPrefix(m.outcome, "cancelled"):
		b.WriteString("\n" + styles.WarningMsg.Render(m.outcome))
	case m.outcome != "":
		b.WriteString("\n" + styles.SuccessMsg.Render(m.outcome))
	}

	b.WriteString("\n" + styles.HelpBar.Render(styles.HelpKey.Render("q")+" quit"))
	return styles.Frame.Render(b.String())
}
