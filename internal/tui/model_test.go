package tui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/stagehand/internal/event"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	got, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return got
}

func TestModel_ProgressAndVisibility(t *testing.T) {
	m := NewModel(Options{Stage: "boot", ShowPercentage: true})

	if strings.Contains(m.View(), "%") {
		t.Error("hidden bar should not render")
	}

	m = update(t, m, visibilityMsg(true))
	m = update(t, m, progressMsg{value: 0.5})
	if m.target != 0.5 || m.animated {
		t.Errorf("target = %v animated = %v", m.target, m.animated)
	}
	if !strings.Contains(m.View(), "50%") {
		t.Errorf("View() missing percentage:\n%s", m.View())
	}

	next, cmd := m.Update(progressMsg{value: 0.75, animated: true})
	if cmd == nil {
		t.Error("animated progress should schedule frames")
	}
	m = next.(Model)

	m = update(t, m, visibilityMsg(false))
	if strings.Contains(m.View(), "%") {
		t.Error("bar still rendered after hide")
	}
}

func TestModel_Events(t *testing.T) {
	m := NewModel(Options{Stage: "boot"})

	m = update(t, m, busMsg{event.NewRunStartedEvent("run-1", "boot", 1, 3)})
	m = update(t, m, busMsg{event.NewPhaseChangeEvent("run-1", "running_basics", "running_main")})
	m = update(t, m, busMsg{event.NewUnitStartedEvent("run-1", 0, 3, "warmup")})

	view := m.View()
	for _, want := range []string{"stagehand · boot", "running_main", "warmup", "(1/3)"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}

	m = update(t, m, busMsg{event.NewUnitFinishedEvent("run-1", 0, "warmup", "completed", "", time.Millisecond)})
	m = update(t, m, busMsg{event.NewUnitSkippedEvent("run-1", 1, "<null>", "null declaration")})
	m = update(t, m, busMsg{event.NewUnitFinishedEvent("run-1", 2, "api", "failed", "status 503", time.Millisecond)})
	m = update(t, m, busMsg{event.NewRunReadyEvent("run-1", "boot", 1, 1, 1, 2*time.Second)})

	if m.completed != 1 || m.failed != 1 || m.skipped != 1 {
		t.Errorf("counts = %d/%d/%d", m.completed, m.failed, m.skipped)
	}
	view = m.View()
	for _, want := range []string{"status 503", "null declaration", "1 completed · 1 failed · 1 skipped", "ready in 2s"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}

	m = update(t, m, busMsg{event.NewRunStartedEvent("run-2", "boot", 2, 1)})
	if len(m.recent) != 0 || m.completed != 0 || m.outcome != "" {
		t.Error("new run did not reset the screen")
	}
}

func TestModel_RecentIsBounded(t *testing.T) {
	m := NewModel(Options{})
	for i := 0; i < maxRecent+3; i++ {
		m = update(t, m, busMsg{event.NewUnitSkippedEvent("run-1", i, "slot", "empty")})
	}
	if len(m.recent) != maxRecent {
		t.Errorf("len(recent) = %d, want %d", len(m.recent), maxRecent)
	}
}

func TestModel_InterruptOnQuit(t *testing.T) {
	interrupted := false
	m := NewModel(Options{Interrupt: func() { interrupted = true }})

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !interrupted {
		t.Error("ctrl+c did not interrupt the run")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("command is not tea.Quit")
	}
	if next.(Model).View() != "" {
		t.Error("quitting model should render nothing")
	}
}

func TestModel_WindowResize(t *testing.T) {
	m := NewModel(Options{Width: 40})
	m = update(t, m, tea.WindowSizeMsg{Width: 30, Height: 10})
	if m.bar.Width != 22 {
		t.Errorf("bar width = %d, want 22", m.bar.Width)
	}
	m = update(t, m, tea.WindowSizeMsg{Width: 200, Height: 10})
	if m.bar.Width != 40 {
		t.Errorf("bar width = %d, want capped at 40", m.bar.Width)
	}
}

func TestApp_DrivesProgram(t *testing.T) {
	var out bytes.Buffer
	app := New(Options{Stage: "boot", OnlyIncrease: true},
		tea.WithInput(nil), tea.WithOutput(&out), tea.WithoutRenderer())

	bus := event.NewBus()
	detach := app.Attach(bus)
	defer detach()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	app.Show()
	app.SetProgress(0.6, false)
	app.SetProgress(0.2, false)
	bus.Publish(event.NewUnitStartedEvent("run-1", 0, 1, "warmup"))
	app.Quit()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-ctx.Done():
		t.Fatal("program did not exit")
	}

	final := app.Final()
	if final.target != 0.6 {
		t.Errorf("final target = %v, want 0.6 (only-increase)", final.target)
	}
	if !final.visible || final.current != "warmup" {
		t.Errorf("final model = %+v", final)
	}
	if app.Target() != 0.6 {
		t.Errorf("Target() = %v", app.Target())
	}
}
