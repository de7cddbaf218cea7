package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/stagehand/internal/event"
	"github.com/Iron-Ham/stagehand/internal/progress"
)

// App wraps the Bubbletea program. It implements progress.Controller.
//
// Run must be started before the orchestrator reports progress: updates are
// delivered with Program.Send, which waits for the event loop.
type App struct {
	program *tea.Program
	state   *progress.State

	mu    sync.Mutex
	final Model
}

// New creates the boot screen application.
func New(opts Options, programOpts ...tea.ProgramOption) *App {
	return &App{
		program: tea.NewProgram(NewModel(opts), programOpts...),
		state:   progress.NewState(opts.OnlyIncrease),
	}
}

// SetProgress implements progress.Controller.
func (a *App) SetProgress(value float64, animated bool) {
	v := a.state.Request(value, animated)
	a.program.Send(progressMsg{value: v, animated: animated})
}

// Show implements progress.Controller.
func (a *App) Show() {
	a.program.Send(visibilityMsg(true))
}

// Hide implements progress.Controller.
func (a *App) Hide() {
	a.program.Send(visibilityMsg(false))
}

// Current implements progress.Reader.
func (a *App) Current() float64 { return a.state.Current() }

// Target implements progress.Reader.
func (a *App) Target() float64 { return a.state.Target() }

// Attach forwards every event published on bus to the screen. The returned
// function detaches it.
func (a *App) Attach(bus *event.Bus) func() {
	id := bus.SubscribeAll(func(e event.Event) {
		a.program.Send(busMsg{event: e})
	})
	return func() { bus.Unsubscribe(id) }
}

// Run starts the program and blocks until it exits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			a.program.Quit()
		case <-done:
		}
	}()

	final, err := a.program.Run()
	if m, ok := final.(Model); ok {
		a.mu.Lock()
		a.final = m
		a.mu.Unlock()
	}
	return err
}

// Quit stops the program.
func (a *App) Quit() {
	a.program.Quit()
}

// Final returns the model as it was when the program exited.
func (a *App) Final() Model {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.final
}
