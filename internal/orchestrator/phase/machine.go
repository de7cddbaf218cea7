package phase

import (
	"sync"
	"time"
)

// Machine tracks the current phase of one orchestrator, the transitions of
// the current run, and time spent in each phase. It is safe for concurrent use.
type Machine struct {
	mu        sync.RWMutex
	current   Phase
	entered   time.Time
	history   []PhaseTransition
	durations map[Phase]time.Duration
	callbacks []PhaseChangeCallback
	now       func() time.Time
}

// NewMachine creates a Machine in PhaseIdle.
func NewMachine() *Machine {
	return &Machine{
		current:   PhaseIdle,
		entered:   time.Now(),
		durations: make(map[Phase]time.Duration),
		now:       time.Now,
	}
}

// CurrentPhase returns the current phase.
func (m *Machine) CurrentPhase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CanTransitionTo checks whether a transition to the target phase is valid.
func (m *Machine) CanTransitionTo(to Phase) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return CanTransition(m.current, to)
}

// OnPhaseChange registers a callback invoked after every transition,
// including the one performed by Begin. Callbacks run in registration order
// outside the machine's lock.
func (m *Machine) OnPhaseChange(cb PhaseChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Begin starts a new run: from any phase, move to PhaseRunningBasics and
// discard the previous run's history.
func (m *Machine) Begin(reason string) {
	m.mu.Lock()
	from := m.current
	m.history = nil
	m.durations = make(map[Phase]time.Duration)
	m.moveLocked(from, PhaseRunningBasics, reason)
	callbacks := m.callbacks
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(from, PhaseRunningBasics)
	}
}

// TransitionTo moves to the target phase if ValidTransitions allows it.
func (m *Machine) TransitionTo(to Phase, reason string) error {
	m.mu.Lock()
	from := m.current
	switch {
	case from == to:
		m.mu.Unlock()
		return NewTransitionError(from, to, ErrAlreadyInPhase)
	case from.IsTerminal():
		m.mu.Unlock()
		return NewTransitionError(from, to, ErrTerminalPhase)
	case !CanTransition(from, to):
		m.mu.Unlock()
		return NewTransitionError(from, to, ErrInvalidTransition)
	}
	m.moveLocked(from, to, reason)
	callbacks := m.callbacks
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(from, to)
	}
	return nil
}

func (m *Machine) moveLocked(from, to Phase, reason string) {
	now := m.now()
	if !m.entered.IsZero() {
		m.durations[from] += now.Sub(m.entered)
	}
	m.current = to
	m.entered = now
	m.history = append(m.history, PhaseTransition{
		From:      from,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})
}

// PhaseHistory returns the transitions of the current run.
func (m *Machine) PhaseHistory() []PhaseTransition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PhaseTransition, len(m.history))
	copy(out, m.history)
	return out
}

// PhaseDuration returns time spent in a phase during the current run,
// including the time so far if it is the current phase.
func (m *Machine) PhaseDuration(p Phase) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d := m.durations[p]
	if p == m.current {
		d += m.now().Sub(m.entered)
	}
	return d
}
