// Package progress defines the surface a boot run reports completion to.
//
// A [Controller] accepts normalized values in [0,1]. The orchestrator is its
// only caller; steps never touch it directly. [State] holds the clamping and
// only-increase rules so every controller implementation shares them.
package progress

import (
	"math"
	"sync"

	"github.com/Iron-Ham/stagehand/internal/logging"
)

// Controller is the narrow push interface the orchestrator drives.
type Controller interface {
	// SetProgress requests a new target. Values are clamped to [0,1].
	SetProgress(value float64, animated bool)
	// Show makes the surface visible.
	Show()
	// Hide releases or hides the surface.
	Hide()
}

// Reader is implemented by controllers that expose their state.
type Reader interface {
	Current() float64
	Target() float64
}

// Clamp limits v to [0,1]. NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// State tracks the current and last requested target of one controller.
// With only-increase enabled, a smaller request is clamped up to the
// existing target instead of being rejected.
type State struct {
	mu           sync.Mutex
	onlyIncrease bool
	current      float64
	target       float64
}

// NewState creates a State.
func NewState(onlyIncrease bool) *State {
	return &State{onlyIncrease: onlyIncrease}
}

// Request records a new target and returns the value accepted.
// Without animation the current value jumps to the target.
func (s *State) Request(value float64, animated bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := Clamp(value)
	if s.onlyIncrease && v < s.target {
		v = s.target
	}
	s.target = v
	if !animated {
		s.current = v
	}
	return v
}

// Advance moves the current value toward the target, as an animation frame
// would. It never overshoots and, in only-increase mode, never regresses.
func (s *State) Advance(value float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := Clamp(value)
	if v > s.target {
		v = s.target
	}
	if s.onlyIncrease && v < s.current {
		v = s.current
	}
	s.current = v
	return v
}

// Settle snaps the current value to the target.
func (s *State) Settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.target
}

// Current returns the displayed value.
func (s *State) Current() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Target returns the last accepted target.
func (s *State) Target() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// OnlyIncrease reports whether regressions are suppressed.
func (s *State) OnlyIncrease() bool { return s.onlyIncrease }

// Nop discards all updates.
type Nop struct{}

func (Nop) SetProgress(float64, bool) {}
func (Nop) Show()                     {}
func (Nop) Hide()                     {}

// Log reports progress through the logger. It is the surface used when
// stdout is not a terminal.
type Log struct {
	state   *State
	logger  *logging.Logger
	mu      sync.Mutex
	visible bool
	lastPct int
}

// NewLog creates a Log controller.
func NewLog(logger *logging.Logger, onlyIncrease bool) *Log {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Log{state: NewState(onlyIncrease), logger: logger, lastPct: -1}
}

// SetProgress implements Controller. Animation has no meaning in a log, so
// the value settles immediately; repeated percentages are not logged twice.
func (l *Log) SetProgress(value float64, _ bool) {
	v := l.state.Request(value, false)

	l.mu.Lock()
	defer l.mu.Unlock()
	pct := int(math.Round(v * 100))
	if pct == l.lastPct {
		return
	}
	l.lastPct = pct
	l.logger.Info("boot progress", "percent", pct, "visible", l.visible)
}

// Show implements Controller.
func (l *Log) Show() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = true
}

// Hide implements Controller.
func (l *Log) Hide() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = false
}

// Current implements Reader.
func (l *Log) Current() float64 { return l.state.Current() }

// Target implements Reader.
func (l *Log) Target() float64 { return l.state.Target() }

// Visible reports whether Show was called more recently than Hide.
func (l *Log) Visible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible
}
