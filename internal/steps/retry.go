package steps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/stagehand/internal/catalog"
	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

// AttemptState records how a retried unit has fared.
type AttemptState struct {
	Unit      string
	Attempts  int
	LastError string
	Succeeded bool
}

// Retry wraps a child template and re-runs each of its units until it
// succeeds, the attempts are used up, or the run is cancelled.
type Retry struct {
	name     string
	child    unit.Template
	attempts int
	delay    time.Duration

	mu     sync.Mutex
	states map[string]*AttemptState
}

// NewRetry creates a Retry allowing up to attempts tries per unit, waiting
// delay between them. attempts below 1 is treated as 1.
func NewRetry(name string, child unit.Template, attempts int, delay time.Duration) *Retry {
	return &Retry{
		name:     name,
		child:    child,
		attempts: max(attempts, 1),
		delay:    delay,
		states:   make(map[string]*AttemptState),
	}
}

// Name implements unit.Template.
func (r *Retry) Name() string { return r.name }

// UnitCount implements unit.Template.
func (r *Retry) UnitCount() int { return r.child.UnitCount() }

// Instantiate implements unit.Template.
func (r *Retry) Instantiate(ctx context.Context) (*unit.Instance, error) {
	inner, err := r.child.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("child %q: %w", r.child.Name(), err)
	}

	units := make([]unit.Unit, 0, len(inner.Units))
	for _, u := range inner.Units {
		units = append(units, &attempt{inner: u, label: unit.Label(u, r.child.Name()), owner: r})
	}

	inst := unit.NewInstance(unit.NewInstanceID(r.name), r.name, units...)
	inst.OnDestroy(inner.Destroy)
	return inst, nil
}

// State returns the attempt record for the unit labelled label.
func (r *Retry) State(label string) (AttemptState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[label]
	if !ok {
		return AttemptState{}, false
	}
	return *s, true
}

func (r *Retry) record(label string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[label]
	if !ok || s.Succeeded {
		// A fresh run starts a fresh record.
		s = &AttemptState{Unit: label}
		r.states[label] = s
	}
	s.Attempts++
	if err != nil {
		s.LastError = err.Error()
		return
	}
	s.Succeeded = true
}

type attempt struct {
	inner unit.Unit
	label string
	owner *Retry
}

func (a *attempt) Name() string { return a.label }

func (a *attempt) Setup(ctx context.Context, run unit.RunContext) error {
	log := loggerOf(run)
	var err error
	for n := 1; n <= a.owner.attempts; n++ {
		err = unit.Run(ctx, a.inner, run)
		if unit.Classify(ctx, err) == unit.Cancelled {
			return err
		}
		a.owner.record(a.label, err)
		if err == nil {
			return nil
		}
		if n == a.owner.attempts {
			break
		}

		log.Warn("attempt failed, retrying", "unit", a.label, "attempt", n, "error", err)
		if a.owner.delay > 0 {
			timer := time.NewTimer(a.owner.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", a.owner.attempts, err)
}

func newRetry(step *manifest.Step, reg *catalog.Registry) (unit.Template, error) {
	opts := struct {
		Attempts int           `mapstructure:"attempts"`
		Delay    time.Duration `mapstructure:"delay"`
	}{Attempts: 3}
	if err := catalog.Decode(step.With, &opts); err != nil {
		return nil, err
	}
	if opts.Attempts < 1 {
		return nil, fmt.Errorf("attempts must be at least 1, got %d", opts.Attempts)
	}
	if opts.Delay < 0 {
		return nil, fmt.Errorf("delay must not be negative, got %s", opts.Delay)
	}
	if len(step.Children) != 1 {
		return nil, fmt.Errorf("retry needs exactly one child, got %d", len(step.Children))
	}
	if step.Children[0] == nil {
		return nil, fmt.Errorf("children[0]: %w", errors.ErrNullDeclaration)
	}

	child, err := reg.Build(step.Children[0])
	if err != nil {
		return nil, fmt.Errorf("children[0]: %w", err)
	}
	return NewRetry(step.Label(), child, opts.Attempts, opts.Delay), nil
}
