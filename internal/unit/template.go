package unit

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/stagehand/internal/errors"
)

// Template produces live instances. It is the Go form of a declared step.
type Template interface {
	Name() string
	Instantiate(ctx context.Context) (*Instance, error)
	// UnitCount reports how many units an instance will carry. The fan-out
	// counting pass uses it before anything is instantiated.
	UnitCount() int
}

// Declaration is one slot of a phase's ordered list. A nil Template is a
// null declaration: a configuration warning, not a failure.
type Declaration struct {
	// Ref is the name the slot was declared under; it survives even when
	// the template could not be resolved.
	Ref      string
	Template Template
}

// Label returns the best available name for the slot.
func (d Declaration) Label() string {
	if d.Template != nil && d.Template.Name() != "" {
		return d.Template.Name()
	}
	if d.Ref != "" {
		return d.Ref
	}
	return "<null>"
}

// Instance is a materialized template. It is owned by the orchestrator that
// created it and destroyed through Destroy.
type Instance struct {
	ID       string
	Template string
	Units    []Unit

	mu        sync.Mutex
	hooks     []func(context.Context) error
	destroyed bool
}

var instanceSeq atomic.Uint64

// NewInstanceID returns an instance ID of the form "<template>#<n>". n is
// unique within the process, so templates that share a name never produce
// the same ID.
func NewInstanceID(template string) string {
	return template + "#" + strconv.FormatUint(instanceSeq.Add(1), 10)
}

// NewInstance creates an Instance carrying units.
func NewInstance(id, template string, units ...Unit) *Instance {
	return &Instance{ID: id, Template: template, Units: units}
}

// OnDestroy registers a cleanup hook. Hooks run in reverse registration
// order after the instance's units are destroyed.
func (i *Instance) OnDestroy(fn func(context.Context) error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.hooks = append(i.hooks, fn)
}

// Destroyed reports whether Destroy has run.
func (i *Instance) Destroyed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.destroyed
}

// Destroy tears the instance down: Destroyer units in reverse sub-order,
// then hooks in reverse. Only the first call does work. Errors are joined;
// one failing teardown does not skip the rest.
func (i *Instance) Destroy(ctx context.Context) error {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return nil
	}
	i.destroyed = true
	hooks := slices.Clone(i.hooks)
	i.mu.Unlock()

	var errs []error
	for _, u := range slices.Backward(i.Units) {
		if d, ok := u.(Destroyer); ok {
			if err := d.Destroy(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, hook := range slices.Backward(hooks) {
		if err := hook(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StaticTemplate instantiates a fixed set of units built by a constructor.
// It is the template form used by catalog factories and tests.
type StaticTemplate struct {
	TemplateName string
	Count        int
	Build        func(ctx context.Context) ([]Unit, error)
}

// Name implements Template.
func (t *StaticTemplate) Name() string { return t.TemplateName }

// UnitCount implements Template.
func (t *StaticTemplate) UnitCount() int { return t.Count }

// Instantiate implements Template. IDs come from NewInstanceID.
func (t *StaticTemplate) Instantiate(ctx context.Context) (*Instance, error) {
	var units []Unit
	if t.Build != nil {
		var err error
		units, err = t.Build(ctx)
		if err != nil {
			return nil, err
		}
	}

	return NewInstance(NewInstanceID(t.TemplateName), t.TemplateName, units...), nil
}

// Of builds a StaticTemplate that creates one instance carrying units.
// The same unit values are reused across instantiations, which is fine for
// stateless or idempotent units.
func Of(name string, units ...Unit) *StaticTemplate {
	return &StaticTemplate{
		TemplateName: name,
		Count:        len(units),
		Build: func(context.Context) ([]Unit, error) {
			return slices.Clone(units), nil
		},
	}
}
