// Package catalog maps manifest step kinds to the factories that turn a
// step into a unit template, and resolves a manifest into the ordered
// declaration list a phase runs.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

// Factory builds a template for one step. reg is passed so container kinds
// can build their children.
type Factory func(step *manifest.Step, reg *Registry) (unit.Template, error)

// Kind describes one registered step kind.
type Kind struct {
	Name        string
	Description string
	Factory     Factory
}

// Registry holds the known step kinds. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds a kind. Registering a name twice is an error.
func (r *Registry) Register(name, description string, f Factory) error {
	if name == "" {
		return errors.New("kind name is required")
	}
	if f == nil {
		return fmt.Errorf("kind %q: factory is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[name]; exists {
		return fmt.Errorf("kind %q already registered", name)
	}
	r.kinds[name] = Kind{Name: name, Description: description, Factory: f}
	return nil
}

// MustRegister is Register for init-time wiring. It panics on error.
func (r *Registry) MustRegister(name, description string, f Factory) {
	if err := r.Register(name, description, f); err != nil {
		panic(err)
	}
}

// Known reports whether kind is registered.
func (r *Registry) Known(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[kind]
	return ok
}

// Kinds returns all registered kinds sorted by name.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	out := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Build creates the template for step. Unknown kinds wrap ErrUnknownKind.
func (r *Registry) Build(step *manifest.Step) (unit.Template, error) {
	if step == nil {
		return nil, errors.ErrNullDeclaration
	}

	r.mu.RLock()
	k, ok := r.kinds[step.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownKind, step.Kind)
	}

	tmpl, err := k.Factory(step, r)
	if err != nil {
		return nil, fmt.Errorf("step %q (%s): %w", step.Label(), step.Kind, err)
	}
	return tmpl, nil
}

// Resolve turns the manifest's steps into declarations, one per step and in
// order. A step that cannot be built becomes a null declaration carrying its
// name, and a ConfigWarning describing why is returned alongside. Resolve
// never fails: broken steps are reported, not fatal.
func (r *Registry) Resolve(m *manifest.Manifest) ([]unit.Declaration, []error) {
	if m == nil {
		return nil, nil
	}

	decls := make([]unit.Declaration, 0, len(m.Steps))
	var warnings []error
	for i, step := range m.Steps {
		if step == nil {
			decls = append(decls, unit.Declaration{})
			continue
		}

		tmpl, err := r.Build(step)
		if err != nil {
			subject := fmt.Sprintf("steps[%d] %s", i, step.Label())
			warnings = append(warnings, errors.NewConfigWarning(subject, err))
			decls = append(decls, unit.Declaration{Ref: step.Label()})
			continue
		}
		decls = append(decls, unit.Declaration{Ref: step.Label(), Template: tmpl})
	}
	return decls, warnings
}
