package steps

import (
	"context"
	"fmt"
	"slices"

	"github.com/Iron-Ham/stagehand/internal/catalog"
	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

// Group is a template whose single instance carries the units of every
// child, in child order. In fan-out mode each of them runs; otherwise only
// the first does. Destroying the group instance destroys the child
// instances in reverse.
type Group struct {
	name     string
	children []unit.Template
}

// NewGroup creates a Group over children.
func NewGroup(name string, children ...unit.Template) *Group {
	return &Group{name: name, children: children}
}

// Name implements unit.Template.
func (g *Group) Name() string { return g.name }

// UnitCount implements unit.Template.
func (g *Group) UnitCount() int {
	n := 0
	for _, c := range g.children {
		n += c.UnitCount()
	}
	return n
}

// Instantiate implements unit.Template. If a child fails to instantiate,
// the children already created are destroyed before the error is returned.
func (g *Group) Instantiate(ctx context.Context) (*unit.Instance, error) {
	var (
		instances []*unit.Instance
		units     []unit.Unit
	)
	for _, child := range g.children {
		inst, err := child.Instantiate(ctx)
		if err != nil {
			_ = destroyAll(context.WithoutCancel(ctx), instances)
			return nil, fmt.Errorf("child %q: %w", child.Name(), err)
		}
		instances = append(instances, inst)
		for _, u := range inst.Units {
			units = append(units, member{Unit: u, label: unit.Label(u, child.Name())})
		}
	}

	inst := unit.NewInstance(unit.NewInstanceID(g.name), g.name, units...)
	inst.OnDestroy(func(ctx context.Context) error {
		return destroyAll(ctx, instances)
	})
	return inst, nil
}

func destroyAll(ctx context.Context, instances []*unit.Instance) error {
	var errs []error
	for _, inst := range slices.Backward(instances) {
		if err := inst.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// member hides a child unit's Destroy from the group instance; the child
// instance owns teardown.
type member struct {
	unit.Unit
	label string
}

func (m member) Name() string { return m.label }

func newGroup(step *manifest.Step, reg *catalog.Registry) (unit.Template, error) {
	if err := catalog.Decode(step.With, &struct{}{}); err != nil {
		return nil, err
	}
	if len(step.Children) == 0 {
		return nil, errors.New("group has no children")
	}

	children := make([]unit.Template, 0, len(step.Children))
	for i, c := range step.Children {
		if c == nil {
			return nil, fmt.Errorf("children[%d]: %w", i, errors.ErrNullDeclaration)
		}
		tmpl, err := reg.Build(c)
		if err != nil {
			return nil, fmt.Errorf("children[%d]: %w", i, err)
		}
		children = append(children, tmpl)
	}
	return NewGroup(step.Label(), children...), nil
}
