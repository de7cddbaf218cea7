package steps

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/Iron-Ham/stagehand/internal/catalog"
	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

// Env requires variables to be present and sets others. Destroy restores
// whatever Setup overwrote, so a torn-down stage leaves the process
// environment as it found it.
type Env struct {
	Label   string
	Require []string
	Set     map[string]string

	mu       sync.Mutex
	previous map[string]*string
}

// Name implements unit.Named.
func (e *Env) Name() string { return e.Label }

// Setup implements unit.Unit. Calling it again re-applies Set without
// losing the original values.
func (e *Env) Setup(ctx context.Context, run unit.RunContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var missing []string
	for _, key := range e.Require {
		if _, ok := os.LookupEnv(key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.previous == nil {
		e.previous = make(map[string]*string)
	}

	keys := make([]string, 0, len(e.Set))
	for k := range e.Set {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		if _, saved := e.previous[k]; !saved {
			if v, ok := os.LookupEnv(k); ok {
				e.previous[k] = &v
			} else {
				e.previous[k] = nil
			}
		}
		if err := os.Setenv(k, e.Set[k]); err != nil {
			return fmt.Errorf("failed to set %s: %w", k, err)
		}
	}

	if len(keys) > 0 {
		loggerOf(run).Debug("environment applied", "set", keys)
	}
	return nil
}

// Destroy implements unit.Destroyer.
func (e *Env) Destroy(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for k, v := range e.previous {
		var err error
		if v == nil {
			err = os.Unsetenv(k)
		} else {
			err = os.Setenv(k, *v)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", k, err))
		}
	}
	e.previous = nil
	return errors.Join(errs...)
}

func newEnv(step *manifest.Step, _ *catalog.Registry) (unit.Template, error) {
	var opts struct {
		Require []string          `mapstructure:"require"`
		Set     map[string]string `mapstructure:"set"`
	}
	if err := catalog.Decode(step.With, &opts); err != nil {
		return nil, err
	}

	name := step.Label()
	return &unit.StaticTemplate{
		TemplateName: name,
		Count:        1,
		Build: func(context.Context) ([]unit.Unit, error) {
			return []unit.Unit{&Env{
				Label:   name,
				Require: slices.Clone(opts.Require),
				Set:     opts.Set,
			}}, nil
		},
	}, nil
}
