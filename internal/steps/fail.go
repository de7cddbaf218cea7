package steps

import (
	"context"

	"github.com/Iron-Ham/stagehand/internal/catalog"
	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

const defaultFailMessage = "step failed"

func newFail(step *manifest.Step, _ *catalog.Registry) (unit.Template, error) {
	var opts struct {
		Message string `mapstructure:"message"`
	}
	if err := catalog.Decode(step.With, &opts); err != nil {
		return nil, err
	}
	if opts.Message == "" {
		opts.Message = defaultFailMessage
	}

	return unit.Of(step.Label(), unit.Func(func(context.Context, unit.RunContext) error {
		return errors.New(opts.Message)
	})), nil
}

// newEmpty builds a template whose instances carry no units. The runner
// records the slot as skipped.
func newEmpty(step *manifest.Step, _ *catalog.Registry) (unit.Template, error) {
	if err := catalog.Decode(step.With, &struct{}{}); err != nil {
		return nil, err
	}
	return &unit.StaticTemplate{TemplateName: step.Label()}, nil
}
