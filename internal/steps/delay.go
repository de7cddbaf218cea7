package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/stagehand/internal/catalog"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

// Delay waits for Duration or until the run is cancelled.
type Delay struct {
	Label    string
	Duration time.Duration
}

// Name implements unit.Named.
func (d *Delay) Name() string { return d.Label }

// Setup implements unit.Unit.
func (d *Delay) Setup(ctx context.Context, _ unit.RunContext) error {
	timer := time.NewTimer(d.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newDelay(step *manifest.Step, _ *catalog.Registry) (unit.Template, error) {
	var opts struct {
		Duration time.Duration `mapstructure:"duration"`
	}
	if err := catalog.Decode(step.With, &opts); err != nil {
		return nil, err
	}
	if opts.Duration < 0 {
		return nil, fmt.Errorf("duration must not be negative, got %s", opts.Duration)
	}
	return unit.Of(step.Label(), &Delay{Label: step.Label(), Duration: opts.Duration}), nil
}
