// Package runner executes one ordered list of unit declarations, publishing
// progress before each slot, containing unit failures, and aborting on
// cancellation.
package runner

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/event"
	"github.com/Iron-Ham/stagehand/internal/logging"
	"github.com/Iron-Ham/stagehand/internal/progress"
	"github.com/Iron-Ham/stagehand/internal/schedule"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

// Ledger records spawned instances. Append returns an error wrapping
// errors.ErrStaleGeneration when generation has been superseded.
type Ledger interface {
	Append(ctx context.Context, generation uint64, inst *unit.Instance) error
}

// Metrics receives per-slot observations.
type Metrics interface {
	SlotFinished(phase string, status SlotStatus, d time.Duration)
	ProgressPublished(phase string, value float64)
}

type nopMetrics struct{}

func (nopMetrics) SlotFinished(string, SlotStatus, time.Duration) {}

func (nopMetrics) ProgressPublished(string, float64) {}

type nopLedger struct{}

func (nopLedger) Append(context.Context, uint64, *unit.Instance) error { return nil }

// Config holds the collaborators of a Runner. Only Name is required.
type Config struct {
	// Name labels the phase in logs, events, and spans.
	Name string

	// FanOut executes every unit an instance carries, each as its own
	// progress slot. Otherwise only the first unit is invoked.
	FanOut bool

	// Progress receives fractions in [0,1]. Nil disables progress.
	Progress progress.Controller
	Animated bool

	Scheduler schedule.Scheduler
	Ledger    Ledger
	Bus       *event.Bus
	Metrics   Metrics
	Tracer    trace.Tracer
	Logger    *logging.Logger
}

// Runner executes phases. It is stateless between calls to Run.
type Runner struct {
	cfg Config
}

// New creates a Runner, filling unset collaborators with no-ops.
func New(cfg Config) *Runner {
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Immediate{}
	}
	if cfg.Ledger == nil {
		cfg.Ledger = nopLedger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.Nop{}
	}
	return &Runner{cfg: cfg}
}

// pass carries the state of one Run call.
type pass struct {
	r      *Runner
	run    unit.RunContext
	runID  string
	gen    uint64
	total  int
	result *Result
	logger *logging.Logger
}

// Run executes decls in order. The list is copied first, so callers may
// mutate their slice while the phase is in flight.
//
// The returned error is non-nil only when the phase was cancelled; it then
// matches both errors.ErrCancelled and context.Canceled. Unit failures are
// recorded in the Result and never returned.
func (r *Runner) Run(ctx context.Context, run unit.RunContext, decls []unit.Declaration) (*Result, error) {
	decls = slices.Clone(decls)
	start := time.Now()

	p := &pass{
		r:      r,
		run:    run,
		result: &Result{Phase: r.cfg.Name},
		logger: r.cfg.Logger.WithPhase(r.cfg.Name),
	}
	if run != nil {
		p.runID = run.RunID()
		p.gen = run.Generation()
	}
	p.total = p.count(decls)
	p.result.Total = p.total

	ctx, span := r.cfg.Tracer.Start(ctx, "phase."+r.cfg.Name, trace.WithAttributes(
		attribute.String("stagehand.run_id", p.runID),
		attribute.Int("stagehand.slots", p.total),
		attribute.Bool("stagehand.fan_out", r.cfg.FanOut),
	))
	defer span.End()

	err := p.execute(ctx, decls)
	p.result.Duration = time.Since(start)
	if err != nil {
		p.result.Cancelled = true
		span.SetStatus(codes.Error, "cancelled")
		p.logger.Info("phase cancelled",
			"completed_slots", len(p.result.Slots),
			"total_slots", p.total,
		)
		return p.result, err
	}

	span.SetAttributes(
		attribute.Int("stagehand.failed", p.result.Count(SlotFailed)),
		attribute.Int("stagehand.skipped", p.result.Count(SlotSkipped)),
	)
	p.logger.Info("phase complete",
		"total_slots", p.total,
		"failed", p.result.Count(SlotFailed),
		"skipped", p.result.Count(SlotSkipped),
		"duration_ms", p.result.Duration.Milliseconds(),
	)
	return p.result, nil
}

// count is the progress denominator. In fan-out mode every declaration
// reserves max(1, UnitCount) slots; otherwise each declaration is one slot.
func (p *pass) count(decls []unit.Declaration) int {
	if !p.r.cfg.FanOut {
		return len(decls)
	}
	total := 0
	for _, d := range decls {
		total += reserved(d)
	}
	return total
}

func reserved(d unit.Declaration) int {
	if d.Template == nil {
		return 1
	}
	return max(1, d.Template.UnitCount())
}

func (p *pass) execute(ctx context.Context, decls []unit.Declaration) error {
	if p.total == 0 {
		p.publish(1.0)
		return nil
	}

	base := 0
	for _, d := range decls {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		width := 1
		if p.r.cfg.FanOut {
			width = reserved(d)
		}
		if err := p.declaration(ctx, base, width, d); err != nil {
			return err
		}
		base += width
	}

	p.publish(1.0)
	if err := p.r.cfg.Scheduler.Yield(ctx); err != nil {
		return cancelled(err)
	}
	return nil
}

// declaration runs one declared slot group starting at progress slot base.
func (p *pass) declaration(ctx context.Context, base, width int, d unit.Declaration) error {
	p.publish(p.fraction(base))
	label := d.Label()

	if d.Template == nil {
		p.skip(base, label, "", errors.ErrNullDeclaration)
		return nil
	}

	inst, err := d.Template.Instantiate(ctx)
	if err != nil {
		if unit.Classify(ctx, err) == unit.Cancelled {
			return cancelled(err)
		}
		p.fail(base, label, "", errors.NewUnitError(label, base, err).WithMessage("instantiation failed"), 0)
		return nil
	}

	if err := p.r.cfg.Ledger.Append(ctx, p.gen, inst); err != nil {
		switch {
		case errors.Is(err, errors.ErrStaleGeneration):
			return cancelled(err)
		case errors.Is(err, errors.ErrDuplicateInstance):
			// The ledger destroyed it; running its units would leak their effects.
			p.fail(base, label, inst.ID, errors.NewUnitError(label, base, err).WithMessage("instance not recorded"), 0)
			return nil
		}
		p.logger.Warn("instance not recorded", "instance_id", inst.ID, "error", err.Error())
	}

	if len(inst.Units) == 0 {
		p.skip(base, label, inst.ID, errors.ErrNoContract)
		return nil
	}

	units := inst.Units[:1]
	if p.r.cfg.FanOut {
		units = inst.Units
		if len(units) > width {
			warning := errors.NewConfigWarning(label, fmt.Errorf("instance carries %d units but its template declared %d; the extra units are not run", len(units), width))
			p.logger.Warn(warning.Error(), "instance_id", inst.ID)
			units = units[:width]
		}
	}
	for j, u := range units {
		slot := base + j
		if j > 0 {
			if err := ctx.Err(); err != nil {
				return cancelled(err)
			}
			p.publish(p.fraction(slot))
		}

		name := unit.Label(u, label)
		if p.r.cfg.FanOut && len(units) > 1 && name == label {
			name = fmt.Sprintf("%s[%d]", label, j)
		}
		if err := p.invoke(ctx, slot, name, inst.ID, u); err != nil {
			return err
		}
		if err := p.r.cfg.Scheduler.Yield(ctx); err != nil {
			return cancelled(err)
		}
	}
	return nil
}

// invoke runs one unit and records its outcome. Only cancellation is
// returned.
func (p *pass) invoke(ctx context.Context, slot int, name, instanceID string, u unit.Unit) error {
	logger := p.logger.WithUnit(name, slot)
	p.emit(event.NewUnitStartedEvent(p.runID, slot, p.total, name))

	ctx, span := p.r.cfg.Tracer.Start(ctx, "unit.setup", trace.WithAttributes(
		attribute.String("stagehand.unit", name),
		attribute.String("stagehand.instance", instanceID),
		attribute.Int("stagehand.slot", slot),
	))
	start := time.Now()
	err := unit.Run(ctx, u, p.run)
	d := time.Since(start)
	outcome := unit.Classify(ctx, err)
	span.SetAttributes(attribute.String("stagehand.outcome", outcome.String()))

	switch outcome {
	case unit.Cancelled:
		span.SetStatus(codes.Error, "cancelled")
		span.End()
		logger.Info("unit cancelled", "duration_ms", d.Milliseconds())
		p.record(Slot{Index: slot, Label: name, Instance: instanceID, Status: SlotCancelled, Err: err, Duration: d})
		p.emit(event.NewUnitFinishedEvent(p.runID, slot, name, outcome.String(), "", d))
		return cancelled(err)

	case unit.Failed:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		p.fail(slot, name, instanceID, errors.NewUnitError(name, slot, err), d)
		return nil
	}

	span.End()
	logger.Debug("unit completed", "duration_ms", d.Milliseconds())
	p.record(Slot{Index: slot, Label: name, Instance: instanceID, Status: SlotCompleted, Duration: d})
	p.emit(event.NewUnitFinishedEvent(p.runID, slot, name, outcome.String(), "", d))
	return nil
}

func (p *pass) fail(slot int, name, instanceID string, err *errors.UnitError, d time.Duration) {
	p.logger.WithUnit(name, slot).Error("unit failed",
		"instance_id", instanceID,
		"error", err.Error(),
	)
	p.record(Slot{Index: slot, Label: name, Instance: instanceID, Status: SlotFailed, Err: err, Duration: d})
	p.emit(event.NewUnitFinishedEvent(p.runID, slot, name, unit.Failed.String(), err.Error(), d))
}

func (p *pass) skip(slot int, name, instanceID string, reason error) {
	warning := errors.NewConfigWarning(name, reason)
	p.logger.WithUnit(name, slot).Warn(warning.Error(), "instance_id", instanceID)
	p.record(Slot{Index: slot, Label: name, Instance: instanceID, Status: SlotSkipped, Err: warning})
	p.emit(event.NewUnitSkippedEvent(p.runID, slot, name, reason.Error()))
}

func (p *pass) record(s Slot) {
	p.result.Slots = append(p.result.Slots, s)
	p.r.cfg.Metrics.SlotFinished(p.r.cfg.Name, s.Status, s.Duration)
}

func (p *pass) fraction(slot int) float64 {
	return progress.Clamp(float64(slot) / float64(p.total))
}

func (p *pass) publish(v float64) {
	p.r.cfg.Progress.SetProgress(v, p.r.cfg.Animated)
	p.r.cfg.Metrics.ProgressPublished(p.r.cfg.Name, v)
	p.emit(event.NewProgressEvent(p.runID, v))
}

func (p *pass) emit(e event.Event) {
	if p.r.cfg.Bus != nil {
		p.r.cfg.Bus.Publish(e)
	}
}

// cancelled wraps cause so it matches errors.ErrCancelled and, when the
// cause carries it, context.Canceled.
func cancelled(cause error) error {
	if errors.Is(cause, errors.ErrCancelled) {
		return cause
	}
	return fmt.Errorf("%w: %w", errors.ErrCancelled, cause)
}
