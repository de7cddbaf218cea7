package orchestrator

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/event"
	"github.com/Iron-Ham/stagehand/internal/logging"
	"github.com/Iron-Ham/stagehand/internal/metrics"
	"github.com/Iron-Ham/stagehand/internal/orchestrator/lifecycle"
	"github.com/Iron-Ham/stagehand/internal/orchestrator/phase"
	"github.com/Iron-Ham/stagehand/internal/orchestrator/runner"
	"github.com/Iron-Ham/stagehand/internal/progress"
	"github.com/Iron-Ham/stagehand/internal/readiness"
	"github.com/Iron-Ham/stagehand/internal/schedule"
	"github.com/Iron-Ham/stagehand/internal/scope"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

// Orchestrator runs one stage. Create it with New and pass the handle to
// whatever needs to trigger runs or subscribe to readiness.
type Orchestrator struct {
	stage     string
	logger    *logging.Logger
	progress  progress.Controller
	animated  bool
	scheduler schedule.Scheduler
	bus       *event.Bus
	metrics   Metrics
	tracer    trace.Tracer
	prereqs   []Prerequisite
	joinGrace time.Duration
	next      Successor

	scope   *scope.Scope
	ledger  *lifecycle.Ledger
	machine *phase.Machine
	runner  *runner.Runner
	ready   readiness.Signal

	runID atomic.Value

	// phaseMu serializes machine transitions with the active-run check.
	// Lock order: phaseMu before mu.
	phaseMu sync.Mutex
	active  *scope.Token

	mu           sync.Mutex
	decls        []unit.Declaration
	services     map[string]any
	serviceOrder []string
	report       *RunReport
}

// New creates an Orchestrator over decls. The slice is copied.
func New(decls []unit.Declaration, opts Options) *Orchestrator {
	if opts.Stage == "" {
		opts.Stage = DefaultStage
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.Immediate{}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.JoinGrace == 0 {
		opts.JoinGrace = DefaultJoinGrace
	}

	o := &Orchestrator{
		stage:     opts.Stage,
		logger:    opts.Logger.With("stage", opts.Stage),
		progress:  opts.Progress,
		animated:  opts.Animated,
		scheduler: opts.Scheduler,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		prereqs:   slices.Clone(opts.Prerequisites),
		joinGrace: opts.JoinGrace,
		next:      opts.Next,
		machine:   phase.NewMachine(),
		decls:     slices.Clone(decls),
		services:  make(map[string]any),
	}

	o.scope = scope.New(scope.WithCancelHook(func(gen uint64) {
		o.logger.Debug("cancellation requested", "generation", gen)
	}))
	o.ledger = lifecycle.NewLedger(lifecycle.Callbacks{
		OnDestroyed: o.onInstanceDestroyed,
	}, o.logger)
	o.machine.OnPhaseChange(func(from, to phase.Phase) {
		o.emit(event.NewPhaseChangeEvent(o.currentRunID(), string(from), string(to)))
	})
	o.ready.OnPanic(func(r *panics.Recovered) {
		o.logger.Error("readiness subscriber panicked", "panic", fmt.Sprint(r.Value))
	})

	var m runner.Metrics
	if opts.Metrics != nil {
		m = opts.Metrics
	}
	o.runner = runner.New(runner.Config{
		Name:      "main",
		FanOut:    opts.FanOut,
		Progress:  opts.Progress,
		Animated:  opts.Animated,
		Scheduler: opts.Scheduler,
		Ledger:    o.ledger,
		Bus:       opts.Bus,
		Metrics:   m,
		Tracer:    opts.Tracer,
		Logger:    o.logger,
	})
	return o
}

// Stage returns the stage name.
func (o *Orchestrator) Stage() string { return o.stage }

// Phase returns the current state of the orchestrator.
func (o *Orchestrator) Phase() phase.Phase { return o.machine.CurrentPhase() }

// Generation returns the number of runs started so far.
func (o *Orchestrator) Generation() uint64 { return o.scope.Generation() }

// Instances returns the recorded instances in creation order.
func (o *Orchestrator) Instances() []lifecycle.Entry { return o.ledger.Entries() }

// SetDeclarations replaces the declaration list used by the next run. A run
// already in flight keeps the list it started with.
func (o *Orchestrator) SetDeclarations(decls []unit.Declaration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decls = slices.Clone(decls)
}

// OnReady subscribes fn to the next completed run. Delivery detaches the
// subscriber.
func (o *Orchestrator) OnReady(fn func()) readiness.Subscription {
	return o.ready.Subscribe(fn)
}

// LastReport returns the report of the most recent run that finished,
// whether it became ready or was cancelled.
func (o *Orchestrator) LastReport() (RunReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.report == nil {
		return RunReport{}, false
	}
	return *o.report, true
}

// Service returns a prerequisite created by an earlier basics phase.
func (o *Orchestrator) Service(name string) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	svc, ok := o.services[name]
	return svc, ok
}

// Run executes one full run: basics, main, cleanup. Calling Run while a run
// is in flight cancels that run and starts over. The returned error is
// non-nil only when this run was cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	start := time.Now()
	token, previous := o.scope.Replace(ctx)
	defer token.Release()

	gen := token.Generation()
	runID := fmt.Sprintf("%s-%d", o.stage, gen)
	o.ledger.Begin(gen)

	if previous != nil {
		o.join(previous)
	}

	o.mu.Lock()
	decls := slices.Clone(o.decls)
	o.mu.Unlock()
	o.runID.Store(runID)

	rc := newRunContext(o, runID, gen)
	logger := rc.logger
	report := &RunReport{RunID: runID, Stage: o.stage, Generation: gen}

	runCtx, span := o.tracer.Start(token.Context(), "boot.run", trace.WithAttributes(
		attribute.String("stagehand.stage", o.stage),
		attribute.String("stagehand.run_id", runID),
		attribute.Int64("stagehand.generation", int64(gen)),
	))
	defer span.End()

	o.phaseMu.Lock()
	o.active = token
	o.machine.Begin("run " + runID)
	o.phaseMu.Unlock()

	if o.metrics != nil {
		o.metrics.RunStarted(gen)
	}
	o.emit(event.NewRunStartedEvent(runID, o.stage, gen, len(decls)))
	logger.Info("run started", "declarations", len(decls), "superseded", previous != nil)

	o.destroyStale(runCtx, gen)

	if err := o.basics(runCtx, rc, report); err != nil {
		return o.abort(token, rc, report, phase.PhaseRunningBasics, err, start, span)
	}

	if !o.transition(token, phase.PhaseRunningMain, "basics complete") {
		return o.abort(token, rc, report, phase.PhaseRunningBasics, token.Err(), start, span)
	}
	res, err := o.runner.Run(runCtx, rc, decls)
	report.absorb(res)
	if err != nil {
		return o.abort(token, rc, report, phase.PhaseRunningMain, err, start, span)
	}

	if !o.transition(token, phase.PhaseCleaningUp, "main complete") {
		return o.abort(token, rc, report, phase.PhaseRunningMain, token.Err(), start, span)
	}
	if o.progress != nil {
		o.progress.Hide()
	}
	if err := o.scheduler.Yield(runCtx); err != nil {
		return o.abort(token, rc, report, phase.PhaseCleaningUp, err, start, span)
	}
	if !o.transition(token, phase.PhaseReady, "cleanup complete") {
		return o.abort(token, rc, report, phase.PhaseCleaningUp, token.Err(), start, span)
	}

	notified := o.ready.Fire()
	report.Ready = true
	report.Duration = time.Since(start)
	o.finish(report)

	if o.metrics != nil {
		o.metrics.RunFinished(metrics.ResultReady, report.Duration)
	}
	o.emit(event.NewRunReadyEvent(runID, o.stage, report.Completed, report.Failed, report.Skipped, report.Duration))
	span.SetAttributes(attribute.Int("stagehand.failed", report.Failed))
	logger.Info("run ready",
		"completed", report.Completed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"subscribers_notified", notified,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return nil
}

// join waits up to the join grace for a superseded run to release its token.
// A unit that ignores cancellation cannot be interrupted; the new run then
// proceeds and the old run's later ledger appends are destroyed on arrival.
func (o *Orchestrator) join(previous *scope.Token) {
	if o.joinGrace < 0 {
		return
	}
	timer := time.NewTimer(o.joinGrace)
	defer timer.Stop()

	select {
	case <-previous.Finished():
	case <-timer.C:
		o.logger.Warn("superseded run did not finish within grace period",
			"generation", previous.Generation(),
			"grace_ms", o.joinGrace.Milliseconds(),
		)
	}
}

// destroyStale tears down instances left by superseded runs, newest first.
func (o *Orchestrator) destroyStale(ctx context.Context, gen uint64) {
	stale := o.ledger.StaleBefore(gen)
	if len(stale) == 0 {
		return
	}
	o.logger.Info("destroying instances from earlier runs", "count", len(stale))
	o.destroyEntries(context.WithoutCancel(ctx), stale)
	o.ledger.Prune()
}

// basics creates missing prerequisites and shows the progress surface.
// Only cancellation is returned; a failed prerequisite is logged and the
// run continues.
func (o *Orchestrator) basics(ctx context.Context, rc *runContext, report *RunReport) error {
	for _, p := range o.prereqs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, exists := o.Service(p.Name); exists {
			continue
		}
		if p.Create == nil {
			rc.logger.Warn(errors.NewConfigWarning(p.Name, errors.New("prerequisite has no constructor")).Error())
			continue
		}

		svc, err := p.Create(ctx)
		if err != nil {
			if unit.Classify(ctx, err) == unit.Cancelled {
				return err
			}
			rc.logger.Error("prerequisite failed", "service", p.Name, "error", err.Error())
			report.BasicsErrors = append(report.BasicsErrors, fmt.Errorf("prerequisite %s: %w", p.Name, err))
			report.Failed++
			continue
		}

		o.mu.Lock()
		o.services[p.Name] = svc
		o.serviceOrder = append(o.serviceOrder, p.Name)
		o.mu.Unlock()
		report.Services = append(report.Services, p.Name)
		rc.logger.Debug("prerequisite created", "service", p.Name)
	}

	if o.progress == nil {
		rc.logger.Warn(errors.NewConfigWarning("progress", errors.ErrNoProgress).Error())
	} else {
		o.progress.Show()
	}

	return o.scheduler.Yield(ctx)
}

// transition moves the state machine on behalf of token. It reports false
// when token is no longer the active run.
func (o *Orchestrator) transition(token *scope.Token, to phase.Phase, reason string) bool {
	o.phaseMu.Lock()
	defer o.phaseMu.Unlock()
	if o.active != token || token.Cancelled() {
		return false
	}
	if err := o.machine.TransitionTo(to, reason); err != nil {
		o.logger.Error("phase transition rejected", "error", err.Error())
		return false
	}
	return true
}

// abort ends a cancelled run. Cancellation is normal teardown: it is logged
// at Info and the readiness signal does not fire.
func (o *Orchestrator) abort(token *scope.Token, rc *runContext, report *RunReport, at phase.Phase, cause error, start time.Time, span trace.Span) error {
	rc.detach()
	report.Cancelled = true
	report.Duration = time.Since(start)

	o.phaseMu.Lock()
	stillActive := o.active == token
	if stillActive {
		if err := o.machine.TransitionTo(phase.PhaseCancelled, "cancelled during "+string(at)); err != nil {
			o.logger.Debug("cancel transition skipped", "error", err.Error())
		}
		o.finish(report)
	}
	o.phaseMu.Unlock()

	if stillActive && o.progress != nil && o.scope.Current() == nil {
		o.progress.Hide()
	}

	if o.metrics != nil {
		o.metrics.RunFinished(metrics.ResultCancelled, report.Duration)
	}
	o.emit(event.NewRunCancelledEvent(rc.runID, o.stage, rc.gen, string(at)))
	span.SetStatus(codes.Error, "cancelled")
	rc.logger.Info("run cancelled", "phase", string(at))

	if cause == nil {
		cause = context.Canceled
	}
	if errors.Is(cause, errors.ErrCancelled) {
		return cause
	}
	return fmt.Errorf("%w: %w", errors.ErrCancelled, cause)
}

func (o *Orchestrator) finish(report *RunReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.report = report
}

// Deconstruct destroys every recorded instance in reverse creation order,
// clears the ledger, and hands off to the configured successor. It requires
// a completed run; an orchestrator that never ran returns ErrNotReady.
func (o *Orchestrator) Deconstruct(ctx context.Context) error {
	o.phaseMu.Lock()
	current := o.machine.CurrentPhase()
	switch {
	case current.IsRunning():
		o.phaseMu.Unlock()
		return errors.ErrRunInProgress
	case current != phase.PhaseReady:
		o.phaseMu.Unlock()
		return fmt.Errorf("deconstruct from %s: %w", current, errors.ErrNotReady)
	}
	if err := o.machine.TransitionTo(phase.PhaseDeconstructing, "deconstruct"); err != nil {
		o.phaseMu.Unlock()
		return err
	}
	o.phaseMu.Unlock()

	ctx, span := o.tracer.Start(ctx, "boot.deconstruct", trace.WithAttributes(
		attribute.String("stagehand.stage", o.stage),
	))
	defer span.End()

	entries := o.ledger.Backward()
	o.logger.Info("deconstructing", "instances", len(entries))
	failed := o.destroyEntries(ctx, entries)
	o.ledger.Clear()

	o.phaseMu.Lock()
	if err := o.machine.TransitionTo(phase.PhaseHandedOff, "deconstruction complete"); err != nil {
		o.logger.Error("phase transition rejected", "error", err.Error())
	}
	o.phaseMu.Unlock()

	if failed > 0 {
		o.logger.Warn("deconstruction finished with teardown failures", "failed", failed)
	}

	if o.next == nil {
		o.emit(event.NewHandoffEvent(o.stage, ""))
		o.logger.Info("deconstruction complete, no successor")
		return nil
	}

	to := ""
	if named, ok := o.next.(interface{ Stage() string }); ok {
		to = named.Stage()
	}
	o.emit(event.NewHandoffEvent(o.stage, to))
	o.logger.Info("handing off", "to", to)
	return o.next.Handoff(ctx, o.scope.Current())
}

// destroyEntries destroys entries in the order given, yielding one tick
// between destructions. Teardown is not abortable: a cancelled ctx does not
// stop it. Returns the number of failed teardowns.
func (o *Orchestrator) destroyEntries(ctx context.Context, entries []lifecycle.Entry) int {
	yieldCtx := context.WithoutCancel(ctx)
	failed := 0
	for i, e := range entries {
		if i > 0 {
			_ = o.scheduler.Yield(yieldCtx)
		}
		if err := o.ledger.Destroy(ctx, e.ID()); err != nil {
			failed++
		}
	}
	return failed
}

// Handoff implements Successor: a handed-off orchestrator starts its own run.
func (o *Orchestrator) Handoff(ctx context.Context, from *scope.Token) error {
	if from != nil {
		o.logger.Info("received handoff",
			"from_generation", from.Generation(),
			"from_cancelled", from.Cancelled(),
		)
	}
	return o.Run(ctx)
}

// CancelAndDispose cancels the run in flight, if any, and leaves no live
// token. It reports whether there was a token to cancel.
func (o *Orchestrator) CancelAndDispose() bool {
	return o.scope.CancelAndDispose()
}

// Close cancels any run, destroys remaining instances in reverse order, and
// closes prerequisites that implement io.Closer, newest first.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.CancelAndDispose()

	o.destroyEntries(ctx, o.ledger.Backward())
	o.ledger.Clear()

	o.mu.Lock()
	order := slices.Clone(o.serviceOrder)
	services := o.services
	o.services = make(map[string]any)
	o.serviceOrder = nil
	o.mu.Unlock()

	var errs []error
	for _, name := range slices.Backward(order) {
		if c, ok := services[name].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) onInstanceDestroyed(e lifecycle.Entry, err error) {
	if o.metrics != nil {
		o.metrics.InstanceDestroyed(err)
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	o.emit(event.NewInstanceDestroyedEvent(e.ID(), e.Template(), msg))
}

func (o *Orchestrator) currentRunID() string {
	id, _ := o.runID.Load().(string)
	return id
}

func (o *Orchestrator) emit(e event.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}
