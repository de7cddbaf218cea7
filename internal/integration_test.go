// Package internal contains integration tests that drive a manifest through
// the catalog, the built-in steps, and a chain of orchestrators.
package internal

import (
	"context"
	"os"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/stagehand/internal/event"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/orchestrator"
	"github.com/Iron-Ham/stagehand/internal/orchestrator/phase"
	"github.com/Iron-Ham/stagehand/internal/progress"
	"github.com/Iron-Ham/stagehand/internal/steps"
)

const (
	firstStage = `
stage: first
steps:
  - name: mode
    kind: env
    with: { set: { STAGEHAND_IT_MODE: booted } }
  - ~
  - name: drill
    kind: retry
    with: { attempts: 2 }
    children:
      - { name: boom, kind: fail, with: { message: still broken } }
`
	secondStage = `
stage: second
steps:
  - { name: settle, kind: delay, with: { duration: 1ms } }
`
)

type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) record(e event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.EventType())
	}
	return out
}

func buildStage(t *testing.T, src string, opts orchestrator.Options) *orchestrator.Orchestrator {
	t.Helper()
	m, err := manifest.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	reg := steps.NewRegistry()
	if err := m.Validate(reg.Known); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	decls, warnings := reg.Resolve(m)
	if len(warnings) > 0 {
		t.Fatalf("Resolve() warnings = %v", warnings)
	}
	opts.Stage = m.StageName()
	return orchestrator.New(decls, opts)
}

// TestStageChainIntegration boots a two-stage chain: the first stage mixes a
// completing, a null, and a failing step, then deconstructs and hands off.
func TestStageChainIntegration(t *testing.T) {
	t.Setenv("STAGEHAND_IT_MODE", "original")

	bus := event.NewBus()
	log := &eventLog{}
	bus.SubscribeAll(log.record)

	second := buildStage(t, secondStage, orchestrator.Options{Bus: bus})
	first := buildStage(t, firstStage, orchestrator.Options{
		Bus:      bus,
		Progress: progress.Nop{},
		Next:     second,
	})
	t.Cleanup(func() {
		_ = first.Close(context.Background())
		_ = second.Close(context.Background())
	})

	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("first.Run() error = %v", err)
	}
	if got := os.Getenv("STAGEHAND_IT_MODE"); got != "booted" {
		t.Errorf("STAGEHAND_IT_MODE during stage = %q, want booted", got)
	}

	report, ok := first.LastReport()
	if !ok || !report.Ready {
		t.Fatalf("first report = %+v, want ready", report)
	}
	counts := []int{report.Completed, report.Failed, report.Skipped, report.Aborted}
	if diff := cmp.Diff([]int{1, 1, 1, 0}, counts); diff != "" {
		t.Errorf("completed/failed/skipped/aborted mismatch (-want +got):\n%s", diff)
	}
	if first.Phase() != phase.PhaseReady {
		t.Errorf("first.Phase() = %s, want ready", first.Phase())
	}

	if err := first.Deconstruct(context.Background()); err != nil {
		t.Fatalf("Deconstruct() error = %v", err)
	}
	if got := os.Getenv("STAGEHAND_IT_MODE"); got != "original" {
		t.Errorf("STAGEHAND_IT_MODE after deconstruct = %q, want original", got)
	}
	if first.Phase() != phase.PhaseHandedOff {
		t.Errorf("first.Phase() = %s, want handed_off", first.Phase())
	}
	if n := len(first.Instances()); n != 0 {
		t.Errorf("first ledger holds %d instances after deconstruct", n)
	}

	if second.Phase() != phase.PhaseReady {
		t.Errorf("second.Phase() = %s, want ready after handoff", second.Phase())
	}
	if r, ok := second.LastReport(); !ok || r.Completed != 1 {
		t.Errorf("second report = %+v", r)
	}

	types := log.types()
	handoff := slices.Index(types, event.TypeStageHandoff)
	if handoff < 0 {
		t.Fatalf("no handoff event in %v", types)
	}
	if !slices.Contains(types[handoff:], event.TypeRunReady) {
		t.Errorf("second stage never became ready after handoff: %v", types)
	}
	if slices.Index(types, event.TypeUnitFinished) > handoff {
		t.Errorf("first stage units finished after handoff: %v", types)
	}
}

// TestRestartIntegration re-runs a ready stage: the instances of the earlier
// run are torn down before the new run spawns its own.
func TestRestartIntegration(t *testing.T) {
	t.Setenv("STAGEHAND_IT_MODE", "original")

	stage := buildStage(t, firstStage, orchestrator.Options{})
	t.Cleanup(func() { _ = stage.Close(context.Background()) })

	for i := range 2 {
		if err := stage.Run(context.Background()); err != nil {
			t.Fatalf("Run() #%d error = %v", i+1, err)
		}
	}
	if stage.Generation() != 2 {
		t.Errorf("Generation() = %d, want 2", stage.Generation())
	}
	for _, e := range stage.Instances() {
		if e.Generation != 2 {
			t.Errorf("instance %s from generation %d survived the restart", e.ID(), e.Generation)
		}
	}

	if err := stage.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := os.Getenv("STAGEHAND_IT_MODE"); got != "original" {
		t.Errorf("STAGEHAND_IT_MODE after close = %q, want original", got)
	}
}

// TestSameNamedStepsAreTornDown declares two unnamed steps of one kind. Both
// must land in the ledger and be destroyed, newest first.
func TestSameNamedStepsAreTornDown(t *testing.T) {
	t.Setenv("STAGEHAND_IT_A", "a0")
	t.Setenv("STAGEHAND_IT_B", "b0")

	bus := event.NewBus()
	var (
		mu        sync.Mutex
		destroyed []string
	)
	bus.Subscribe(event.TypeInstanceDestroyed, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		destroyed = append(destroyed, e.(event.InstanceDestroyedEvent).InstanceID)
	})

	stage := buildStage(t, `
stage: twins
steps:
  - { kind: env, with: { set: { STAGEHAND_IT_A: a1 } } }
  - { kind: env, with: { set: { STAGEHAND_IT_B: b1 } } }
`, orchestrator.Options{Bus: bus})
	t.Cleanup(func() { _ = stage.Close(context.Background()) })

	if err := stage.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	entries := stage.Instances()
	if len(entries) != 2 {
		t.Fatalf("ledger holds %d instances, want 2", len(entries))
	}
	if entries[0].ID() == entries[1].ID() {
		t.Fatalf("instances share ID %q", entries[0].ID())
	}
	if os.Getenv("STAGEHAND_IT_A") != "a1" || os.Getenv("STAGEHAND_IT_B") != "b1" {
		t.Errorf("env during stage: A=%q B=%q", os.Getenv("STAGEHAND_IT_A"), os.Getenv("STAGEHAND_IT_B"))
	}

	if err := stage.Deconstruct(context.Background()); err != nil {
		t.Fatalf("Deconstruct() error = %v", err)
	}
	if os.Getenv("STAGEHAND_IT_A") != "a0" || os.Getenv("STAGEHAND_IT_B") != "b0" {
		t.Errorf("env after deconstruct: A=%q B=%q", os.Getenv("STAGEHAND_IT_A"), os.Getenv("STAGEHAND_IT_B"))
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{entries[1].ID(), entries[0].ID()}
	if diff := cmp.Diff(want, destroyed); diff != "" {
		t.Errorf("destruction order mismatch (-want +got):\n%s", diff)
	}
}
