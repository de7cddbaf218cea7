package orchestrator

import (
	"sync"

	"github.com/Iron-Ham/stagehand/internal/logging"
	"github.com/Iron-Ham/stagehand/internal/readiness"
)

// runContext is the unit.RunContext handed to every unit of one run.
type runContext struct {
	o      *Orchestrator
	runID  string
	gen    uint64
	logger *logging.Logger

	mu   sync.Mutex
	subs []readiness.Subscription
}

func newRunContext(o *Orchestrator, runID string, gen uint64) *runContext {
	return &runContext{
		o:      o,
		runID:  runID,
		gen:    gen,
		logger: o.logger.WithRun(runID, gen),
	}
}

func (rc *runContext) RunID() string { return rc.runID }

func (rc *runContext) Generation() uint64 { return rc.gen }

// OnReady subscribes fn to the orchestrator's readiness signal. If the run
// is cancelled the subscription is dropped, so a unit from an abandoned run
// never hears a later run's signal.
func (rc *runContext) OnReady(fn func()) readiness.Subscription {
	sub := rc.o.ready.Subscribe(fn)
	rc.mu.Lock()
	rc.subs = append(rc.subs, sub)
	rc.mu.Unlock()
	return sub
}

func (rc *runContext) Service(name string) (any, bool) { return rc.o.Service(name) }

func (rc *runContext) Logger() *logging.Logger { return rc.logger }

// detach drops every readiness subscription made through this run.
func (rc *runContext) detach() {
	rc.mu.Lock()
	subs := rc.subs
	rc.subs = nil
	rc.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
