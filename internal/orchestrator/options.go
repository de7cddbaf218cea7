package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/stagehand/internal/event"
	"github.com/Iron-Ham/stagehand/internal/logging"
	"github.com/Iron-Ham/stagehand/internal/orchestrator/runner"
	"github.com/Iron-Ham/stagehand/internal/progress"
	"github.com/Iron-Ham/stagehand/internal/schedule"
	"github.com/Iron-Ham/stagehand/internal/scope"
)

// DefaultJoinGrace is how long Run waits for a superseded run to wind down.
const DefaultJoinGrace = 5 * time.Second

// DefaultStage names an orchestrator whose options leave Stage empty.
const DefaultStage = "boot"

// Prerequisite is a singleton service created during the basics phase.
// It is created only if no service with the same name exists, so it
// survives restarts. Services implementing io.Closer are closed by Close.
type Prerequisite struct {
	Name   string
	Create func(ctx context.Context) (any, error)
}

// Metrics receives run-level observations in addition to the runner's.
type Metrics interface {
	runner.Metrics
	RunStarted(generation uint64)
	RunFinished(result string, d time.Duration)
	InstanceDestroyed(err error)
}

// Successor receives control once deconstruction has finished. from is the
// token of the handing-off run and may already be cancelled, or nil.
type Successor interface {
	Handoff(ctx context.Context, from *scope.Token) error
}

// Options configures an Orchestrator. The zero value is usable.
type Options struct {
	// Stage names the orchestrator in logs, events, and handoffs.
	Stage string

	Logger *logging.Logger

	// Progress is the progress surface. Nil is a configuration warning
	// logged once per run; the run proceeds without progress.
	Progress progress.Controller
	Animated bool

	Scheduler schedule.Scheduler
	Bus       *event.Bus
	Metrics   Metrics
	Tracer    trace.Tracer

	Prerequisites []Prerequisite

	// FanOut executes every unit an instance carries.
	FanOut bool

	// JoinGrace bounds the wait for a superseded run. Zero means
	// DefaultJoinGrace; a negative value skips the wait.
	JoinGrace time.Duration

	// Next receives control after Deconstruct.
	Next Successor
}
