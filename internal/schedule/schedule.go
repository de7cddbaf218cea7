// Package schedule abstracts the host loop that a boot run yields to.
//
// The orchestrator is a sequential script. After each unit and each phase it
// hands control back for one tick so work the unit scheduled internally gets
// a chance to run. Yield returns ctx.Err() when the run was cancelled while
// suspended, which is how cancellation is observed between units.
package schedule

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Scheduler suspends the caller for one tick.
type Scheduler interface {
	Yield(ctx context.Context) error
}

// Func adapts a plain function to Scheduler.
type Func func(ctx context.Context) error

// Yield calls f.
func (f Func) Yield(ctx context.Context) error { return f(ctx) }

// Immediate yields the processor to other goroutines and returns at once.
type Immediate struct{}

// Yield implements Scheduler.
func (Immediate) Yield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runtime.Gosched()
	return ctx.Err()
}

// Ticker is a frame loop: every Yield waits for the next frame boundary.
// Frames that nobody waited on are dropped, as with time.Ticker. Once
// stopped, Yield no longer waits and returns at once.
type Ticker struct {
	interval time.Duration

	mu      sync.Mutex
	ticker  *time.Ticker
	stopped chan struct{}
}

// DefaultFrame is roughly one frame at 60Hz.
const DefaultFrame = 16 * time.Millisecond

// NewTicker creates a frame loop with the given interval. A non-positive
// interval uses DefaultFrame.
func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultFrame
	}
	return &Ticker{interval: interval, stopped: make(chan struct{})}
}

// Interval returns the frame length.
func (t *Ticker) Interval() time.Duration { return t.interval }

// frames starts the ticker on first use. It returns nil once stopped.
func (t *Ticker) frames() (<-chan time.Time, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped == nil {
		t.stopped = make(chan struct{})
	}
	select {
	case <-t.stopped:
		return nil, t.stopped
	default:
	}
	if t.ticker == nil {
		t.ticker = time.NewTicker(t.interval)
	}
	return t.ticker.C, t.stopped
}

// Yield implements Scheduler.
func (t *Ticker) Yield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frames, stopped := t.frames()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		return ctx.Err()
	case <-frames:
		return ctx.Err()
	}
}

// Stop releases the underlying ticker and wakes any waiting Yield. It is
// safe to call more than once.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped == nil {
		t.stopped = make(chan struct{})
	}
	select {
	case <-t.stopped:
		return
	default:
	}
	close(t.stopped)
	if t.ticker != nil {
		t.ticker.Stop()
	}
}
