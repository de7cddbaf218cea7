// Package scope provides generational cancellation for boot runs.
//
// A [Scope] owns at most one live [Token]. Each token is a generation: a
// context that observers poll at their suspension points. Replacing the scope
// cancels and disposes the previous generation before handing out the next,
// so a restarted run always begins from a clean token.
//
// Once cancelled, a token never resets: Err reports context.Canceled forever.
package scope

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is one cancellation generation.
type Token struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	cancelOnce sync.Once
	onCancel   func(gen uint64)

	disposed atomic.Bool

	releaseOnce sync.Once
	finished    chan struct{}
}

func newToken(parent context.Context, gen uint64, onCancel func(uint64)) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{
		gen:      gen,
		ctx:      ctx,
		cancel:   cancel,
		onCancel: onCancel,
		finished: make(chan struct{}),
	}
}

// Generation returns the token's generation number. The first token is 1.
func (t *Token) Generation() uint64 { return t.gen }

// Context returns the context observed by suspension points of this generation.
func (t *Token) Context() context.Context { return t.ctx }

// Done is shorthand for Context().Done().
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Err returns context.Canceled once the token was cancelled, disposed, or its
// parent context ended.
func (t *Token) Err() error { return t.ctx.Err() }

// Cancelled reports whether cancellation was requested.
func (t *Token) Cancelled() bool { return t.ctx.Err() != nil }

// Disposed reports whether the owning scope released this token.
func (t *Token) Disposed() bool { return t.disposed.Load() }

// Cancel requests cancellation. Calling it more than once is a no-op.
func (t *Token) Cancel() {
	t.cancelOnce.Do(func() {
		t.cancel()
		if t.onCancel != nil {
			t.onCancel(t.gen)
		}
	})
}

// Release marks the run that owned this token as finished. Safe to call
// more than once.
func (t *Token) Release() {
	t.releaseOnce.Do(func() { close(t.finished) })
}

// Finished is closed once Release has been called.
func (t *Token) Finished() <-chan struct{} { return t.finished }

func (t *Token) dispose() {
	t.Cancel()
	t.disposed.Store(true)
}

// Scope hands out cancellation generations. The zero value is not usable;
// create one with New.
type Scope struct {
	mu       sync.Mutex
	current  *Token
	gen      uint64
	onCancel func(gen uint64)
}

// Option configures a Scope.
type Option func(*Scope)

// WithCancelHook registers fn to be called exactly once for every generation
// that gets cancelled, whether by Replace, CancelAndDispose, or Token.Cancel.
func WithCancelHook(fn func(gen uint64)) Option {
	return func(s *Scope) { s.onCancel = fn }
}

// New creates a Scope with no live token.
func New(opts ...Option) *Scope {
	s := &Scope{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Replace cancels and disposes the live token, if any, and returns a fresh
// token derived from parent. It also returns the superseded token (nil when
// there was none) so the caller can wait for its run to wind down.
func (s *Scope) Replace(parent context.Context) (next, previous *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous = s.current
	if previous != nil {
		previous.dispose()
	}

	s.gen++
	s.current = newToken(parent, s.gen, s.onCancel)
	return s.current, previous
}

// CancelAndDispose terminates the live token and leaves the scope empty.
// Returns false when there was nothing to cancel.
func (s *Scope) CancelAndDispose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return false
	}
	s.current.dispose()
	s.current = nil
	return true
}

// Current returns the live token, or nil.
func (s *Scope) Current() *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Generation returns the number of tokens handed out so far.
func (s *Scope) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// IsCurrent reports whether t is the live token.
func (s *Scope) IsCurrent(t *Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t != nil && s.current == t
}
