// Package readiness provides the one-shot broadcast fired when a boot run
// completes.
//
// A Signal is an ordered observer list. Fire delivers to a snapshot of the
// current subscribers and then clears the list, so every subscriber hears at
// most one delivery per run and must subscribe again to hear the next one.
// Delivery order between subscribers is not part of the contract.
package readiness

import (
	"sync"

	"github.com/sourcegraph/conc/panics"
)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id     uint64
	signal *Signal
}

// Unsubscribe detaches the subscriber. It is safe to call after delivery
// or more than once.
func (s Subscription) Unsubscribe() bool {
	if s.signal == nil {
		return false
	}
	return s.signal.unsubscribe(s.id)
}

type observer struct {
	id uint64
	fn func()
}

// Signal is a fire-once-per-run broadcast. The zero value is ready to use.
type Signal struct {
	mu        sync.Mutex
	observers []observer
	nextID    uint64
	fired     uint64
	onPanic   func(recovered *panics.Recovered)
}

// OnPanic registers a handler for subscribers that panic. Panics are always
// recovered so one subscriber cannot block delivery to the rest.
func (s *Signal) OnPanic(fn func(recovered *panics.Recovered)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPanic = fn
}

// Subscribe registers fn for the next Fire.
func (s *Signal) Subscribe(fn func()) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.observers = append(s.observers, observer{id: s.nextID, fn: fn})
	return Subscription{id: s.nextID, signal: s}
}

func (s *Signal) unsubscribe(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, o := range s.observers {
		if o.id == id {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return true
		}
	}
	return false
}

// Fire delivers to every current subscriber, then detaches all of them.
// It returns the number of subscribers notified.
func (s *Signal) Fire() int {
	s.mu.Lock()
	observers := s.observers
	s.observers = nil
	s.fired++
	onPanic := s.onPanic
	s.mu.Unlock()

	for _, o := range observers {
		var pc panics.Catcher
		pc.Try(o.fn)
		if r := pc.Recovered(); r != nil && onPanic != nil {
			onPanic(r)
		}
	}
	return len(observers)
}

// Len returns the number of attached subscribers.
func (s *Signal) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// Fired returns how many times the signal has fired.
func (s *Signal) Fired() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Reset detaches all subscribers without delivering.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = nil
}
