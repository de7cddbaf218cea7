package readiness

import (
	"testing"

	"github.com/sourcegraph/conc/panics"
)

func TestFire_DeliversOnceAndDetaches(t *testing.T) {
	var s Signal
	calls := 0
	s.Subscribe(func() { calls++ })
	s.Subscribe(func() { calls++ })

	if n := s.Fire(); n != 2 {
		t.Errorf("Fire() notified %d, want 2", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after Fire, want 0", s.Len())
	}

	s.Fire()
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one-shot)", calls)
	}
	if s.Fired() != 2 {
		t.Errorf("Fired() = %d, want 2", s.Fired())
	}
}

func TestUnsubscribe(t *testing.T) {
	var s Signal
	called := false
	sub := s.Subscribe(func() { called = true })

	if !sub.Unsubscribe() {
		t.Error("first Unsubscribe should report true")
	}
	if sub.Unsubscribe() {
		t.Error("second Unsubscribe should report false")
	}

	s.Fire()
	if called {
		t.Error("unsubscribed observer was notified")
	}

	var zero Subscription
	if zero.Unsubscribe() {
		t.Error("zero Subscription should not unsubscribe anything")
	}
}

func TestSubscribeDuringFireWaitsForNextRun(t *testing.T) {
	var s Signal
	late := 0
	s.Subscribe(func() {
		s.Subscribe(func() { late++ })
	})

	s.Fire()
	if late != 0 {
		t.Fatal("subscriber added during Fire was notified in the same delivery")
	}
	s.Fire()
	if late != 1 {
		t.Errorf("late = %d, want 1", late)
	}
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	var s Signal
	var recovered *panics.Recovered
	s.OnPanic(func(r *panics.Recovered) { recovered = r })

	reached := false
	s.Subscribe(func() { panic("bad subscriber") })
	s.Subscribe(func() { reached = true })

	s.Fire()

	if !reached {
		t.Error("second subscriber was not notified")
	}
	if recovered == nil || recovered.Value != "bad subscriber" {
		t.Errorf("recovered = %+v, want panic value", recovered)
	}
}

func TestReset(t *testing.T) {
	var s Signal
	called := false
	s.Subscribe(func() { called = true })
	s.Reset()
	s.Fire()
	if called {
		t.Error("Reset should detach without delivering")
	}
}
