package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/logging"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

// InstanceStatus represents the teardown state of a recorded instance.
type InstanceStatus string

const (
	StatusSpawned    InstanceStatus = "spawned"
	StatusDestroying InstanceStatus = "destroying"
	StatusDestroyed  InstanceStatus = "destroyed"
	StatusFailed     InstanceStatus = "failed"
)

// IsLive returns true if the instance still needs to be destroyed.
func (s InstanceStatus) IsLive() bool {
	return s == StatusSpawned
}

// Entry is a snapshot of one recorded instance.
type Entry struct {
	Instance    *unit.Instance `json:"-"`
	Generation  uint64         `json:"generation"`
	Seq         int            `json:"seq"`
	Status      InstanceStatus `json:"status"`
	SpawnedAt   time.Time      `json:"spawned_at"`
	DestroyedAt *time.Time     `json:"destroyed_at,omitempty"`
}

// ID returns the instance ID.
func (e Entry) ID() string { return e.Instance.ID }

// Template returns the name of the template the instance came from.
func (e Entry) Template() string { return e.Instance.Template }

// Callbacks holds callback functions for ledger events.
type Callbacks struct {
	// OnStatusChange is called when an entry's status changes.
	OnStatusChange func(instanceID string, oldStatus, newStatus InstanceStatus)

	// OnDestroyed is called after an instance has been torn down, including
	// instances rejected by a stale append. err is the teardown error, if any.
	OnDestroyed func(entry Entry, err error)
}

// Ledger is the ordered record of instances spawned by one orchestrator.
type Ledger struct {
	callbacks Callbacks
	logger    *logging.Logger
	now       func() time.Time

	mu         sync.Mutex
	entries    []*Entry
	index      map[string]*Entry
	generation uint64
	seq        int
}

// NewLedger creates an empty ledger that accepts generation 0 until Begin
// is called.
func NewLedger(callbacks Callbacks, logger *logging.Logger) *Ledger {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Ledger{
		callbacks: callbacks,
		logger:    logger.WithPhase("ledger"),
		now:       time.Now,
		index:     make(map[string]*Entry),
	}
}

// Begin makes generation the only one Append accepts. Entries from earlier
// generations stay recorded until they are destroyed.
func (l *Ledger) Begin(generation uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation = generation
}

// Generation returns the generation Append currently accepts.
func (l *Ledger) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

// Append records inst as spawned by generation. If generation is not the
// accepted one, inst is destroyed immediately and ErrStaleGeneration is
// returned. A different instance reusing a recorded ID is destroyed the same
// way and ErrDuplicateInstance is returned.
func (l *Ledger) Append(ctx context.Context, generation uint64, inst *unit.Instance) error {
	if inst == nil {
		return fmt.Errorf("append: nil instance")
	}

	l.mu.Lock()
	if generation != l.generation {
		accepted := l.generation
		l.mu.Unlock()

		l.logger.Warn("destroying instance from stale generation",
			"instance_id", inst.ID,
			"generation", generation,
			"accepted_generation", accepted,
		)
		entry := &Entry{Instance: inst, Generation: generation, Status: StatusDestroying, SpawnedAt: l.now()}
		_ = l.teardown(ctx, entry)
		return fmt.Errorf("instance %s: %w", inst.ID, errors.ErrStaleGeneration)
	}
	if existing, exists := l.index[inst.ID]; exists {
		l.mu.Unlock()
		if existing.Instance == inst {
			return fmt.Errorf("instance %s already recorded", inst.ID)
		}

		l.logger.Error("destroying instance with a duplicate id", "instance_id", inst.ID)
		entry := &Entry{Instance: inst, Generation: generation, Status: StatusDestroying, SpawnedAt: l.now()}
		_ = l.teardown(ctx, entry)
		return fmt.Errorf("instance %s: %w", inst.ID, errors.ErrDuplicateInstance)
	}

	l.seq++
	entry := &Entry{
		Instance:   inst,
		Generation: generation,
		Seq:        l.seq,
		Status:     StatusSpawned,
		SpawnedAt:  l.now(),
	}
	l.entries = append(l.entries, entry)
	l.index[inst.ID] = entry
	l.mu.Unlock()

	l.logger.Debug("instance recorded",
		"instance_id", inst.ID,
		"template", inst.Template,
		"generation", generation,
	)
	return nil
}

// Len returns the number of recorded entries, live or not.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// LiveCount returns the number of entries still awaiting destruction.
func (l *Ledger) LiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, e := range l.entries {
		if e.Status.IsLive() {
			count++
		}
	}
	return count
}

// Get returns a snapshot of the entry for instanceID.
func (l *Ledger) Get(instanceID string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.index[instanceID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns snapshots of all entries in creation order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	return out
}

// Backward returns live entries in strict reverse creation order.
func (l *Ledger) Backward() []Entry {
	return l.backward(func(*Entry) bool { return true })
}

// StaleBefore returns live entries from generations older than generation,
// in reverse creation order.
func (l *Ledger) StaleBefore(generation uint64) []Entry {
	return l.backward(func(e *Entry) bool { return e.Generation < generation })
}

func (l *Ledger) backward(keep func(*Entry) bool) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range slices.Backward(l.entries) {
		if e.Status.IsLive() && keep(e) {
			out = append(out, *e)
		}
	}
	return out
}

// Destroy tears down the recorded instance. Destroying an entry that is not
// live is a no-op.
func (l *Ledger) Destroy(ctx context.Context, instanceID string) error {
	l.mu.Lock()
	e, ok := l.index[instanceID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("instance %s not found", instanceID)
	}
	if !e.Status.IsLive() {
		l.mu.Unlock()
		return nil
	}
	e.Status = StatusDestroying
	l.mu.Unlock()

	l.notify(instanceID, StatusSpawned, StatusDestroying)
	return l.teardown(ctx, e)
}

// teardown destroys an entry already marked StatusDestroying.
func (l *Ledger) teardown(ctx context.Context, e *Entry) error {
	err := e.Instance.Destroy(ctx)

	final := StatusDestroyed
	if err != nil {
		final = StatusFailed
		l.logger.Error("instance teardown failed",
			"instance_id", e.Instance.ID,
			"error", err.Error(),
		)
	} else {
		l.logger.Debug("instance destroyed", "instance_id", e.Instance.ID)
	}

	now := l.now()
	l.mu.Lock()
	e.DestroyedAt = &now
	e.Status = final
	snapshot := *e
	l.mu.Unlock()

	l.notify(e.Instance.ID, StatusDestroying, final)
	if l.callbacks.OnDestroyed != nil {
		l.callbacks.OnDestroyed(snapshot, err)
	}
	return err
}

func (l *Ledger) notify(instanceID string, oldStatus, newStatus InstanceStatus) {
	if l.callbacks.OnStatusChange != nil {
		l.callbacks.OnStatusChange(instanceID, oldStatus, newStatus)
	}
}

// Prune drops entries that are no longer live and returns how many were
// removed.
func (l *Ledger) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	before := len(l.entries)
	l.entries = slices.DeleteFunc(l.entries, func(e *Entry) bool {
		if e.Status.IsLive() {
			return false
		}
		delete(l.index, e.Instance.ID)
		return true
	})
	return before - len(l.entries)
}

// Clear empties the ledger. Live entries are forgotten without being
// destroyed; callers destroy them first.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Status.IsLive() {
			l.logger.Warn("clearing live instance without teardown", "instance_id", e.Instance.ID)
		}
	}
	l.entries = nil
	l.index = make(map[string]*Entry)
}
