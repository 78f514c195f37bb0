package expectation

import (
	"sort"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"conductor/internal/api"
	"conductor/internal/model"
)

// Tracker holds the open expectations, at most one per entity. Expectations
// are ephemeral and are not persisted.
type Tracker struct {
	clock clock.PassiveClock

	mu     sync.Mutex
	open   map[Ref]*Expectation
	closed map[Ref]*Expectation
}

// NewTracker creates an empty tracker.
func NewTracker(clk clock.PassiveClock) *Tracker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Tracker{
		clock:  clk,
		open:   make(map[Ref]*Expectation),
		closed: make(map[Ref]*Expectation),
	}
}

// New builds an expectation for kind on entity, expecting participants, with
// a deadline timeout from now. It is not tracked until Open.
func (t *Tracker) New(operationID string, kind model.OperationKind, entity Ref, participants []string, timeout time.Duration) *Expectation {
	now := t.clock.Now()
	return &Expectation{
		OperationID: operationID,
		Kind:        kind,
		Entity:      entity,
		Expected:    sets.New(participants...),
		Responded:   sets.New[string](),
		Failed:      sets.New[string](),
		Commands:    make(map[string][]byte),
		Deadline:    now.Add(timeout),
		Attempt:     1,
		Result:      ResultOpen,
		OpenedAt:    now,
	}
}

// Open starts tracking exp. It fails with a ConflictError when the entity
// already has an open expectation.
func (t *Tracker) Open(exp *Expectation) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.open[exp.Entity]; ok {
		return api.NewConflictError(string(exp.Entity.Kind), exp.Entity.ID,
			"operation "+string(cur.Kind)+" "+cur.OperationID+" is still in flight")
	}
	exp.Result = ResultOpen
	t.open[exp.Entity] = exp.DeepCopy()
	return nil
}

// Get returns a copy of the open expectation for the entity.
func (t *Tracker) Get(ref Ref) (*Expectation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.open[ref]
	return exp.DeepCopy(), ok
}

// IsOpen reports whether the entity has an open expectation.
func (t *Tracker) IsOpen(ref Ref) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.open[ref]
	return ok
}

// Last returns a copy of the most recently closed expectation for the entity.
func (t *Tracker) Last(ref Ref) (*Expectation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.closed[ref]
	return exp.DeepCopy(), ok
}

// Ack records a response from participant. Responses from participants that
// are not expected, and responses tagged with another operation id, are
// ignored and reported as not recorded. Re-acking is idempotent.
func (t *Tracker) Ack(ref Ref, operationID, participant string, failed bool) (*Expectation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exp, ok := t.open[ref]
	if !ok {
		return nil, false
	}
	if operationID != "" && operationID != exp.OperationID {
		return nil, false
	}
	if !exp.Expected.Has(participant) {
		return nil, false
	}
	exp.Responded.Insert(participant)
	if failed {
		exp.Failed.Insert(participant)
	} else {
		exp.Failed.Delete(participant)
	}
	return exp.DeepCopy(), true
}

// Close removes the open expectation with the given result. Closing an
// expectation that is no longer open, or that has been replaced by another
// operation, is a no-op.
func (t *Tracker) Close(ref Ref, operationID string, result Result) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	exp, ok := t.open[ref]
	if !ok || exp.OperationID != operationID {
		return false
	}
	exp.Result = result
	exp.ClosedAt = t.clock.Now()
	delete(t.open, ref)
	t.closed[ref] = exp
	return true
}

// Forget drops everything tracked for ref. It is called once the entity is
// deleted.
func (t *Tracker) Forget(ref Ref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, ref)
	delete(t.closed, ref)
}

// Abort forces the entity's open expectation past its deadline so the next
// scan treats it exactly like a natural timeout.
func (t *Tracker) Abort(ref Ref) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	exp, ok := t.open[ref]
	if !ok {
		return api.NewNotFoundError("operation", ref.String())
	}
	exp.Deadline = t.clock.Now().Add(-time.Nanosecond)
	exp.Aborted = true
	return nil
}

// Renew starts the next attempt of an expired expectation: a fresh deadline,
// the attempt counter incremented, and the responses received so far kept.
func (t *Tracker) Renew(ref Ref, operationID string, timeout time.Duration) (*Expectation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exp, ok := t.open[ref]
	if !ok || exp.OperationID != operationID {
		return nil, false
	}
	exp.Attempt++
	exp.Aborted = false
	exp.Deadline = t.clock.Now().Add(timeout)
	return exp.DeepCopy(), true
}

// SetDeferred marks whether the commands are waiting for an inactive owner.
// A deferred expectation gets a fresh deadline when it is resumed.
func (t *Tracker) SetDeferred(ref Ref, operationID string, deferred bool, timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	exp, ok := t.open[ref]
	if !ok || exp.OperationID != operationID {
		return false
	}
	if exp.Deferred && !deferred {
		exp.Deadline = t.clock.Now().Add(timeout)
	}
	exp.Deferred = deferred
	return true
}

// Snapshot returns copies of every open expectation ordered by entity.
func (t *Tracker) Snapshot() []*Expectation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Expectation, 0, len(t.open))
	for _, exp := range t.open {
		out = append(out, exp.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity.String() < out[j].Entity.String() })
	return out
}

// Len returns the number of open expectations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}
