package expectation

import (
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"conductor/internal/model"
)

// EntityKind distinguishes definitions from instances in a Ref.
type EntityKind string

const (
	EntityComposition EntityKind = "composition"
	EntityInstance    EntityKind = "instance"
)

// Ref identifies the entity an expectation belongs to.
type Ref struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// String returns "kind/id".
func (r Ref) String() string {
	return string(r.Kind) + "/" + r.ID
}

// CompositionRef is shorthand for a definition ref.
func CompositionRef(id string) Ref { return Ref{Kind: EntityComposition, ID: id} }

// InstanceRef is shorthand for an instance ref.
func InstanceRef(id string) Ref { return Ref{Kind: EntityInstance, ID: id} }

// RefFor returns the ref of the entity an operation kind targets.
func RefFor(kind model.OperationKind, id string) Ref {
	if kind.TargetsDefinition() {
		return CompositionRef(id)
	}
	return InstanceRef(id)
}

// Result is the outcome of an expectation.
type Result string

const (
	ResultOpen      Result = "OPEN"
	ResultConverged Result = "CONVERGED"
	ResultExpired   Result = "EXPIRED"
	ResultFailed    Result = "FAILED"
)

// Expectation tracks which participants must acknowledge an operation before
// it is complete. Commands holds the encoded command addressed to each
// expected participant, captured when the expectation was prepared, so a
// retry reaches the same owners.
type Expectation struct {
	OperationID string
	Kind        model.OperationKind
	Entity      Ref
	Expected    sets.Set[string]
	Responded   sets.Set[string]
	Failed      sets.Set[string]
	Commands    map[string][]byte
	Deadline    time.Time
	Attempt     int
	Deferred    bool
	Aborted     bool
	Result      Result
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Converged reports whether every expected participant has responded.
func (e *Expectation) Converged() bool {
	return e.Responded.IsSuperset(e.Expected)
}

// Expired reports whether the deadline has passed without convergence.
func (e *Expectation) Expired(now time.Time) bool {
	return now.After(e.Deadline) && !e.Converged()
}

// Pending returns the expected participants that have not responded, sorted.
func (e *Expectation) Pending() []string {
	return sets.List(e.Expected.Difference(e.Responded))
}

// DeepCopy returns a copy sharing no sets or maps with e.
func (e *Expectation) DeepCopy() *Expectation {
	if e == nil {
		return nil
	}
	out := *e
	out.Expected = e.Expected.Clone()
	out.Responded = e.Responded.Clone()
	out.Failed = e.Failed.Clone()
	out.Commands = make(map[string][]byte, len(e.Commands))
	for k, v := range e.Commands {
		out.Commands[k] = v
	}
	return &out
}
