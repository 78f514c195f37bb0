package participant

import (
	"context"
	"errors"

	"conductor/internal/model"
)

// ErrSilent makes the intermediary drop the command without acknowledging
// it, as a participant that crashed mid-operation would.
var ErrSilent = errors.New("participant stays silent")

// Target identifies the instance an element command belongs to.
type Target struct {
	InstanceID          string
	CompositionID       string
	CompositionTargetID string
	Phase               int
}

// Adapter performs the element work of one participant. Every method is
// called once per element; returning an error reports the element as failed.
// The returned properties are reported back as out-properties.
type Adapter interface {
	Prime(ctx context.Context, compositionID string, el model.ElementDefinitionState) error
	Deprime(ctx context.Context, compositionID string, el model.ElementDefinitionState) error

	Deploy(ctx context.Context, target Target, el model.ElementInstance) (model.Properties, error)
	Undeploy(ctx context.Context, target Target, el model.ElementInstance) error
	Lock(ctx context.Context, target Target, el model.ElementInstance) error
	Unlock(ctx context.Context, target Target, el model.ElementInstance) error
	Update(ctx context.Context, target Target, el model.ElementInstance) (model.Properties, error)
	Migrate(ctx context.Context, target Target, el model.ElementInstance) (model.Properties, error)
}
