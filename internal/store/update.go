package store

import (
	"context"
	"errors"
	"fmt"

	"conductor/internal/model"
	"conductor/pkg/logging"
)

// maxUpdateAttempts bounds the re-read and re-apply loop of the Update
// helpers. Losing this many races in a row means something is writing
// without taking the entity lock.
const maxUpdateAttempts = 8

// ErrNoChange may be returned by an update function to skip the write.
var ErrNoChange = errors.New("no change")

// UpdateDefinition loads the definition, applies fn and saves it. A lost
// compare-and-swap is retried against a freshly loaded copy so that the
// newer persisted state is never overwritten. fn must be safe to call more
// than once.
func UpdateDefinition(ctx context.Context, repo Repository, id string, fn func(*model.Definition) error) (*model.Definition, error) {
	for attempt := 1; ; attempt++ {
		def, err := repo.LoadDefinition(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(def); err != nil {
			if errors.Is(err, ErrNoChange) {
				return def, nil
			}
			return nil, err
		}
		err = repo.SaveDefinition(ctx, def)
		if err == nil {
			return def, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= maxUpdateAttempts {
			return nil, fmt.Errorf("saving composition %s: %w", id, err)
		}
		logging.Debug("Store", "Revision conflict on composition %s, retrying (attempt %d)", id, attempt)
	}
}

// UpdateInstance is UpdateDefinition for instances.
func UpdateInstance(ctx context.Context, repo Repository, id string, fn func(*model.Instance) error) (*model.Instance, error) {
	for attempt := 1; ; attempt++ {
		inst, err := repo.LoadInstance(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(inst); err != nil {
			if errors.Is(err, ErrNoChange) {
				return inst, nil
			}
			return nil, err
		}
		err = repo.SaveInstance(ctx, inst)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= maxUpdateAttempts {
			return nil, fmt.Errorf("saving instance %s: %w", id, err)
		}
		logging.Debug("Store", "Revision conflict on instance %s, retrying (attempt %d)", id, attempt)
	}
}
