// Package storetest is the behavioural contract every store.Repository must
// satisfy. Backends run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/api"
	"conductor/internal/model"
	"conductor/internal/store"
)

// Run executes the contract against repositories produced by newRepo. Each
// subtest gets a fresh repository.
func Run(t *testing.T, newRepo func(t *testing.T) store.Repository) {
	ctx := context.Background()

	t.Run("definition round trip", func(t *testing.T) {
		repo := newRepo(t)
		def := Definition("c-1", "demo", "1.0.0")

		require.NoError(t, repo.SaveDefinition(ctx, def))
		assert.Equal(t, int64(1), def.Revision)

		got, err := repo.LoadDefinition(ctx, "c-1")
		require.NoError(t, err)
		if diff := cmp.Diff(def, got); diff != "" {
			t.Errorf("loaded definition differs (-saved +loaded):\n%s", diff)
		}
	})

	t.Run("missing entities are not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.LoadDefinition(ctx, "nope")
		assert.True(t, api.IsNotFound(err))
		_, err = repo.LoadInstance(ctx, "nope")
		assert.True(t, api.IsNotFound(err))
		_, err = repo.LoadParticipant(ctx, "nope")
		assert.True(t, api.IsNotFound(err))
	})

	t.Run("stale save is rejected", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.SaveDefinition(ctx, Definition("c-1", "demo", "1.0.0")))

		a, err := repo.LoadDefinition(ctx, "c-1")
		require.NoError(t, err)
		b, err := repo.LoadDefinition(ctx, "c-1")
		require.NoError(t, err)

		a.TypeState = model.TypeStatePriming
		require.NoError(t, repo.SaveDefinition(ctx, a))

		b.Name = "renamed"
		err = repo.SaveDefinition(ctx, b)
		assert.True(t, errors.Is(err, store.ErrConflict), "got %v", err)
		assert.Equal(t, int64(1), b.Revision, "a failed save leaves the revision alone")

		got, err := repo.LoadDefinition(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, "demo", got.Name)
		assert.Equal(t, model.TypeStatePriming, got.TypeState)
	})

	t.Run("creating twice conflicts", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.SaveInstance(ctx, Instance("i-1", "c-1")))
		err := repo.SaveInstance(ctx, Instance("i-1", "c-1"))
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("instances by composition", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.SaveInstance(ctx, Instance("i-1", "c-1")))
		require.NoError(t, repo.SaveInstance(ctx, Instance("i-2", "c-2")))
		migrating := Instance("i-3", "c-2")
		migrating.CompositionTargetID = "c-1"
		require.NoError(t, repo.SaveInstance(ctx, migrating))

		got, err := repo.ListInstancesByComposition(ctx, "c-1")
		require.NoError(t, err)
		var ids []string
		for _, inst := range got {
			ids = append(ids, inst.InstanceID)
		}
		assert.ElementsMatch(t, []string{"i-1", "i-3"}, ids)

		all, err := repo.ListInstances(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.SaveDefinition(ctx, Definition("c-1", "demo", "1.0.0")))
		require.NoError(t, repo.SaveInstance(ctx, Instance("i-1", "c-1")))

		require.NoError(t, repo.DeleteInstance(ctx, "i-1"))
		require.NoError(t, repo.DeleteDefinition(ctx, "c-1"))

		_, err := repo.LoadInstance(ctx, "i-1")
		assert.True(t, api.IsNotFound(err))
		defs, err := repo.ListDefinitions(ctx)
		require.NoError(t, err)
		assert.Empty(t, defs)

		assert.NoError(t, repo.DeleteInstance(ctx, "i-1"), "deleting a missing key is not an error")
	})

	t.Run("participants", func(t *testing.T) {
		repo := newRepo(t)
		p := &model.Participant{
			ParticipantID:         "p-1",
			State:                 model.ParticipantActive,
			LastHeartbeat:         time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			SupportedElementTypes: []string{"k8s"},
		}
		require.NoError(t, repo.SaveParticipant(ctx, p))
		p.State = model.ParticipantTerminated
		require.NoError(t, repo.SaveParticipant(ctx, p))

		got, err := repo.LoadParticipant(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, model.ParticipantTerminated, got.State)
		assert.Equal(t, int64(2), got.Revision)

		list, err := repo.ListParticipants(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("update helper retries lost races", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.SaveInstance(ctx, Instance("i-1", "c-1")))

		calls := 0
		got, err := store.UpdateInstance(ctx, repo, "i-1", func(inst *model.Instance) error {
			calls++
			if calls == 1 {
				// Simulate a concurrent writer sneaking in between load and save.
				other, err := repo.LoadInstance(ctx, "i-1")
				require.NoError(t, err)
				other.Phase = 7
				require.NoError(t, repo.SaveInstance(ctx, other))
			}
			inst.Name = "updated"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, "updated", got.Name)
		assert.Equal(t, 7, got.Phase, "the concurrent write is preserved")
	})
}

// Definition returns a commissioned two-element definition.
func Definition(id, name, version string) *model.Definition {
	return &model.Definition{
		CompositionID: id,
		Name:          name,
		Version:       version,
		TypeState:     model.TypeStateCommissioned,
		Elements: map[string]model.ElementDefinitionState{
			"el-a": {ElementDefinitionID: "el-a", ParticipantID: "p1", State: model.TypeStateCommissioned,
				Properties: model.Properties{"chart": "nginx"}},
			"el-b": {ElementDefinitionID: "el-b", ParticipantID: "p2", State: model.TypeStateCommissioned},
		},
		StateChangeResult: model.ResultNoError,
		LastMessageTime:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Instance returns an undeployed single-element instance of compositionID.
func Instance(id, compositionID string) *model.Instance {
	return &model.Instance{
		InstanceID:    id,
		Name:          id,
		CompositionID: compositionID,
		DeployState:   model.DeployStateUndeployed,
		LockState:     model.LockStateNone,
		Elements: map[string]model.ElementInstance{
			"e1": {ElementID: "e1", DefinitionID: "el-a", ParticipantID: "p1",
				DeployState: model.DeployStateUndeployed, LockState: model.LockStateNone},
		},
		StateChangeResult: model.ResultNoError,
	}
}
