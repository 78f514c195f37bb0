package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/model"
	"conductor/internal/store"
	"conductor/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		repo, err := OpenStore(filepath.Join(t.TempDir(), "conductor.db"))
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "conductor.db")

	repo, err := OpenStore(path)
	require.NoError(t, err)
	def := storetest.Definition("c-1", "demo", "1.0.0")
	def.TypeState = model.TypeStatePrimed
	require.NoError(t, repo.SaveDefinition(ctx, def))
	require.NoError(t, repo.Close())

	repo, err = OpenStore(path)
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.LoadDefinition(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, model.TypeStatePrimed, got.TypeState)
	assert.Equal(t, int64(1), got.Revision)
}
