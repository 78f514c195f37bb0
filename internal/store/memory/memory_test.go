package memory

import (
	"testing"

	"conductor/internal/store"
	"conductor/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return NewStore()
	})
}
