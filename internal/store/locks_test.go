package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityLocksSerializePerKey(t *testing.T) {
	locks := NewEntityLocks()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("i-1")
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, locks.Len(), "released keys are forgotten")
}

func TestEntityLocksIndependentKeys(t *testing.T) {
	locks := NewEntityLocks()
	unlockA := locks.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("b")
		unlock()
		close(done)
	}()
	<-done
}

func TestConflictErrorMatchesSentinel(t *testing.T) {
	err := ConflictError{Bucket: BucketInstances, Key: "i-1", Expected: 1, Actual: 2}
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "expected revision 1, found 2")
}
