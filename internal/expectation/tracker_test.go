package expectation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"conductor/internal/api"
	"conductor/internal/model"
)

func newTracker() (*Tracker, *clocktesting.FakeClock) {
	clk := clocktesting.NewFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	return NewTracker(clk), clk
}

func TestOpenIsSingleFlightPerEntity(t *testing.T) {
	tr, _ := newTracker()
	ref := CompositionRef("c-1")

	require.NoError(t, tr.Open(tr.New("op-1", model.OperationPrime, ref, []string{"p1"}, time.Minute)))
	err := tr.Open(tr.New("op-2", model.OperationDeprime, ref, []string{"p1"}, time.Minute))
	assert.True(t, api.IsConflict(err))

	require.NoError(t, tr.Open(tr.New("op-3", model.OperationDeploy, InstanceRef("c-1"), []string{"p1"}, time.Minute)),
		"instance and composition refs are distinct")
	assert.Equal(t, 2, tr.Len())
}

func TestAckConvergence(t *testing.T) {
	tr, _ := newTracker()
	ref := CompositionRef("c-1")
	require.NoError(t, tr.Open(tr.New("op-1", model.OperationPrime, ref, []string{"p1", "p2"}, time.Minute)))

	exp, ok := tr.Ack(ref, "op-1", "p1", false)
	require.True(t, ok)
	assert.False(t, exp.Converged())
	assert.Equal(t, []string{"p2"}, exp.Pending())

	_, ok = tr.Ack(ref, "op-1", "p9", false)
	assert.False(t, ok, "unexpected participants are ignored")
	_, ok = tr.Ack(ref, "op-0", "p2", false)
	assert.False(t, ok, "acks for another operation are ignored")

	exp, ok = tr.Ack(ref, "", "p2", true)
	require.True(t, ok)
	assert.True(t, exp.Converged())
	assert.True(t, exp.Failed.Has("p2"))

	assert.True(t, tr.Close(ref, "op-1", ResultFailed))
	assert.False(t, tr.IsOpen(ref))
	last, ok := tr.Last(ref)
	require.True(t, ok)
	assert.Equal(t, ResultFailed, last.Result)
}

func TestExpiryAbortAndRenew(t *testing.T) {
	tr, clk := newTracker()
	ref := InstanceRef("i-1")
	require.NoError(t, tr.Open(tr.New("op-1", model.OperationDeploy, ref, []string{"p1", "p2"}, time.Minute)))
	_, _ = tr.Ack(ref, "op-1", "p1", false)

	exp, _ := tr.Get(ref)
	assert.False(t, exp.Expired(clk.Now()))

	require.NoError(t, tr.Abort(ref))
	exp, _ = tr.Get(ref)
	assert.True(t, exp.Expired(clk.Now()))

	renewed, ok := tr.Renew(ref, "op-1", time.Minute)
	require.True(t, ok)
	assert.Equal(t, 2, renewed.Attempt)
	assert.False(t, renewed.Expired(clk.Now()))
	assert.True(t, renewed.Responded.Has("p1"), "responses survive a retry")

	clk.Step(61 * time.Second)
	assert.True(t, renewed.Expired(clk.Now()))

	assert.True(t, api.IsNotFound(tr.Abort(InstanceRef("other"))))
}

func TestSnapshotIsACopy(t *testing.T) {
	tr, _ := newTracker()
	ref := InstanceRef("i-1")
	require.NoError(t, tr.Open(tr.New("op-1", model.OperationLock, ref, []string{"p1"}, time.Minute)))

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Responded.Insert("p1")

	exp, _ := tr.Get(ref)
	assert.False(t, exp.Converged())
}

func TestResumeDeferredResetsDeadline(t *testing.T) {
	tr, clk := newTracker()
	ref := InstanceRef("i-1")
	exp := tr.New("op-1", model.OperationDeploy, ref, []string{"p1"}, time.Minute)
	exp.Deferred = true
	require.NoError(t, tr.Open(exp))

	clk.Step(10 * time.Minute)
	require.True(t, tr.SetDeferred(ref, "op-1", false, time.Minute))

	got, _ := tr.Get(ref)
	assert.False(t, got.Deferred)
	assert.False(t, got.Expired(clk.Now()))
}

func TestCloseIgnoresReplacedOperation(t *testing.T) {
	tr, _ := newTracker()
	ref := InstanceRef("i-1")
	require.NoError(t, tr.Open(tr.New("op-1", model.OperationLock, ref, []string{"p1"}, time.Minute)))

	assert.False(t, tr.Close(ref, "op-2", ResultConverged))
	assert.True(t, tr.IsOpen(ref))
}

func TestForgetDropsOpenAndClosed(t *testing.T) {
	tr, _ := newTracker()
	closed, open := InstanceRef("i-1"), InstanceRef("i-2")
	require.NoError(t, tr.Open(tr.New("op-1", model.OperationDeploy, closed, []string{"p1"}, time.Minute)))
	require.True(t, tr.Close(closed, "op-1", ResultConverged))
	require.NoError(t, tr.Open(tr.New("op-2", model.OperationDeploy, open, []string{"p1"}, time.Minute)))

	tr.Forget(closed)
	tr.Forget(open)
	tr.Forget(CompositionRef("never-tracked"))

	_, ok := tr.Last(closed)
	assert.False(t, ok)
	assert.False(t, tr.IsOpen(open))
	assert.Equal(t, 0, tr.Len())
}
