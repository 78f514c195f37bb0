package supervision

import (
	"context"
	"testing"
	"time"

	"conductor/internal/expectation"
)

func TestWorkQueue_Deduplication(t *testing.T) {
	q := newWorkQueue()
	ref := expectation.InstanceRef("i-1")

	q.Add(ref)
	q.Add(ref)
	q.Add(expectation.CompositionRef("i-1"))

	if q.Len() != 2 {
		t.Errorf("expected queue length 2, got %d", q.Len())
	}
}

func TestWorkQueue_DirtyRequeue(t *testing.T) {
	q := newWorkQueue()
	ref := expectation.InstanceRef("i-1")
	q.Add(ref)

	got, ok := q.TryGet()
	if !ok || got != ref {
		t.Fatalf("expected %s, got %s (%v)", ref, got, ok)
	}

	// Added while processing: held back until Done.
	q.Add(ref)
	if q.Len() != 0 {
		t.Errorf("expected empty queue while processing, got %d", q.Len())
	}

	q.Done(ref)
	if q.Len() != 1 {
		t.Errorf("expected ref requeued after Done, got length %d", q.Len())
	}
}

func TestWorkQueue_GetHonoursContext(t *testing.T) {
	q := newWorkQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, ok := q.Get(ctx); ok {
		t.Error("expected Get to give up when the context expires")
	}
}

func TestWorkQueue_Shutdown(t *testing.T) {
	q := newWorkQueue()
	done := make(chan bool)
	go func() {
		_, ok := q.Get(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Shutdown()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected Get to return false after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not return after shutdown")
	}

	q.Add(expectation.InstanceRef("i-1"))
	if q.Len() != 0 {
		t.Error("expected Add to be ignored after shutdown")
	}
}

func TestDelayedQueue_AddAfter(t *testing.T) {
	q := newDelayedQueue()
	defer q.Shutdown()
	ref := expectation.CompositionRef("c-1")

	q.AddAfter(ref, 20*time.Millisecond)
	if q.Len() != 0 {
		t.Error("expected nothing queued before the delay")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := q.Get(ctx)
	if !ok || got != ref {
		t.Fatalf("expected %s after the delay, got %s (%v)", ref, got, ok)
	}
}

func TestDelayedQueue_ShutdownCancelsTimers(t *testing.T) {
	q := newDelayedQueue()
	q.AddAfter(expectation.CompositionRef("c-1"), 10*time.Millisecond)
	q.Shutdown()

	time.Sleep(30 * time.Millisecond)
	if q.Len() != 0 {
		t.Error("expected pending timer cancelled by shutdown")
	}
}
