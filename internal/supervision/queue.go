package supervision

import (
	"context"
	"sync"
	"time"

	"conductor/internal/expectation"
)

// workQueue is a FIFO of entity refs with deduplication: a ref is queued at
// most once, and a ref added while it is being processed is queued again
// when processing finishes.
type workQueue struct {
	mu sync.Mutex

	queue      []expectation.Ref
	queued     map[expectation.Ref]bool
	processing map[expectation.Ref]bool
	dirty      map[expectation.Ref]bool

	cond         *sync.Cond
	shuttingDown bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{
		queued:     make(map[expectation.Ref]bool),
		processing: make(map[expectation.Ref]bool),
		dirty:      make(map[expectation.Ref]bool),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add queues ref unless it is already queued.
func (q *workQueue) Add(ref expectation.Ref) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}
	if q.processing[ref] {
		q.dirty[ref] = true
		return
	}
	if q.queued[ref] {
		return
	}
	q.queued[ref] = true
	q.queue = append(q.queue, ref)
	q.cond.Signal()
}

// Get blocks until a ref is available, the queue shuts down or ctx is done.
func (q *workQueue) Get(ctx context.Context) (expectation.Ref, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		if ctx.Err() != nil {
			return expectation.Ref{}, false
		}

		// Wake the wait when ctx is cancelled; done releases the helper on a
		// normal wakeup.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
		q.cond.Wait()
		close(done)

		if ctx.Err() != nil {
			return expectation.Ref{}, false
		}
	}

	if len(q.queue) == 0 {
		return expectation.Ref{}, false
	}
	return q.pop(), true
}

// TryGet returns the next ref without blocking.
func (q *workQueue) TryGet() (expectation.Ref, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return expectation.Ref{}, false
	}
	return q.pop(), true
}

func (q *workQueue) pop() expectation.Ref {
	ref := q.queue[0]
	q.queue = q.queue[1:]
	delete(q.queued, ref)
	q.processing[ref] = true
	return ref
}

// Done marks ref processed and requeues it if it was added meanwhile.
func (q *workQueue) Done(ref expectation.Ref) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, ref)
	if q.dirty[ref] {
		delete(q.dirty, ref)
		if !q.queued[ref] && !q.shuttingDown {
			q.queued[ref] = true
			q.queue = append(q.queue, ref)
			q.cond.Signal()
		}
	}
}

// Len returns the number of queued refs.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Shutdown wakes every waiter and rejects further adds.
func (q *workQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}

// delayedQueue adds AddAfter on top of workQueue. It is used to back off
// refs whose reconcile failed on a store error.
type delayedQueue struct {
	*workQueue

	mu     sync.Mutex
	timers map[expectation.Ref]*time.Timer
	stopCh chan struct{}
}

func newDelayedQueue() *delayedQueue {
	return &delayedQueue{
		workQueue: newWorkQueue(),
		timers:    make(map[expectation.Ref]*time.Timer),
		stopCh:    make(chan struct{}),
	}
}

// AddAfter queues ref after delay, replacing any pending timer for it.
func (d *delayedQueue) AddAfter(ref expectation.Ref, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[ref]; ok {
		t.Stop()
	}
	d.timers[ref] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, ref)
		d.mu.Unlock()

		select {
		case <-d.stopCh:
		default:
			d.Add(ref)
		}
	})
}

// Shutdown cancels pending timers and shuts the queue down.
func (d *delayedQueue) Shutdown() {
	d.mu.Lock()
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[expectation.Ref]*time.Timer)
	d.mu.Unlock()

	d.workQueue.Shutdown()
}
