package supervision

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"conductor/internal/api"
	"conductor/internal/dispatch"
	"conductor/internal/expectation"
	"conductor/internal/lifecycle"
	"conductor/internal/model"
	"conductor/internal/publisher"
	"conductor/internal/registry"
	"conductor/internal/store"
	"conductor/pkg/logging"
)

// Config holds the supervision settings.
type Config struct {
	// ScanInterval is the period of the full scan.
	ScanInterval time.Duration
	// HeartbeatGrace is how long a participant may stay silent before it is
	// flagged stale and asked for a heartbeat.
	HeartbeatGrace time.Duration
	// MaxRetries is the number of automatic re-publishes after a timeout.
	MaxRetries int
	// Workers is the number of goroutines serving the on-demand queue.
	Workers int
	// RetryBackoff delays a reconcile that failed on storage.
	RetryBackoff time.Duration
}

func (c *Config) setDefaults() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 10 * time.Second
	}
	if c.HeartbeatGrace <= 0 {
		c.HeartbeatGrace = 6 * c.ScanInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
}

// Dependencies are the collaborators of a Supervisor.
type Dependencies struct {
	Repository store.Repository
	Locks      *store.EntityLocks
	Tracker    *expectation.Tracker
	Publisher  *publisher.Publisher
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Clock      clock.PassiveClock
	Metrics    *Metrics
}

// Supervisor folds participant reports into the stored entities and drives
// open expectations to a terminal outcome: converged, failed or timed out.
type Supervisor struct {
	repo       store.Repository
	locks      *store.EntityLocks
	tracker    *expectation.Tracker
	publisher  *publisher.Publisher
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	clock      clock.PassiveClock
	metrics    *Metrics
	config     Config

	queue  *delayedQueue
	scanMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Supervisor. Call RegisterHandlers to receive participant
// messages and Start to run the scanner and workers.
func New(deps Dependencies, config Config) *Supervisor {
	config.setDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Locks == nil {
		deps.Locks = store.NewEntityLocks()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	return &Supervisor{
		repo:       deps.Repository,
		locks:      deps.Locks,
		tracker:    deps.Tracker,
		publisher:  deps.Publisher,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		config:     config,
		queue:      newDelayedQueue(),
	}
}

// Metrics returns the supervision counters.
func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}

// Summary returns the counters together with the dispatcher's decode errors.
func (s *Supervisor) Summary() MetricsSummary {
	out := s.metrics.Summary()
	if s.dispatcher != nil {
		out.DecodeErrors = s.dispatcher.Stats().DecodeErrors
	}
	return out
}

// Start runs the workers and the periodic scan until ctx is cancelled or Stop
// is called.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wait.UntilWithContext(ctx, func(ctx context.Context) { s.Scan(ctx) }, s.config.ScanInterval)
	}()

	logging.Info("Supervision", "Started with %d workers, scanning every %s", s.config.Workers, s.config.ScanInterval)
}

// Stop cancels the scanner and waits for the workers to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.queue.Shutdown()
	s.wg.Wait()
	logging.Info("Supervision", "Stopped")
}

func (s *Supervisor) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	logging.Debug("Supervision", "Worker %d started", id)

	for {
		ref, ok := s.queue.Get(ctx)
		if !ok {
			logging.Debug("Supervision", "Worker %d shutting down", id)
			return
		}
		s.process(ctx, ref)
		s.queue.Done(ref)
	}
}

func (s *Supervisor) process(ctx context.Context, ref expectation.Ref) {
	if err := s.reconcile(ctx, ref); err != nil {
		s.metrics.RecordReconcileError()
		logging.Warn("Supervision", "Reconciling %s failed, retrying in %s: %v", ref, s.config.RetryBackoff, err)
		s.queue.AddAfter(ref, s.config.RetryBackoff)
	}
}

// Enqueue schedules an on-demand reconcile of the entity.
func (s *Supervisor) Enqueue(ref expectation.Ref) {
	s.queue.Add(ref)
}

// Flush reconciles every queued entity on the calling goroutine and returns
// once the queue is empty.
func (s *Supervisor) Flush(ctx context.Context) {
	for {
		ref, ok := s.queue.TryGet()
		if !ok {
			return
		}
		s.process(ctx, ref)
		s.queue.Done(ref)
	}
}

// Scan runs one supervision pass: stale participants are flagged and asked
// for a heartbeat, then every open expectation is reconciled. It reports
// false when the pass was skipped because another one was still running.
func (s *Supervisor) Scan(ctx context.Context) bool {
	if !s.scanMu.TryLock() {
		s.metrics.RecordScanOverrun()
		logging.Warn("Supervision", "Previous scan still running, skipping this one")
		return false
	}
	defer s.scanMu.Unlock()

	stale := s.registry.FlagStale(ctx, s.config.HeartbeatGrace)
	if len(stale) > 0 {
		if err := s.publisher.RequestHeartbeat(ctx, stale); err != nil {
			logging.Error("Supervision", err, "Failed to request heartbeats from %v", stale)
		}
	}

	for _, exp := range s.tracker.Snapshot() {
		s.process(ctx, exp.Entity)
	}
	s.metrics.RecordScan(len(stale))
	return true
}

// reconcile moves the open expectation of ref one step towards a terminal
// outcome. Entity state is changed under the entity lock; commands are
// published after the lock is released.
func (s *Supervisor) reconcile(ctx context.Context, ref expectation.Ref) error {
	var send *expectation.Expectation

	err := func() error {
		unlock := s.locks.Lock(ref.String())
		defer unlock()

		exp, ok := s.tracker.Get(ref)
		if !ok {
			return nil
		}

		switch {
		case exp.Failed.Len() > 0:
			return s.fail(ctx, exp)
		case exp.Converged():
			return s.converge(ctx, exp)
		case exp.Expired(s.clock.Now()):
			next, err := s.expire(ctx, exp)
			if err != nil {
				return err
			}
			if next != nil && next.Deferred && s.resume(next) {
				logging.Info("Supervision", "Owners of %s are active again, retrying %s %s", ref, exp.Kind, exp.OperationID)
			}
			send = next
		case exp.Deferred:
			if !s.resume(exp) {
				return nil
			}
			logging.Info("Supervision", "Owners of %s are active again, sending %s %s", ref, exp.Kind, exp.OperationID)
			send = exp
		}
		return nil
	}()
	if err != nil || send == nil {
		return err
	}
	if err := s.deliver(ctx, send); err != nil && !api.IsTransportFailure(err) {
		return err
	}
	return nil
}

// resume clears the deferred flag of exp once all its owners are active.
// The deadline restarts from now.
func (s *Supervisor) resume(exp *expectation.Expectation) bool {
	if !s.ownersActive(exp) {
		return false
	}
	if !s.tracker.SetDeferred(exp.Entity, exp.OperationID, false, s.publisher.Timeout()) {
		return false
	}
	exp.Deferred = false
	s.metrics.RecordResumed(exp.Kind)
	return true
}

func (s *Supervisor) ownersActive(exp *expectation.Expectation) bool {
	for _, id := range exp.Expected.UnsortedList() {
		if !s.registry.IsActive(id) {
			return false
		}
	}
	return true
}

// converge applies the terminal state and closes the expectation.
func (s *Supervisor) converge(ctx context.Context, exp *expectation.Expectation) error {
	var dropped []string
	err := s.update(ctx, exp.Entity,
		func(def *model.Definition) { lifecycle.CompleteDefinition(def, exp.Kind) },
		func(inst *model.Instance) {
			before := make([]string, 0, len(inst.Elements))
			for id := range inst.Elements {
				before = append(before, id)
			}
			lifecycle.CompleteInstance(inst, exp.Kind)
			dropped = dropped[:0]
			for _, id := range before {
				if _, ok := inst.Elements[id]; !ok {
					dropped = append(dropped, id)
				}
			}
		})
	if err != nil {
		return s.entityGone(exp, err)
	}
	for _, id := range dropped {
		s.registry.Release(registry.ElementRef(exp.Entity.ID, id))
	}
	s.tracker.Close(exp.Entity, exp.OperationID, expectation.ResultConverged)
	s.metrics.RecordConverged(exp.Kind)
	logging.Info("Supervision", "%s %s on %s converged", exp.Kind, exp.OperationID, exp.Entity)
	return nil
}

// fail records a participant-reported failure. The entity keeps its
// transient state.
func (s *Supervisor) fail(ctx context.Context, exp *expectation.Expectation) error {
	if err := s.setResult(ctx, exp.Entity, model.ResultFailed); err != nil {
		return s.entityGone(exp, err)
	}
	s.tracker.Close(exp.Entity, exp.OperationID, expectation.ResultFailed)
	s.metrics.RecordFailed(exp.Kind)
	logging.Warn("Supervision", "%s %s on %s failed on participants %v",
		exp.Kind, exp.OperationID, exp.Entity, sets.List(exp.Failed))
	return nil
}

// expire handles a passed deadline. While retries remain the entity shows
// TIMEOUT and the renewed expectation is returned for sending; afterwards
// the expectation is closed and the entity left in its transient state.
func (s *Supervisor) expire(ctx context.Context, exp *expectation.Expectation) (*expectation.Expectation, error) {
	s.metrics.RecordExpired(exp.Kind, exp.Entity.String())

	if exp.Attempt <= s.config.MaxRetries {
		if err := s.setResult(ctx, exp.Entity, model.ResultTimeout); err != nil {
			return nil, s.entityGone(exp, err)
		}
		next, ok := s.tracker.Renew(exp.Entity, exp.OperationID, s.publisher.Timeout())
		if !ok {
			return nil, nil
		}
		s.metrics.RecordRetried(exp.Kind)
		logging.Info("Supervision", "%s %s on %s timed out waiting for %v, retrying (attempt %d)",
			exp.Kind, exp.OperationID, exp.Entity, exp.Pending(), next.Attempt)
		return next, nil
	}

	result := model.ResultFailed
	if s.config.MaxRetries == 0 {
		result = model.ResultTimeout
	}
	if err := s.setResult(ctx, exp.Entity, result); err != nil {
		return nil, s.entityGone(exp, err)
	}
	s.tracker.Close(exp.Entity, exp.OperationID, expectation.ResultExpired)
	logging.Warn("Supervision", "%s %s on %s expired after %d attempts, no response from %v",
		exp.Kind, exp.OperationID, exp.Entity, exp.Attempt, exp.Pending())
	return nil, nil
}

// Send publishes the commands of a newly opened expectation and queues its
// entity for reconciliation. A deferred send is not an error. A transport
// failure marks the entity FAILED and is returned to the caller.
func (s *Supervisor) Send(ctx context.Context, exp *expectation.Expectation) error {
	s.metrics.RecordOpened(exp.Kind)
	err := s.deliver(ctx, exp)
	s.queue.Add(exp.Entity)
	return err
}

// deliver publishes the commands of exp: all of them on the first attempt,
// only those of non-responding participants on a retry.
func (s *Supervisor) deliver(ctx context.Context, exp *expectation.Expectation) error {
	var err error
	if exp.Responded.Len() == 0 {
		err = s.publisher.Send(ctx, exp)
	} else {
		err = s.publisher.Resend(ctx, exp)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, publisher.ErrDeferred):
		return nil
	case api.IsTransportFailure(err):
		s.metrics.RecordFailed(exp.Kind)
		if markErr := s.markSendFailed(ctx, exp); markErr != nil {
			logging.Error("Supervision", markErr, "Failed to record send failure on %s", exp.Entity)
		}
		return err
	default:
		return err
	}
}

// markSendFailed sets FAILED on the entity of an expectation the publisher
// closed. A newer operation may have started since, in which case its result
// is left alone.
func (s *Supervisor) markSendFailed(ctx context.Context, exp *expectation.Expectation) error {
	unlock := s.locks.Lock(exp.Entity.String())
	defer unlock()
	if s.tracker.IsOpen(exp.Entity) {
		return nil
	}
	if err := s.setResult(ctx, exp.Entity, model.ResultFailed); err != nil && !api.IsNotFound(err) {
		return err
	}
	return nil
}

// entityGone closes the expectation when its entity was deleted and passes
// any other error through.
func (s *Supervisor) entityGone(exp *expectation.Expectation, err error) error {
	if !api.IsNotFound(err) {
		return err
	}
	s.tracker.Close(exp.Entity, exp.OperationID, expectation.ResultFailed)
	logging.Warn("Supervision", "%s of %s was deleted while %s %s was open", exp.Entity.Kind, exp.Entity.ID, exp.Kind, exp.OperationID)
	return nil
}

func (s *Supervisor) setResult(ctx context.Context, ref expectation.Ref, result model.StateChangeResult) error {
	return s.update(ctx, ref,
		func(def *model.Definition) { def.StateChangeResult = result },
		func(inst *model.Instance) { inst.StateChangeResult = result })
}

func (s *Supervisor) update(ctx context.Context, ref expectation.Ref, onDef func(*model.Definition), onInst func(*model.Instance)) error {
	var err error
	switch ref.Kind {
	case expectation.EntityComposition:
		_, err = store.UpdateDefinition(ctx, s.repo, ref.ID, func(def *model.Definition) error {
			onDef(def)
			return nil
		})
	default:
		_, err = store.UpdateInstance(ctx, s.repo, ref.ID, func(inst *model.Instance) error {
			onInst(inst)
			return nil
		})
	}
	return err
}
