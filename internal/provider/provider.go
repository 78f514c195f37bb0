package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"conductor/internal/api"
	"conductor/internal/expectation"
	"conductor/internal/publisher"
	"conductor/internal/registry"
	"conductor/internal/store"
	"conductor/internal/supervision"
	"conductor/internal/template"
	"conductor/pkg/logging"
)

// Config holds the provider settings.
type Config struct {
	// PrimeWorkers bounds the background sends of prime and deprime. A full
	// pool makes the caller wait for a slot.
	PrimeWorkers int
}

// Dependencies are the collaborators of a Provider. Locks must be the same
// EntityLocks the supervisor uses.
type Dependencies struct {
	Repository store.Repository
	Locks      *store.EntityLocks
	Tracker    *expectation.Tracker
	Publisher  *publisher.Publisher
	Registry   *registry.Registry
	Supervisor *supervision.Supervisor
	Clock      clock.PassiveClock
}

// Provider is the commissioning and runtime API: it validates requests
// against the lifecycle rules, applies the transient state, opens the
// expectation and hands the commands to supervision.
type Provider struct {
	repo       store.Repository
	locks      *store.EntityLocks
	tracker    *expectation.Tracker
	publisher  *publisher.Publisher
	registry   *registry.Registry
	supervisor *supervision.Supervisor
	clock      clock.PassiveClock
	engine     *template.Engine
	newID      func() string

	// creating serialises CreateDefinition so name:version stays unique.
	creating sync.Mutex

	pool   *semaphore.Weighted
	bg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Provider.
func New(deps Dependencies, config Config) *Provider {
	if config.PrimeWorkers <= 0 {
		config.PrimeWorkers = 8
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		repo:       deps.Repository,
		locks:      deps.Locks,
		tracker:    deps.Tracker,
		publisher:  deps.Publisher,
		registry:   deps.Registry,
		supervisor: deps.Supervisor,
		clock:      deps.Clock,
		engine:     template.NewEngine(),
		newID:      uuid.NewString,
		pool:       semaphore.NewWeighted(int64(config.PrimeWorkers)),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close cancels background sends and waits for them to return.
func (p *Provider) Close() {
	p.cancel()
	p.bg.Wait()
}

func (p *Provider) lock(ref expectation.Ref) func() {
	return p.locks.Lock(ref.String())
}

func (p *Provider) ensureIdle(ref expectation.Ref) error {
	if exp, open := p.tracker.Get(ref); open {
		return api.NewConflictError(string(ref.Kind), ref.ID,
			"operation "+string(exp.Kind)+" "+exp.OperationID+" is still in flight")
	}
	return nil
}

// sendAsync hands exp to supervision on the background pool. It blocks
// while the pool is full.
func (p *Provider) sendAsync(ctx context.Context, exp *expectation.Expectation) error {
	if err := p.pool.Acquire(ctx, 1); err != nil {
		return err
	}
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		defer p.pool.Release(1)
		if err := p.supervisor.Send(p.ctx, exp); err != nil {
			logging.Error("Provider", err, "Sending %s %s for %s failed", exp.Kind, exp.OperationID, exp.Entity)
		}
	}()
	return nil
}

// Abort forces the open operation of the entity to time out now.
func (p *Provider) Abort(ctx context.Context, ref expectation.Ref) error {
	if err := p.tracker.Abort(ref); err != nil {
		return err
	}
	logging.Info("Provider", "Aborting operation on %s", ref)
	p.supervisor.Enqueue(ref)
	return nil
}

// Outcome is the result of a finished operation.
type Outcome struct {
	OperationID string
	Result      expectation.Result
}

// Wait polls until the entity has no open operation and returns the outcome
// of the last one.
func (p *Provider) Wait(ctx context.Context, ref expectation.Ref, interval time.Duration) (Outcome, error) {
	err := wait.PollUntilContextCancel(ctx, interval, true, func(context.Context) (bool, error) {
		return !p.tracker.IsOpen(ref), nil
	})
	if err != nil {
		return Outcome{}, err
	}
	last, ok := p.tracker.Last(ref)
	if !ok {
		return Outcome{}, api.NewNotFoundError("operation", ref.String())
	}
	return Outcome{OperationID: last.OperationID, Result: last.Result}, nil
}

// closeOnError closes exp as failed when err is set; used when persisting the
// transient state fails after the expectation was opened.
func (p *Provider) closeOnError(exp *expectation.Expectation, err error) error {
	if err != nil {
		p.tracker.Close(exp.Entity, exp.OperationID, expectation.ResultFailed)
	}
	return err
}
