package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"conductor/internal/bus"
	"conductor/internal/config"
	"conductor/internal/dispatch"
	"conductor/internal/expectation"
	"conductor/internal/message"
	"conductor/internal/model"
	"conductor/internal/participant"
	"conductor/internal/provider"
	"conductor/internal/publisher"
	"conductor/internal/registry"
	"conductor/internal/store"
	"conductor/internal/store/bolt"
	"conductor/internal/store/memory"
	"conductor/internal/supervision"
	"conductor/internal/template"
	"conductor/pkg/logging"
)

const (
	busBufferSize       = 256
	templateDebounce    = 500 * time.Millisecond
	registrationTimeout = 5 * time.Second
	registrationPoll    = 20 * time.Millisecond
)

// Services holds the wired runtime.
type Services struct {
	Config       *config.Config
	Store        *store.Store
	Bus          *bus.MemoryBus
	Registry     *registry.Registry
	Tracker      *expectation.Tracker
	Publisher    *publisher.Publisher
	Dispatcher   *dispatch.Dispatcher
	Supervisor   *supervision.Supervisor
	Provider     *provider.Provider
	Participants []*participant.Intermediary

	clock   clock.Clock
	watcher *template.Watcher

	mu        sync.Mutex
	started   bool
	closeOnce sync.Once
	cancel    context.CancelFunc
	detach    func()
	wg        sync.WaitGroup
}

// InitializeServices wires every component from cfg. Nothing runs until
// Start is called.
func InitializeServices(cfg *Config) (*Services, error) {
	return newServices(cfg.Conductor, clock.RealClock{})
}

func newServices(cfg *config.Config, clk clock.Clock) (*Services, error) {
	repo, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	s := &Services{
		Config:     cfg,
		Store:      repo,
		Bus:        bus.NewMemoryBus(busBufferSize),
		Tracker:    expectation.NewTracker(clk),
		Dispatcher: dispatch.New(dispatch.WithName("Runtime")),
		clock:      clk,
	}
	s.Registry = registry.New(repo, clk)
	if err := s.Registry.Load(context.Background()); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}

	sup := cfg.Supervision
	s.Publisher = publisher.New(s.Bus, s.Tracker, s.Registry, clk, publisher.Config{
		OperationTimeout: sup.OperationTimeout,
		FanOut:           sup.WorkerPoolSize,
	})
	locks := store.NewEntityLocks()
	s.Supervisor = supervision.New(supervision.Dependencies{
		Repository: repo,
		Locks:      locks,
		Tracker:    s.Tracker,
		Publisher:  s.Publisher,
		Registry:   s.Registry,
		Dispatcher: s.Dispatcher,
		Clock:      clk,
	}, supervision.Config{
		ScanInterval:   sup.ScanInterval,
		HeartbeatGrace: sup.HeartbeatGrace,
		MaxRetries:     sup.MaxRetries,
		Workers:        sup.ReconcileWorkers,
	})
	if err := s.Supervisor.RegisterHandlers(s.Dispatcher); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to register handlers: %w", err)
	}
	s.Provider = provider.New(provider.Dependencies{
		Repository: repo,
		Locks:      locks,
		Tracker:    s.Tracker,
		Publisher:  s.Publisher,
		Registry:   s.Registry,
		Supervisor: s.Supervisor,
		Clock:      clk,
	}, provider.Config{PrimeWorkers: sup.WorkerPoolSize})

	for _, pc := range cfg.Participants {
		p, err := s.newParticipant(pc)
		if err != nil {
			s.Provider.Close()
			_ = repo.Close()
			return nil, fmt.Errorf("failed to create participant %s: %w", pc.ID, err)
		}
		s.Participants = append(s.Participants, p)
	}

	logging.Info("Services", "Initialized runtime with %d in-process participants", len(s.Participants))
	return s, nil
}

func openStore(cfg config.StorageConfig) (*store.Store, error) {
	switch cfg.Driver {
	case config.StorageBolt:
		repo, err := bolt.OpenStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
		}
		return repo, nil
	case config.StorageMemory, "":
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func (s *Services) newParticipant(pc config.ParticipantConfig) (*participant.Intermediary, error) {
	var adapter participant.Adapter
	switch pc.Kind {
	case config.ParticipantKubernetes:
		client, err := participant.NewKubernetesClient(pc.Kubernetes.Kubeconfig)
		if err != nil {
			return nil, err
		}
		adapter = participant.NewKubernetesAdapter(client, pc.Kubernetes.Namespace, pc.ID)
	case config.ParticipantSimulator, "":
		adapter = participant.NewSimulator(pc.ID, s.clock, participant.SimulatorConfig{
			Delay:  pc.Simulator.Delay,
			Fail:   operationKinds(pc.Simulator.Fail),
			Silent: operationKinds(pc.Simulator.Silent),
		})
	default:
		return nil, fmt.Errorf("unknown participant kind %q", pc.Kind)
	}

	return participant.NewIntermediary(adapter, s.Bus, s.clock, participant.Config{
		ParticipantID:         pc.ID,
		SupportedElementTypes: pc.SupportedElementTypes,
		HeartbeatInterval:     pc.HeartbeatInterval,
		Workers:               pc.Workers,
	})
}

func operationKinds(names []string) []model.OperationKind {
	out := make([]model.OperationKind, 0, len(names))
	for _, n := range names {
		out = append(out, model.OperationKind(strings.ToUpper(strings.TrimSpace(n))))
	}
	return out
}

// Start brings the runtime up: dispatcher, supervision, participants,
// recovery and finally the composition templates.
func (s *Services) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.detach = s.Dispatcher.Attach(ctx, s.Bus, message.TopicParticipant)
	s.Supervisor.Start(ctx)
	s.started = true

	for _, p := range s.Participants {
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("failed to start participant %s: %w", p.ID(), err)
		}
	}

	if err := s.awaitRegistration(ctx, registrationTimeout); err != nil {
		logging.Warn("Services", "%v", err)
	}

	if err := s.Provider.Recover(ctx); err != nil {
		logging.Error("Services", err, "Recovery finished with errors")
	}

	if err := s.syncTemplates(ctx); err != nil {
		logging.Warn("Services", "Template sync finished with errors: %v", err)
	}

	if s.Config.Templates.Watch && s.Config.Templates.Directory != "" {
		if err := s.startWatcher(ctx); err != nil {
			logging.Error("Services", err, "Failed to watch %s", s.Config.Templates.Directory)
		}
	}
	return nil
}

// awaitRegistration waits until every in-process participant is active.
// Element types are resolved against registered participants only.
func (s *Services) awaitRegistration(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := wait.PollUntilContextCancel(ctx, registrationPoll, true, func(context.Context) (bool, error) {
		for _, p := range s.Participants {
			if !s.Registry.IsActive(p.ID()) {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for participants to register: %w", err)
	}
	return nil
}

// syncTemplates commissions every template in the template directory. A
// broken file does not stop the others from being commissioned.
func (s *Services) syncTemplates(ctx context.Context) error {
	dir := s.Config.Templates.Directory
	if dir == "" {
		return nil
	}
	loaded, loadErr := template.LoadDir(dir)
	var collection *config.ConfigurationErrorCollection
	if errors.As(loadErr, &collection) {
		logging.Warn("Services", "%s", collection.FormatErrorSummary())
	} else if loadErr != nil {
		return loadErr
	}

	var err error
	for _, l := range loaded {
		def, cerr := s.Provider.Commission(ctx, l.Composition)
		if cerr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", l.Path, cerr))
			continue
		}
		logging.Info("Services", "Commissioned %s from %s (%s)", def.Key(), l.Path, def.TypeState)
	}
	return err
}

func (s *Services) startWatcher(ctx context.Context) error {
	s.watcher = template.NewWatcher(s.Config.Templates.Directory, templateDebounce)
	changes := make(chan template.Event, 16)
	if err := s.watcher.Start(ctx, changes); err != nil {
		s.watcher = nil
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-changes:
				s.handleTemplateEvent(ctx, ev)
			}
		}
	}()
	return nil
}

func (s *Services) handleTemplateEvent(ctx context.Context, ev template.Event) {
	switch ev.Op {
	case template.OpRemove:
		// The definition stays until DeleteDefinition removes it.
		logging.Info("Services", "Template %s removed, definition %s left in place", ev.Path, ev.Name)
	case template.OpUpsert:
		tpl, err := template.LoadFile(ev.Path)
		if err != nil {
			logging.Warn("Services", "Ignoring template %s: %v", ev.Path, err)
			return
		}
		def, err := s.Provider.Commission(ctx, tpl)
		if err != nil {
			logging.Warn("Services", "Failed to commission %s: %v", ev.Path, err)
			return
		}
		logging.Info("Services", "Re-commissioned %s from %s", def.Key(), ev.Path)
	}
}

// Stop shuts the runtime down in reverse order and closes the store. It is
// safe to call on services that were never started.
func (s *Services) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	cancel, detach, watcher := s.cancel, s.detach, s.watcher
	s.watcher = nil
	s.mu.Unlock()

	var err error
	if started {
		if watcher != nil {
			err = multierr.Append(err, watcher.Stop())
		}
		for i := len(s.Participants) - 1; i >= 0; i-- {
			err = multierr.Append(err, s.Participants[i].Stop(ctx))
		}
		s.Supervisor.Stop()
		detach()
		cancel()
		s.wg.Wait()
	}

	s.closeOnce.Do(func() {
		s.Provider.Close()
		err = multierr.Append(err, s.Bus.Close())
		err = multierr.Append(err, s.Store.Close())
	})
	return err
}
