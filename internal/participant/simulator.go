package participant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"conductor/internal/model"
)

// SimulatorConfig controls a Simulator.
type SimulatorConfig struct {
	// Delay is waited before every element operation.
	Delay time.Duration
	// Fail lists the operation kinds that report failure.
	Fail []model.OperationKind
	// Silent lists the operation kinds that are never acknowledged.
	Silent []model.OperationKind
}

// Simulator is an Adapter that performs no real work.
type Simulator struct {
	name   string
	config SimulatorConfig
	clock  clock.Clock
	fail   sets.Set[model.OperationKind]
	silent sets.Set[model.OperationKind]

	mu    sync.Mutex
	calls map[model.OperationKind]int
}

// NewSimulator creates a simulator reporting as name.
func NewSimulator(name string, clk clock.Clock, config SimulatorConfig) *Simulator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Simulator{
		name:   name,
		config: config,
		clock:  clk,
		fail:   sets.New(config.Fail...),
		silent: sets.New(config.Silent...),
		calls:  make(map[model.OperationKind]int),
	}
}

// Calls returns how often each operation kind was invoked per element.
func (s *Simulator) Calls() map[model.OperationKind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.OperationKind]int, len(s.calls))
	for k, v := range s.calls {
		out[k] = v
	}
	return out
}

func (s *Simulator) simulate(ctx context.Context, kind model.OperationKind) error {
	s.mu.Lock()
	s.calls[kind]++
	s.mu.Unlock()

	if s.config.Delay > 0 {
		select {
		case <-s.clock.After(s.config.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.silent.Has(kind) {
		return ErrSilent
	}
	if s.fail.Has(kind) {
		return fmt.Errorf("simulated %s failure", kind)
	}
	return nil
}

func (s *Simulator) out(kind model.OperationKind, target Target) model.Properties {
	return model.Properties{
		"simulator":     s.name,
		"lastOperation": string(kind),
		"composition":   target.CompositionID,
		"at":            s.clock.Now().UTC().Format(time.RFC3339),
	}
}

func (s *Simulator) Prime(ctx context.Context, _ string, _ model.ElementDefinitionState) error {
	return s.simulate(ctx, model.OperationPrime)
}

func (s *Simulator) Deprime(ctx context.Context, _ string, _ model.ElementDefinitionState) error {
	return s.simulate(ctx, model.OperationDeprime)
}

func (s *Simulator) Deploy(ctx context.Context, target Target, _ model.ElementInstance) (model.Properties, error) {
	if err := s.simulate(ctx, model.OperationDeploy); err != nil {
		return nil, err
	}
	return s.out(model.OperationDeploy, target), nil
}

func (s *Simulator) Undeploy(ctx context.Context, _ Target, _ model.ElementInstance) error {
	return s.simulate(ctx, model.OperationUndeploy)
}

func (s *Simulator) Lock(ctx context.Context, _ Target, _ model.ElementInstance) error {
	return s.simulate(ctx, model.OperationLock)
}

func (s *Simulator) Unlock(ctx context.Context, _ Target, _ model.ElementInstance) error {
	return s.simulate(ctx, model.OperationUnlock)
}

func (s *Simulator) Update(ctx context.Context, target Target, _ model.ElementInstance) (model.Properties, error) {
	if err := s.simulate(ctx, model.OperationUpdate); err != nil {
		return nil, err
	}
	return s.out(model.OperationUpdate, target), nil
}

func (s *Simulator) Migrate(ctx context.Context, target Target, _ model.ElementInstance) (model.Properties, error) {
	if err := s.simulate(ctx, model.OperationMigrate); err != nil {
		return nil, err
	}
	target.CompositionID = target.CompositionTargetID
	return s.out(model.OperationMigrate, target), nil
}
