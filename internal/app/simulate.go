package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"conductor/internal/config"
	"conductor/internal/expectation"
	"conductor/internal/formatting"
	"conductor/internal/model"
	"conductor/internal/provider"
	"conductor/internal/template"
	"conductor/pkg/logging"
)

// SimulatorParticipantID is the participant added by PrepareSimulation when
// the configuration declares none.
const SimulatorParticipantID = "simulator"

// SimulateOptions controls Simulate.
type SimulateOptions struct {
	InstanceName string
	Parameters   map[string]interface{}
	// StepTimeout bounds each lifecycle step.
	StepTimeout  time.Duration
	PollInterval time.Duration
	// Keep leaves the instance deployed and the definition primed.
	Keep      bool
	Formatter formatting.Formatter
	Out       io.Writer
}

func (o *SimulateOptions) setDefaults(tpl *template.Composition) {
	if o.InstanceName == "" {
		o.InstanceName = tpl.Name + "-sim"
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.Formatter == nil {
		o.Formatter = formatting.New(formatting.Options{Format: formatting.FormatTable})
	}
	if o.Out == nil {
		o.Out = io.Discard
	}
}

// PrepareSimulation adjusts cfg for a one-shot simulation of tpl: storage is
// kept in memory and the template directory is ignored. When no participant
// is configured, simulators are added: one per participant the template pins
// elements to, and SimulatorParticipantID for the rest.
func PrepareSimulation(cfg *config.Config, tpl *template.Composition) {
	cfg.Storage = config.StorageConfig{Driver: config.StorageMemory}
	cfg.Templates = config.TemplatesConfig{}
	if len(cfg.Participants) > 0 {
		return
	}
	types := map[string]sets.Set[string]{}
	for _, el := range tpl.Elements {
		id := el.ParticipantID
		if id == "" {
			id = SimulatorParticipantID
		}
		if types[id] == nil {
			types[id] = sets.New[string]()
		}
		types[id].Insert(el.Type)
	}
	for _, id := range sets.List(sets.KeySet(types)) {
		cfg.Participants = append(cfg.Participants, config.ParticipantConfig{
			ID:                    id,
			Kind:                  config.ParticipantSimulator,
			SupportedElementTypes: sets.List(types[id]),
			HeartbeatInterval:     config.DefaultHeartbeatInterval,
			Workers:               config.DefaultParticipantPool,
		})
	}
}

// Simulate starts services and walks tpl through commission, prime,
// instantiate and deploy, printing the result. Unless opts.Keep is set it
// then undeploys, deletes the instance and deprimes. Services are left
// running; the caller stops them.
func Simulate(ctx context.Context, services *Services, tpl *template.Composition, opts SimulateOptions) error {
	opts.setDefaults(tpl)
	s := &simulation{services: services, opts: opts}

	if err := services.Start(ctx); err != nil {
		return err
	}
	if err := services.awaitRegistration(ctx, opts.StepTimeout); err != nil {
		return err
	}

	def, err := services.Provider.Commission(ctx, tpl)
	if err != nil {
		return fmt.Errorf("commission %s: %w", tpl.Key(), err)
	}
	ref := expectation.CompositionRef(def.CompositionID)
	if err := s.step(ctx, "prime", ref, func() (string, error) {
		return services.Provider.Prime(ctx, def.CompositionID)
	}); err != nil {
		return err
	}

	inst, err := services.Provider.CreateInstance(ctx, def.CompositionID, provider.InstanceRequest{
		Name:       opts.InstanceName,
		Parameters: opts.Parameters,
	})
	if err != nil {
		return fmt.Errorf("create instance %s: %w", opts.InstanceName, err)
	}
	instRef := expectation.InstanceRef(inst.InstanceID)
	if err := s.step(ctx, "deploy", instRef, func() (string, error) {
		return services.Provider.Deploy(ctx, inst.InstanceID)
	}); err != nil {
		return err
	}

	if err := s.report(ctx, def.CompositionID, inst.InstanceID); err != nil {
		return err
	}
	if opts.Keep {
		return nil
	}

	if err := s.step(ctx, "undeploy", instRef, func() (string, error) {
		return services.Provider.Undeploy(ctx, inst.InstanceID)
	}); err != nil {
		return err
	}
	if err := services.Provider.DeleteInstance(ctx, inst.InstanceID); err != nil {
		return fmt.Errorf("delete instance %s: %w", inst.InstanceID, err)
	}
	if err := s.step(ctx, "deprime", ref, func() (string, error) {
		return services.Provider.Deprime(ctx, def.CompositionID)
	}); err != nil {
		return err
	}
	return opts.Formatter.Metrics(opts.Out, services.Supervisor.Summary())
}

type simulation struct {
	services *Services
	opts     SimulateOptions
}

// step runs one asynchronous operation and waits for its outcome.
func (s *simulation) step(ctx context.Context, name string, ref expectation.Ref, op func() (string, error)) error {
	opID, err := op()
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, ref, err)
	}
	logging.Info("Simulate", "%s %s started as operation %s", name, ref, opID)

	ctx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()
	outcome, err := s.services.Provider.Wait(ctx, ref, s.opts.PollInterval)
	if err != nil {
		return fmt.Errorf("waiting for %s of %s: %w", name, ref, err)
	}
	if outcome.Result != expectation.ResultConverged {
		return fmt.Errorf("%s of %s finished %s", name, ref, outcome.Result)
	}
	logging.Info("Simulate", "%s %s converged", name, ref)
	return nil
}

func (s *simulation) report(ctx context.Context, compositionID, instanceID string) error {
	p := s.services.Provider
	def, err := p.GetDefinition(ctx, compositionID)
	if err != nil {
		return err
	}
	inst, err := p.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	f, w := s.opts.Formatter, s.opts.Out
	if err := f.Definitions(w, []*model.Definition{def}); err != nil {
		return err
	}
	if err := f.Instances(w, []*model.Instance{inst}); err != nil {
		return err
	}
	if err := f.Elements(w, inst); err != nil {
		return err
	}
	return f.Participants(w, s.services.Registry.List())
}
