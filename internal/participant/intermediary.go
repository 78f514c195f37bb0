package participant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"conductor/internal/bus"
	"conductor/internal/dispatch"
	"conductor/internal/message"
	"conductor/internal/model"
	"conductor/pkg/logging"
)

// Config holds the settings of one intermediary.
type Config struct {
	ParticipantID         string
	SupportedElementTypes []string
	HeartbeatInterval     time.Duration
	// Workers bounds the commands processed at once. A full pool delays the
	// next command; none are dropped.
	Workers int
}

// Intermediary connects an Adapter to the bus.
type Intermediary struct {
	config     Config
	adapter    Adapter
	channel    bus.Channel
	clock      clock.PassiveClock
	dispatcher *dispatch.Dispatcher
	pool       *semaphore.Weighted

	mu       sync.Mutex
	elements map[string]message.ElementStatus
	accepted bool

	cancel context.CancelFunc
	detach func()
	wg     sync.WaitGroup
}

// NewIntermediary creates an intermediary for config.ParticipantID.
func NewIntermediary(adapter Adapter, channel bus.Channel, clk clock.PassiveClock, config Config) (*Intermediary, error) {
	if config.ParticipantID == "" {
		return nil, errors.New("participant id is required")
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 20 * time.Second
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	i := &Intermediary{
		config:     config,
		adapter:    adapter,
		channel:    channel,
		clock:      clk,
		dispatcher: dispatch.New(dispatch.WithName("Participant:" + config.ParticipantID)),
		pool:       semaphore.NewWeighted(int64(config.Workers)),
		elements:   make(map[string]message.ElementStatus),
	}

	var errs error
	for _, kind := range []model.OperationKind{model.OperationPrime, model.OperationDeprime} {
		errs = multierr.Append(errs, i.dispatcher.Register(message.CommandType(kind), i.compositionHandler(kind)))
	}
	for _, kind := range []model.OperationKind{
		model.OperationDeploy, model.OperationUndeploy, model.OperationLock,
		model.OperationUnlock, model.OperationUpdate, model.OperationMigrate,
	} {
		errs = multierr.Append(errs, i.dispatcher.Register(message.CommandType(kind), i.instanceHandler(kind)))
	}
	errs = multierr.Append(errs, i.dispatcher.Register(message.TypeParticipantHeartbeatReq, dispatch.HandlerFunc(i.handleHeartbeatRequest)))
	errs = multierr.Append(errs, i.dispatcher.Register(message.TypeParticipantRegisterAck, dispatch.HandlerFunc(i.handleRegisterAck)))
	if errs != nil {
		return nil, errs
	}
	return i, nil
}

// ID returns the participant id.
func (i *Intermediary) ID() string {
	return i.config.ParticipantID
}

// Accepted reports whether the runtime acknowledged the registration.
func (i *Intermediary) Accepted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.accepted
}

// Start subscribes to the runtime topic, registers and starts the status
// heartbeat.
func (i *Intermediary) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	detach := i.dispatcher.Attach(ctx, i.channel, message.TopicRuntime)

	err := i.publish(ctx, message.TypeParticipantRegister, "", "", message.RegisterPayload{
		SupportedElementTypes: i.config.SupportedElementTypes,
	})
	if err != nil {
		detach()
		cancel()
		return fmt.Errorf("registering participant %s: %w", i.config.ParticipantID, err)
	}
	i.mu.Lock()
	i.cancel, i.detach = cancel, detach
	i.mu.Unlock()
	logging.Info("Participant", "Participant %s started, supporting %v", i.config.ParticipantID, i.config.SupportedElementTypes)

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		wait.UntilWithContext(ctx, i.sendStatus, i.config.HeartbeatInterval)
	}()
	return nil
}

// Stop deregisters the participant and waits for running commands.
func (i *Intermediary) Stop(ctx context.Context) error {
	i.mu.Lock()
	cancel, detach := i.cancel, i.detach
	i.cancel, i.detach = nil, nil
	i.mu.Unlock()
	if cancel == nil {
		return nil
	}

	err := i.publish(ctx, message.TypeParticipantDeregister, "", "", nil)
	detach()
	cancel()
	i.wg.Wait()
	logging.Info("Participant", "Participant %s stopped", i.config.ParticipantID)
	return err
}

func (i *Intermediary) addressed(env message.Envelope) bool {
	return env.ParticipantID == i.config.ParticipantID
}

// run executes fn on the worker pool.
func (i *Intermediary) run(ctx context.Context, fn func(context.Context)) error {
	if err := i.pool.Acquire(ctx, 1); err != nil {
		return err
	}
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer i.pool.Release(1)
		fn(ctx)
	}()
	return nil
}

func (i *Intermediary) compositionHandler(kind model.OperationKind) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, env message.Envelope) error {
		if !i.addressed(env) {
			return nil
		}
		var cmd message.CompositionCommand
		if err := env.DecodePayload(&cmd); err != nil {
			return err
		}
		return i.run(ctx, func(ctx context.Context) {
			i.executeComposition(ctx, kind, env.CompositionID, cmd)
		})
	})
}

func (i *Intermediary) executeComposition(ctx context.Context, kind model.OperationKind, compositionID string, cmd message.CompositionCommand) {
	ack := message.CompositionAck{OperationID: cmd.OperationID, Result: model.ResultNoError}
	state := model.TypeStatePrimed
	if kind == model.OperationDeprime {
		state = model.TypeStateCommissioned
	}

	for _, el := range cmd.Elements {
		var err error
		if kind == model.OperationPrime {
			err = i.adapter.Prime(ctx, compositionID, el)
		} else {
			err = i.adapter.Deprime(ctx, compositionID, el)
		}
		if errors.Is(err, ErrSilent) {
			logging.Debug("Participant", "%s staying silent on %s %s", i.config.ParticipantID, kind, cmd.OperationID)
			return
		}
		elAck := message.ElementDefinitionAck{ElementDefinitionID: el.ElementDefinitionID, State: state, Message: "done"}
		if err != nil {
			ack.Result = model.ResultFailed
			elAck.State = ""
			elAck.Message = err.Error()
		}
		ack.Elements = append(ack.Elements, elAck)
	}

	if err := i.publish(ctx, message.TypeCompositionAck, compositionID, "", ack); err != nil {
		logging.Error("Participant", err, "Acknowledging %s %s failed", kind, cmd.OperationID)
	}
}

func (i *Intermediary) instanceHandler(kind model.OperationKind) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, env message.Envelope) error {
		if !i.addressed(env) {
			return nil
		}
		var cmd message.InstanceCommand
		if err := env.DecodePayload(&cmd); err != nil {
			return err
		}
		return i.run(ctx, func(ctx context.Context) {
			i.executeInstance(ctx, kind, env.InstanceID, cmd)
		})
	})
}

type elementJob struct {
	el      model.ElementInstance
	removed bool
}

func (i *Intermediary) executeInstance(ctx context.Context, kind model.OperationKind, instanceID string, cmd message.InstanceCommand) {
	target := Target{
		InstanceID:          instanceID,
		CompositionID:       cmd.CompositionID,
		CompositionTargetID: cmd.CompositionTargetID,
		Phase:               cmd.Phase,
	}

	jobs := make([]elementJob, 0, len(cmd.Elements)+len(cmd.Removed))
	for _, el := range cmd.Elements {
		jobs = append(jobs, elementJob{el: el})
	}
	for _, el := range cmd.Removed {
		jobs = append(jobs, elementJob{el: el, removed: true})
	}

	var (
		mu     sync.Mutex
		acks   []message.ElementInstanceAck
		failed bool
		silent bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.config.Workers)
	for _, job := range jobs {
		g.Go(func() error {
			elAck, err := i.executeElement(gctx, kind, target, job)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrSilent):
				silent = true
			case err != nil:
				failed = true
				acks = append(acks, message.ElementInstanceAck{ElementID: job.el.ElementID, Message: err.Error()})
			default:
				acks = append(acks, elAck)
			}
			return nil
		})
	}
	_ = g.Wait()

	if silent {
		logging.Debug("Participant", "%s staying silent on %s %s", i.config.ParticipantID, kind, cmd.OperationID)
		return
	}

	sort.Slice(acks, func(a, b int) bool { return acks[a].ElementID < acks[b].ElementID })
	ack := message.InstanceAck{OperationID: cmd.OperationID, Kind: kind, Result: model.ResultNoError, Elements: acks}
	if failed {
		ack.Result = model.ResultFailed
		ack.Message = fmt.Sprintf("%s failed on participant %s", kind, i.config.ParticipantID)
	}
	if err := i.publish(ctx, message.TypeInstanceAck, cmd.CompositionID, instanceID, ack); err != nil {
		logging.Error("Participant", err, "Acknowledging %s %s failed", kind, cmd.OperationID)
	}
}

// executeElement runs one element through the adapter and returns the
// element's acknowledged state.
func (i *Intermediary) executeElement(ctx context.Context, kind model.OperationKind, target Target, job elementJob) (message.ElementInstanceAck, error) {
	el := job.el
	ack := message.ElementInstanceAck{ElementID: el.ElementID, Message: "done"}

	var (
		out model.Properties
		err error
	)
	switch {
	case job.removed:
		err = i.adapter.Undeploy(ctx, target, el)
		ack.DeployState, ack.LockState = model.DeployStateUndeployed, model.LockStateNone
	case kind == model.OperationDeploy, kind == model.OperationMigrate && el.DeployState == model.DeployStateDeploying:
		out, err = i.adapter.Deploy(ctx, target, el)
		ack.DeployState, ack.LockState = model.DeployStateDeployed, model.LockStateLocked
	case kind == model.OperationUndeploy:
		err = i.adapter.Undeploy(ctx, target, el)
		ack.DeployState, ack.LockState = model.DeployStateUndeployed, model.LockStateNone
	case kind == model.OperationLock:
		err = i.adapter.Lock(ctx, target, el)
		ack.LockState = model.LockStateLocked
	case kind == model.OperationUnlock:
		err = i.adapter.Unlock(ctx, target, el)
		ack.LockState = model.LockStateUnlocked
	case kind == model.OperationUpdate:
		out, err = i.adapter.Update(ctx, target, el)
		ack.DeployState = model.DeployStateDeployed
	case kind == model.OperationMigrate:
		out, err = i.adapter.Migrate(ctx, target, el)
		ack.DeployState = model.DeployStateDeployed
	default:
		err = fmt.Errorf("unsupported operation %s", kind)
	}
	if err != nil {
		return message.ElementInstanceAck{}, err
	}
	ack.OutProperties = out

	key := target.InstanceID + "/" + el.ElementID
	i.mu.Lock()
	if ack.DeployState == model.DeployStateUndeployed {
		delete(i.elements, key)
	} else {
		status := i.elements[key]
		status.InstanceID = target.InstanceID
		status.ElementID = el.ElementID
		status.OperationalState = "ENABLED"
		if ack.LockState != "" {
			status.UseState = string(ack.LockState)
		}
		if out != nil {
			status.OutProperties = out
		}
		i.elements[key] = status
	}
	i.mu.Unlock()

	return ack, nil
}

func (i *Intermediary) handleHeartbeatRequest(ctx context.Context, env message.Envelope) error {
	if !i.addressed(env) {
		return nil
	}
	i.sendStatus(ctx)
	return nil
}

func (i *Intermediary) handleRegisterAck(_ context.Context, env message.Envelope) error {
	if !i.addressed(env) {
		return nil
	}
	var ack message.RegisterAckPayload
	if err := env.DecodePayload(&ack); err != nil {
		return err
	}
	i.mu.Lock()
	i.accepted = ack.Accepted
	i.mu.Unlock()
	if !ack.Accepted {
		logging.Warn("Participant", "Registration of %s rejected: %s", i.config.ParticipantID, ack.Message)
		return nil
	}
	logging.Debug("Participant", "Registration of %s accepted", i.config.ParticipantID)
	return nil
}

func (i *Intermediary) sendStatus(ctx context.Context) {
	i.mu.Lock()
	keys := make([]string, 0, len(i.elements))
	for key := range i.elements {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	elements := make([]message.ElementStatus, 0, len(keys))
	for _, key := range keys {
		elements = append(elements, i.elements[key])
	}
	i.mu.Unlock()

	err := i.publish(ctx, message.TypeParticipantStatus, "", "", message.StatusPayload{
		State:                 model.ParticipantActive,
		SupportedElementTypes: i.config.SupportedElementTypes,
		Elements:              elements,
	})
	if err != nil && ctx.Err() == nil {
		logging.Warn("Participant", "Status report of %s failed: %v", i.config.ParticipantID, err)
	}
}

func (i *Intermediary) publish(ctx context.Context, t message.Type, compositionID, instanceID string, payload interface{}) error {
	env, err := message.New(t, i.clock.Now(), payload)
	if err != nil {
		return err
	}
	env.ParticipantID = i.config.ParticipantID
	env.CompositionID = compositionID
	env.InstanceID = instanceID
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return i.channel.Publish(ctx, message.TopicParticipant, data)
}
