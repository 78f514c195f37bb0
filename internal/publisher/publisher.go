package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"conductor/internal/api"
	"conductor/internal/bus"
	"conductor/internal/expectation"
	"conductor/internal/message"
	"conductor/internal/model"
	"conductor/pkg/logging"
)

// ErrDeferred is returned by Send when an owning participant is not ACTIVE.
// The expectation stays open and is resumed by supervision once every owner
// is active again; it is not a failure.
var ErrDeferred = errors.New("command deferred until all owning participants are active")

// ParticipantChecker reports whether a participant may receive commands.
type ParticipantChecker interface {
	IsActive(participantID string) bool
}

// Config holds the publisher settings.
type Config struct {
	// OperationTimeout is the deadline given to each expectation attempt.
	OperationTimeout time.Duration
	// FanOut bounds the number of concurrent publishes per operation.
	FanOut int
}

// Publisher builds lifecycle commands for the participants owning the
// affected elements, records the expectation and publishes the commands.
type Publisher struct {
	channel      bus.Channel
	tracker      *expectation.Tracker
	participants ParticipantChecker
	clock        clock.PassiveClock
	config       Config
}

// New creates a publisher.
func New(channel bus.Channel, tracker *expectation.Tracker, participants ParticipantChecker, clk clock.PassiveClock, config Config) *Publisher {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = 2 * time.Minute
	}
	if config.FanOut <= 0 {
		config.FanOut = 8
	}
	return &Publisher{
		channel:      channel,
		tracker:      tracker,
		participants: participants,
		clock:        clk,
		config:       config,
	}
}

// Timeout returns the configured per-attempt deadline.
func (p *Publisher) Timeout() time.Duration {
	return p.config.OperationTimeout
}

// PrepareDefinition records the expectation for a prime or deprime of def and
// encodes one command per owning participant. Nothing is sent. It fails with
// a ConflictError when the definition already has an operation in flight.
func (p *Publisher) PrepareDefinition(def *model.Definition, kind model.OperationKind) (*expectation.Expectation, error) {
	if !kind.TargetsDefinition() {
		return nil, fmt.Errorf("%s is not a composition operation", kind)
	}

	owned := make(map[string][]model.ElementDefinitionState)
	for _, id := range sortedKeys(def.Elements) {
		el := def.Elements[id]
		if el.ParticipantID == "" {
			continue
		}
		owned[el.ParticipantID] = append(owned[el.ParticipantID], el)
	}

	ref := expectation.CompositionRef(def.CompositionID)
	exp := p.tracker.New(uuid.NewString(), kind, ref, sortedKeys(owned), p.config.OperationTimeout)

	for participant, elements := range owned {
		env, err := message.New(message.CommandType(kind), p.clock.Now(), message.CompositionCommand{
			OperationID: exp.OperationID,
			Name:        def.Name,
			Version:     def.Version,
			Elements:    elements,
		})
		if err != nil {
			return nil, err
		}
		env.CompositionID = def.CompositionID
		env.ParticipantID = participant
		if exp.Commands[participant], err = env.Encode(); err != nil {
			return nil, err
		}
	}

	return p.open(exp)
}

// PrepareInstance is PrepareDefinition for instance operations. For migrate,
// inst must already carry the planned element set: kept and added elements
// are sent as Elements and elements being removed as Removed.
func (p *Publisher) PrepareInstance(inst *model.Instance, kind model.OperationKind) (*expectation.Expectation, error) {
	if kind.TargetsDefinition() {
		return nil, fmt.Errorf("%s is not an instance operation", kind)
	}

	type parts struct {
		elements []model.ElementInstance
		removed  []model.ElementInstance
	}
	owned := make(map[string]*parts)
	for _, id := range sortedKeys(inst.Elements) {
		el := inst.Elements[id]
		if el.ParticipantID == "" {
			continue
		}
		if owned[el.ParticipantID] == nil {
			owned[el.ParticipantID] = &parts{}
		}
		removing := kind == model.OperationMigrate &&
			(el.DeployState == model.DeployStateUndeploying || el.DeployState == model.DeployStateUndeployed)
		if removing {
			owned[el.ParticipantID].removed = append(owned[el.ParticipantID].removed, el)
		} else {
			owned[el.ParticipantID].elements = append(owned[el.ParticipantID].elements, el)
		}
	}

	ref := expectation.InstanceRef(inst.InstanceID)
	exp := p.tracker.New(uuid.NewString(), kind, ref, sortedKeys(owned), p.config.OperationTimeout)

	for participant, pp := range owned {
		env, err := message.New(message.CommandType(kind), p.clock.Now(), message.InstanceCommand{
			OperationID:         exp.OperationID,
			Kind:                kind,
			CompositionID:       inst.CompositionID,
			CompositionTargetID: inst.CompositionTargetID,
			Phase:               inst.Phase,
			Elements:            pp.elements,
			Removed:             pp.removed,
		})
		if err != nil {
			return nil, err
		}
		env.CompositionID = inst.CompositionID
		env.InstanceID = inst.InstanceID
		env.ParticipantID = participant
		if exp.Commands[participant], err = env.Encode(); err != nil {
			return nil, err
		}
	}

	return p.open(exp)
}

func (p *Publisher) open(exp *expectation.Expectation) (*expectation.Expectation, error) {
	exp.Deferred = !p.allActive(exp.Expected.UnsortedList())
	if err := p.tracker.Open(exp); err != nil {
		return nil, err
	}
	logging.Debug("Publisher", "Opened %s %s for %s expecting %v", exp.Kind, exp.OperationID, exp.Entity, exp.Pending())
	return exp, nil
}

func (p *Publisher) allActive(participants []string) bool {
	for _, id := range participants {
		if !p.participants.IsActive(id) {
			return false
		}
	}
	return true
}

// Send publishes every command of exp. When an owner is inactive nothing is
// sent and ErrDeferred is returned. A publish failure closes the expectation
// as FAILED and returns a TransportFailure; retrying is the caller's choice.
func (p *Publisher) Send(ctx context.Context, exp *expectation.Expectation) error {
	if exp.Deferred || !p.allActive(exp.Expected.UnsortedList()) {
		p.tracker.SetDeferred(exp.Entity, exp.OperationID, true, p.config.OperationTimeout)
		logging.Info("Publisher", "Deferring %s %s for %s: owning participant not active",
			exp.Kind, exp.OperationID, exp.Entity)
		return ErrDeferred
	}
	return p.publish(ctx, exp, exp.Expected.UnsortedList())
}

// Resend publishes the commands of exp again to the participants that have
// not responded yet.
func (p *Publisher) Resend(ctx context.Context, exp *expectation.Expectation) error {
	return p.publish(ctx, exp, exp.Pending())
}

func (p *Publisher) publish(ctx context.Context, exp *expectation.Expectation, participants []string) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.FanOut)

	for _, participant := range participants {
		data, ok := exp.Commands[participant]
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := p.channel.Publish(gctx, message.TopicRuntime, data); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("participant %s: %w", participant, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		p.tracker.Close(exp.Entity, exp.OperationID, expectation.ResultFailed)
		logging.Error("Publisher", errs, "Publishing %s %s for %s failed", exp.Kind, exp.OperationID, exp.Entity)
		return api.NewTransportFailure(exp.OperationID, errs)
	}
	logging.Debug("Publisher", "Published %s %s to %d participants", exp.Kind, exp.OperationID, len(participants))
	return nil
}

// RequestHeartbeat asks each participant to report its status.
func (p *Publisher) RequestHeartbeat(ctx context.Context, participantIDs []string) error {
	var errs error
	for _, id := range participantIDs {
		env, err := message.New(message.TypeParticipantHeartbeatReq, p.clock.Now(), nil)
		if err != nil {
			return err
		}
		env.ParticipantID = id
		errs = multierr.Append(errs, p.publishEnvelope(ctx, env))
	}
	return errs
}

// AckRegistration confirms a participant registration.
func (p *Publisher) AckRegistration(ctx context.Context, participantID string, accepted bool, msg string) error {
	env, err := message.New(message.TypeParticipantRegisterAck, p.clock.Now(), message.RegisterAckPayload{
		Accepted: accepted,
		Message:  msg,
	})
	if err != nil {
		return err
	}
	env.ParticipantID = participantID
	return p.publishEnvelope(ctx, env)
}

func (p *Publisher) publishEnvelope(ctx context.Context, env message.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := p.channel.Publish(ctx, message.TopicRuntime, data); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", env.MessageType, env.ParticipantID, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
