package supervision

import (
	"context"
	"sort"

	"go.uber.org/multierr"

	"conductor/internal/api"
	"conductor/internal/dispatch"
	"conductor/internal/expectation"
	"conductor/internal/lifecycle"
	"conductor/internal/message"
	"conductor/internal/model"
	"conductor/internal/store"
	"conductor/pkg/logging"
)

// RegisterHandlers installs the handlers for every participant message on d.
func (s *Supervisor) RegisterHandlers(d *dispatch.Dispatcher) error {
	handlers := map[message.Type]dispatch.HandlerFunc{
		message.TypeParticipantRegister:   s.handleRegister,
		message.TypeParticipantDeregister: s.handleDeregister,
		message.TypeParticipantStatus:     s.handleStatus,
		message.TypeCompositionAck:        s.handleCompositionAck,
		message.TypeInstanceAck:           s.handleInstanceAck,
	}
	var errs error
	for t, h := range handlers {
		errs = multierr.Append(errs, d.Register(t, h))
	}
	return errs
}

func participantOf(env message.Envelope) (string, error) {
	if env.ParticipantID == "" {
		return "", api.NewDecodeError(string(env.MessageType)+" without participantId", nil)
	}
	return env.ParticipantID, nil
}

func (s *Supervisor) handleRegister(ctx context.Context, env message.Envelope) error {
	id, err := participantOf(env)
	if err != nil {
		return err
	}
	var payload message.RegisterPayload
	if err := env.DecodePayload(&payload); err != nil {
		return api.NewDecodeError("register payload", err)
	}

	if _, err := s.registry.Register(ctx, id, payload.SupportedElementTypes); err != nil {
		if ackErr := s.publisher.AckRegistration(ctx, id, false, err.Error()); ackErr != nil {
			logging.Error("Supervision", ackErr, "Failed to reject registration of %s", id)
		}
		return err
	}
	if err := s.publisher.AckRegistration(ctx, id, true, ""); err != nil {
		logging.Error("Supervision", err, "Failed to acknowledge registration of %s", id)
	}
	s.resumeDeferred(id)
	return nil
}

func (s *Supervisor) handleDeregister(ctx context.Context, env message.Envelope) error {
	id, err := participantOf(env)
	if err != nil {
		return err
	}
	_, err = s.registry.Deregister(ctx, id)
	return err
}

// handleStatus records the heartbeat and folds the reported element state
// into every definition and instance it mentions.
func (s *Supervisor) handleStatus(ctx context.Context, env message.Envelope) error {
	id, err := participantOf(env)
	if err != nil {
		return err
	}
	var payload message.StatusPayload
	if err := env.DecodePayload(&payload); err != nil {
		return api.NewDecodeError("status payload", err)
	}

	p, err := s.registry.Heartbeat(ctx, id, payload.State, payload.SupportedElementTypes)
	if err != nil {
		return err
	}

	byDefinition := make(map[string][]message.ElementStatus)
	byInstance := make(map[string][]message.ElementStatus)
	for _, st := range payload.Elements {
		switch {
		case st.InstanceID != "":
			byInstance[st.InstanceID] = append(byInstance[st.InstanceID], st)
		case st.CompositionID != "":
			byDefinition[st.CompositionID] = append(byDefinition[st.CompositionID], st)
		}
	}

	now := s.clock.Now()
	var errs error
	for _, compositionID := range sortedKeys(byDefinition) {
		statuses := byDefinition[compositionID]
		errs = multierr.Append(errs, s.foldLocked(expectation.CompositionRef(compositionID), func() error {
			_, err := store.UpdateDefinition(ctx, s.repo, compositionID, func(def *model.Definition) error {
				if !lifecycle.FoldDefinitionStatus(def, id, statuses, now) {
					return store.ErrNoChange
				}
				return nil
			})
			return err
		}))
	}
	for _, instanceID := range sortedKeys(byInstance) {
		statuses := byInstance[instanceID]
		errs = multierr.Append(errs, s.foldLocked(expectation.InstanceRef(instanceID), func() error {
			_, err := store.UpdateInstance(ctx, s.repo, instanceID, func(inst *model.Instance) error {
				if !lifecycle.FoldInstanceStatus(inst, id, statuses, now) {
					return store.ErrNoChange
				}
				return nil
			})
			return err
		}))
	}

	if p.State == model.ParticipantActive {
		s.resumeDeferred(id)
	}
	return errs
}

func (s *Supervisor) handleCompositionAck(ctx context.Context, env message.Envelope) error {
	id, err := participantOf(env)
	if err != nil {
		return err
	}
	if env.CompositionID == "" {
		return api.NewDecodeError("composition ack without compositionId", nil)
	}
	var ack message.CompositionAck
	if err := env.DecodePayload(&ack); err != nil {
		return api.NewDecodeError("composition ack payload", err)
	}

	ref := expectation.CompositionRef(env.CompositionID)
	now := s.clock.Now()
	return s.ack(ref, id, ack.OperationID, ack.Failed(), func(open bool) error {
		if !open {
			ack = ack.WithoutState()
		}
		_, err := store.UpdateDefinition(ctx, s.repo, ref.ID, func(def *model.Definition) error {
			if !lifecycle.FoldDefinitionAck(def, id, ack, now) {
				return store.ErrNoChange
			}
			return nil
		})
		return err
	})
}

func (s *Supervisor) handleInstanceAck(ctx context.Context, env message.Envelope) error {
	id, err := participantOf(env)
	if err != nil {
		return err
	}
	if env.InstanceID == "" {
		return api.NewDecodeError("instance ack without instanceId", nil)
	}
	var ack message.InstanceAck
	if err := env.DecodePayload(&ack); err != nil {
		return api.NewDecodeError("instance ack payload", err)
	}

	ref := expectation.InstanceRef(env.InstanceID)
	now := s.clock.Now()
	return s.ack(ref, id, ack.OperationID, ack.Failed(), func(open bool) error {
		if !open {
			ack = ack.WithoutState()
		}
		_, err := store.UpdateInstance(ctx, s.repo, ref.ID, func(inst *model.Instance) error {
			if !lifecycle.FoldInstanceAck(inst, id, ack, now) {
				return store.ErrNoChange
			}
			return nil
		})
		return err
	})
}

// ack folds an acknowledgement and records it against the open expectation,
// both under the entity lock, then queues the entity for reconciliation. An
// ack tagged with another operation than the open one is stale and dropped.
// With no expectation open only the diagnostic fields are folded, so a late
// ack cannot move element state.
func (s *Supervisor) ack(ref expectation.Ref, participantID, operationID string, failed bool, fold func(open bool) error) error {
	unlock := s.locks.Lock(ref.String())

	exp, open := s.tracker.Get(ref)
	if open && operationID != "" && operationID != exp.OperationID {
		unlock()
		logging.Debug("Supervision", "Dropping stale ack from %s for %s: operation %s, expected %s",
			participantID, ref, operationID, exp.OperationID)
		return nil
	}

	if err := fold(open); err != nil {
		unlock()
		if api.IsNotFound(err) {
			logging.Debug("Supervision", "Dropping ack from %s for deleted %s", participantID, ref)
			return nil
		}
		return err
	}
	if open {
		if _, recorded := s.tracker.Ack(ref, operationID, participantID, failed); !recorded {
			logging.Debug("Supervision", "Ack from %s is not expected by %s", participantID, ref)
		}
	}
	unlock()

	s.queue.Add(ref)
	return nil
}

func (s *Supervisor) foldLocked(ref expectation.Ref, fold func() error) error {
	unlock := s.locks.Lock(ref.String())
	defer unlock()
	if err := fold(); err != nil && !api.IsNotFound(err) {
		return err
	}
	return nil
}

// resumeDeferred queues every deferred expectation waiting on participantID.
func (s *Supervisor) resumeDeferred(participantID string) {
	for _, exp := range s.tracker.Snapshot() {
		if exp.Deferred && exp.Expected.Has(participantID) {
			s.queue.Add(exp.Entity)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
