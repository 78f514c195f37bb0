package participant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/bus"
	"conductor/internal/message"
	"conductor/internal/model"
)

type collector struct {
	mu   sync.Mutex
	envs []message.Envelope
}

func (c *collector) of(t message.Type) []message.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []message.Envelope
	for _, env := range c.envs {
		if env.MessageType == t {
			out = append(out, env)
		}
	}
	return out
}

type harness struct {
	t    *testing.T
	ctx  context.Context
	bus  *bus.MemoryBus
	sim  *Simulator
	im   *Intermediary
	seen *collector
}

func newHarness(t *testing.T, config SimulatorConfig) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), bus: bus.NewMemoryBus(0), seen: &collector{}}
	t.Cleanup(func() { _ = h.bus.Close() })

	h.bus.Subscribe(message.TopicParticipant, func(raw []byte) {
		env, err := message.Decode(raw)
		if err != nil {
			return
		}
		h.seen.mu.Lock()
		h.seen.envs = append(h.seen.envs, env)
		h.seen.mu.Unlock()
	})

	h.sim = NewSimulator("sim-1", nil, config)
	im, err := NewIntermediary(h.sim, h.bus, nil, Config{
		ParticipantID:         "p1",
		SupportedElementTypes: []string{"configmap"},
		HeartbeatInterval:     time.Hour,
		Workers:               2,
	})
	require.NoError(t, err)
	h.im = im
	require.NoError(t, im.Start(h.ctx))
	t.Cleanup(func() { _ = im.Stop(h.ctx) })
	return h
}

func (h *harness) send(t message.Type, participantID string, set func(*message.Envelope), payload interface{}) {
	h.t.Helper()
	env, err := message.New(t, time.Now(), payload)
	require.NoError(h.t, err)
	env.ParticipantID = participantID
	if set != nil {
		set(&env)
	}
	data, err := env.Encode()
	require.NoError(h.t, err)
	require.NoError(h.t, h.bus.Publish(h.ctx, message.TopicRuntime, data))
}

func (h *harness) waitFor(t message.Type, n int) []message.Envelope {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.seen.of(t)) >= n }, time.Second, 5*time.Millisecond)
	return h.seen.of(t)
}

func primeCommand(opID string) message.CompositionCommand {
	return message.CompositionCommand{
		OperationID: opID,
		Name:        "demo",
		Version:     "1.0.0",
		Elements: []model.ElementDefinitionState{
			{ElementDefinitionID: "web", Type: "configmap", ParticipantID: "p1", State: model.TypeStatePriming},
		},
	}
}

func deployCommand(opID string, elements ...model.ElementInstance) message.InstanceCommand {
	return message.InstanceCommand{
		OperationID:   opID,
		Kind:          model.OperationDeploy,
		CompositionID: "c-1",
		Elements:      elements,
	}
}

func element(id string) model.ElementInstance {
	return model.ElementInstance{
		ElementID:     id,
		DefinitionID:  "web",
		ParticipantID: "p1",
		DeployState:   model.DeployStateDeploying,
		Properties:    model.Properties{"image": "nginx"},
	}
}

func decodeInstanceAck(t *testing.T, env message.Envelope) message.InstanceAck {
	t.Helper()
	var ack message.InstanceAck
	require.NoError(t, env.DecodePayload(&ack))
	return ack
}

func TestIntermediaryRegistersAndReportsStatus(t *testing.T) {
	h := newHarness(t, SimulatorConfig{})

	reg := h.waitFor(message.TypeParticipantRegister, 1)
	assert.Equal(t, "p1", reg[0].ParticipantID)
	var payload message.RegisterPayload
	require.NoError(t, reg[0].DecodePayload(&payload))
	assert.Equal(t, []string{"configmap"}, payload.SupportedElementTypes)

	h.waitFor(message.TypeParticipantStatus, 1)

	h.send(message.TypeParticipantRegisterAck, "p1", nil, message.RegisterAckPayload{Accepted: true})
	assert.Eventually(t, h.im.Accepted, time.Second, 5*time.Millisecond)

	h.send(message.TypeParticipantHeartbeatReq, "p1", nil, nil)
	h.waitFor(message.TypeParticipantStatus, 2)
}

func TestIntermediaryPrimes(t *testing.T) {
	h := newHarness(t, SimulatorConfig{})

	h.send(message.TypeCompositionPrime, "p1", func(e *message.Envelope) { e.CompositionID = "c-1" }, primeCommand("op-1"))

	acks := h.waitFor(message.TypeCompositionAck, 1)
	assert.Equal(t, "c-1", acks[0].CompositionID)
	var ack message.CompositionAck
	require.NoError(t, acks[0].DecodePayload(&ack))
	assert.Equal(t, "op-1", ack.OperationID)
	assert.Equal(t, model.ResultNoError, ack.Result)
	require.Len(t, ack.Elements, 1)
	assert.Equal(t, model.TypeStatePrimed, ack.Elements[0].State)
}

func TestIntermediaryIgnoresOtherParticipants(t *testing.T) {
	h := newHarness(t, SimulatorConfig{})

	h.send(message.TypeCompositionPrime, "p2", func(e *message.Envelope) { e.CompositionID = "c-1" }, primeCommand("op-1"))
	h.send(message.TypeCompositionPrime, "p1", func(e *message.Envelope) { e.CompositionID = "c-1" }, primeCommand("op-2"))

	acks := h.waitFor(message.TypeCompositionAck, 1)
	var ack message.CompositionAck
	require.NoError(t, acks[0].DecodePayload(&ack))
	assert.Equal(t, "op-2", ack.OperationID)
	assert.Equal(t, 1, h.sim.Calls()[model.OperationPrime])
}

func TestIntermediaryReportsFailure(t *testing.T) {
	h := newHarness(t, SimulatorConfig{Fail: []model.OperationKind{model.OperationDeploy}})

	h.send(message.TypeInstanceDeploy, "p1", func(e *message.Envelope) { e.InstanceID = "i-1" },
		deployCommand("op-1", element("e-1"), element("e-2")))

	ack := decodeInstanceAck(t, h.waitFor(message.TypeInstanceAck, 1)[0])
	assert.Equal(t, model.ResultFailed, ack.Result)
	require.Len(t, ack.Elements, 2)
	assert.Equal(t, "e-1", ack.Elements[0].ElementID)
	assert.Contains(t, ack.Elements[0].Message, "simulated DEPLOY failure")
	assert.Empty(t, ack.Elements[0].DeployState)
}

func TestIntermediaryStaysSilent(t *testing.T) {
	h := newHarness(t, SimulatorConfig{Silent: []model.OperationKind{model.OperationPrime}})

	h.send(message.TypeCompositionPrime, "p1", func(e *message.Envelope) { e.CompositionID = "c-1" }, primeCommand("op-1"))

	assert.Eventually(t, func() bool { return h.sim.Calls()[model.OperationPrime] == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(h.seen.of(message.TypeCompositionAck)) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestIntermediaryDeployAndStatus(t *testing.T) {
	h := newHarness(t, SimulatorConfig{})
	h.waitFor(message.TypeParticipantStatus, 1)

	h.send(message.TypeInstanceDeploy, "p1", func(e *message.Envelope) { e.InstanceID = "i-1" },
		deployCommand("op-1", element("e-1")))

	ack := decodeInstanceAck(t, h.waitFor(message.TypeInstanceAck, 1)[0])
	assert.Equal(t, model.ResultNoError, ack.Result)
	assert.Equal(t, model.OperationDeploy, ack.Kind)
	require.Len(t, ack.Elements, 1)
	assert.Equal(t, model.DeployStateDeployed, ack.Elements[0].DeployState)
	assert.Equal(t, model.LockStateLocked, ack.Elements[0].LockState)
	assert.Equal(t, "sim-1", ack.Elements[0].OutProperties["simulator"])

	h.send(message.TypeParticipantHeartbeatReq, "p1", nil, nil)
	statuses := h.waitFor(message.TypeParticipantStatus, 2)
	var status message.StatusPayload
	require.NoError(t, statuses[len(statuses)-1].DecodePayload(&status))
	require.Len(t, status.Elements, 1)
	assert.Equal(t, "i-1", status.Elements[0].InstanceID)
	assert.Equal(t, "e-1", status.Elements[0].ElementID)
	assert.Equal(t, "ENABLED", status.Elements[0].OperationalState)
	assert.Equal(t, string(model.LockStateLocked), status.Elements[0].UseState)
}

func TestIntermediaryMigrate(t *testing.T) {
	h := newHarness(t, SimulatorConfig{})

	kept := element("e-1")
	kept.DeployState = model.DeployStateMigrating
	added := element("e-2")
	removed := element("e-3")
	removed.DeployState = model.DeployStateUndeploying

	h.send(message.TypeInstanceMigrate, "p1", func(e *message.Envelope) { e.InstanceID = "i-1" }, message.InstanceCommand{
		OperationID:         "op-1",
		Kind:                model.OperationMigrate,
		CompositionID:       "c-1",
		CompositionTargetID: "c-2",
		Elements:            []model.ElementInstance{kept, added},
		Removed:             []model.ElementInstance{removed},
	})

	ack := decodeInstanceAck(t, h.waitFor(message.TypeInstanceAck, 1)[0])
	assert.Equal(t, model.ResultNoError, ack.Result)
	require.Len(t, ack.Elements, 3)
	assert.Equal(t, model.DeployStateDeployed, ack.Elements[0].DeployState)
	assert.Equal(t, model.DeployStateDeployed, ack.Elements[1].DeployState)
	assert.Equal(t, model.DeployStateUndeployed, ack.Elements[2].DeployState)

	calls := h.sim.Calls()
	assert.Equal(t, 1, calls[model.OperationMigrate])
	assert.Equal(t, 1, calls[model.OperationDeploy])
	assert.Equal(t, 1, calls[model.OperationUndeploy])
}

func TestIntermediaryStopDeregisters(t *testing.T) {
	h := newHarness(t, SimulatorConfig{})
	h.waitFor(message.TypeParticipantRegister, 1)

	require.NoError(t, h.im.Stop(h.ctx))
	h.waitFor(message.TypeParticipantDeregister, 1)
}

func TestNewIntermediaryRequiresID(t *testing.T) {
	_, err := NewIntermediary(NewSimulator("x", nil, SimulatorConfig{}), bus.NewMemoryBus(0), nil, Config{})
	assert.Error(t, err)
}
