package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the discriminator carried in every envelope's messageType field.
type Type string

// Inbound, participant to runtime.
const (
	TypeParticipantRegister   Type = "PARTICIPANT_REGISTER"
	TypeParticipantDeregister Type = "PARTICIPANT_DEREGISTER"
	TypeParticipantStatus     Type = "PARTICIPANT_STATUS"
	TypeCompositionAck        Type = "COMPOSITION_STATE_CHANGE_ACK"
	TypeInstanceAck           Type = "INSTANCE_STATE_CHANGE_ACK"
)

// Outbound, runtime to participant.
const (
	TypeCompositionPrime        Type = "COMPOSITION_PRIME"
	TypeCompositionDeprime      Type = "COMPOSITION_DEPRIME"
	TypeInstanceDeploy          Type = "INSTANCE_DEPLOY"
	TypeInstanceUndeploy        Type = "INSTANCE_UNDEPLOY"
	TypeInstanceLock            Type = "INSTANCE_LOCK"
	TypeInstanceUnlock          Type = "INSTANCE_UNLOCK"
	TypeInstanceMigrate         Type = "INSTANCE_MIGRATE"
	TypeInstanceUpdate          Type = "INSTANCE_UPDATE"
	TypeParticipantHeartbeatReq Type = "PARTICIPANT_HEARTBEAT_REQUEST"
	TypeParticipantRegisterAck  Type = "PARTICIPANT_REGISTER_ACK"
)

// Bus topics.
const (
	// TopicRuntime carries commands from the runtime to participants.
	TopicRuntime = "acm-runtime"
	// TopicParticipant carries registrations, status and acks back.
	TopicParticipant = "acm-participant"
)

// Envelope is the wire form of every message on the bus.
type Envelope struct {
	MessageType   Type            `json:"messageType"`
	MessageID     string          `json:"messageId"`
	Timestamp     time.Time       `json:"timestamp"`
	CompositionID string          `json:"compositionId,omitempty"`
	InstanceID    string          `json:"instanceId,omitempty"`
	ParticipantID string          `json:"participantId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope with a fresh message id and the payload encoded as
// JSON. A nil payload leaves the field empty.
func New(t Type, now time.Time, payload interface{}) (Envelope, error) {
	env := Envelope{
		MessageType: t,
		MessageID:   uuid.NewString(),
		Timestamp:   now.UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encoding %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Encode serializes the envelope for publishing.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire message into an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into out.
func (e Envelope) DecodePayload(out interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.MessageType, err)
	}
	return nil
}
