package message

import "conductor/internal/model"

// RegisterPayload accompanies PARTICIPANT_REGISTER.
type RegisterPayload struct {
	SupportedElementTypes []string `json:"supportedElementTypes,omitempty"`
}

// RegisterAckPayload accompanies PARTICIPANT_REGISTER_ACK.
type RegisterAckPayload struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// ElementStatus is the per-element part of a PARTICIPANT_STATUS report.
// InstanceID is empty when the element belongs to a definition.
type ElementStatus struct {
	CompositionID    string           `json:"compositionId,omitempty"`
	InstanceID       string           `json:"instanceId,omitempty"`
	ElementID        string           `json:"elementId"`
	OutProperties    model.Properties `json:"outProperties,omitempty"`
	OperationalState string           `json:"operationalState,omitempty"`
	UseState         string           `json:"useState,omitempty"`
}

// StatusPayload accompanies PARTICIPANT_STATUS, the periodic heartbeat.
type StatusPayload struct {
	State                 model.ParticipantState `json:"participantState,omitempty"`
	SupportedElementTypes []string               `json:"supportedElementTypes,omitempty"`
	Elements              []ElementStatus        `json:"elements,omitempty"`
}

// CompositionCommand accompanies COMPOSITION_PRIME and COMPOSITION_DEPRIME.
// Elements holds only the elements owned by the addressed participant.
type CompositionCommand struct {
	OperationID string                         `json:"operationId"`
	Name        string                         `json:"name,omitempty"`
	Version     string                         `json:"version,omitempty"`
	Elements    []model.ElementDefinitionState `json:"elements"`
}

// InstanceCommand accompanies every INSTANCE_* command. For migrate, Elements
// holds the kept and added elements and Removed the elements to undeploy.
type InstanceCommand struct {
	OperationID         string                  `json:"operationId"`
	Kind                model.OperationKind     `json:"kind"`
	CompositionID       string                  `json:"compositionId"`
	CompositionTargetID string                  `json:"compositionTargetId,omitempty"`
	Phase               int                     `json:"phase,omitempty"`
	Elements            []model.ElementInstance `json:"elements"`
	Removed             []model.ElementInstance `json:"removed,omitempty"`
}

// ElementDefinitionAck reports the priming outcome of one element type.
type ElementDefinitionAck struct {
	ElementDefinitionID string           `json:"elementDefinitionId"`
	State               model.TypeState  `json:"state"`
	Message             string           `json:"message,omitempty"`
	OutProperties       model.Properties `json:"outProperties,omitempty"`
}

// CompositionAck accompanies COMPOSITION_STATE_CHANGE_ACK.
type CompositionAck struct {
	OperationID string                  `json:"operationId,omitempty"`
	Result      model.StateChangeResult `json:"stateChangeResult"`
	Message     string                  `json:"message,omitempty"`
	Elements    []ElementDefinitionAck  `json:"elements,omitempty"`
}

// ElementInstanceAck reports the outcome of one element instance.
type ElementInstanceAck struct {
	ElementID        string            `json:"elementId"`
	DeployState      model.DeployState `json:"deployState,omitempty"`
	LockState        model.LockState   `json:"lockState,omitempty"`
	Message          string            `json:"message,omitempty"`
	OutProperties    model.Properties  `json:"outProperties,omitempty"`
	OperationalState string            `json:"operationalState,omitempty"`
	UseState         string            `json:"useState,omitempty"`
}

// InstanceAck accompanies INSTANCE_STATE_CHANGE_ACK.
type InstanceAck struct {
	OperationID string                  `json:"operationId,omitempty"`
	Kind        model.OperationKind     `json:"kind,omitempty"`
	Result      model.StateChangeResult `json:"stateChangeResult"`
	Message     string                  `json:"message,omitempty"`
	Elements    []ElementInstanceAck    `json:"elements,omitempty"`
}

// Failed reports whether the participant signalled failure.
func (a CompositionAck) Failed() bool { return a.Result == model.ResultFailed }

// Failed reports whether the participant signalled failure.
func (a InstanceAck) Failed() bool { return a.Result == model.ResultFailed }

// WithoutState returns a copy carrying only the diagnostic element fields.
func (a CompositionAck) WithoutState() CompositionAck {
	out := a
	out.Elements = make([]ElementDefinitionAck, len(a.Elements))
	for i, el := range a.Elements {
		el.State = ""
		out.Elements[i] = el
	}
	return out
}

// WithoutState returns a copy with the deploy and lock states cleared.
func (a InstanceAck) WithoutState() InstanceAck {
	out := a
	out.Elements = make([]ElementInstanceAck, len(a.Elements))
	for i, el := range a.Elements {
		el.DeployState = ""
		el.LockState = ""
		out.Elements[i] = el
	}
	return out
}

// CommandType maps an operation kind to the message type that carries it.
func CommandType(kind model.OperationKind) Type {
	switch kind {
	case model.OperationPrime:
		return TypeCompositionPrime
	case model.OperationDeprime:
		return TypeCompositionDeprime
	case model.OperationDeploy:
		return TypeInstanceDeploy
	case model.OperationUndeploy:
		return TypeInstanceUndeploy
	case model.OperationLock:
		return TypeInstanceLock
	case model.OperationUnlock:
		return TypeInstanceUnlock
	case model.OperationMigrate:
		return TypeInstanceMigrate
	case model.OperationUpdate:
		return TypeInstanceUpdate
	}
	return ""
}
