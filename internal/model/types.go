package model

import "time"

// TypeState is the priming axis of a composition definition.
type TypeState string

const (
	TypeStateCommissioned TypeState = "COMMISSIONED"
	TypeStatePriming      TypeState = "PRIMING"
	TypeStatePrimed       TypeState = "PRIMED"
	TypeStateDepriming    TypeState = "DEPRIMING"
)

// IsTransient reports whether the state is owned by an in-flight operation.
func (s TypeState) IsTransient() bool {
	return s == TypeStatePriming || s == TypeStateDepriming
}

// DeployState is the deployment axis of an instance and its elements.
type DeployState string

const (
	DeployStateUndeployed  DeployState = "UNDEPLOYED"
	DeployStateDeploying   DeployState = "DEPLOYING"
	DeployStateDeployed    DeployState = "DEPLOYED"
	DeployStateUndeploying DeployState = "UNDEPLOYING"
	DeployStateUpdating    DeployState = "UPDATING"
	DeployStateMigrating   DeployState = "MIGRATING"
)

// AllDeployStates lists every deploy state in declaration order.
var AllDeployStates = []DeployState{
	DeployStateUndeployed,
	DeployStateDeploying,
	DeployStateDeployed,
	DeployStateUndeploying,
	DeployStateUpdating,
	DeployStateMigrating,
}

// IsTransient reports whether the state is owned by an in-flight operation.
func (s DeployState) IsTransient() bool {
	switch s {
	case DeployStateDeploying, DeployStateUndeploying, DeployStateUpdating, DeployStateMigrating:
		return true
	}
	return false
}

// LockState is the lock axis of an instance. It is orthogonal to DeployState
// and only meaningful while the instance is DEPLOYED.
type LockState string

const (
	LockStateNone      LockState = "NONE"
	LockStateUnlocked  LockState = "UNLOCKED"
	LockStateLocked    LockState = "LOCKED"
	LockStateLocking   LockState = "LOCKING"
	LockStateUnlocking LockState = "UNLOCKING"
)

// IsTransient reports whether a lock or unlock is in flight.
func (s LockState) IsTransient() bool {
	return s == LockStateLocking || s == LockStateUnlocking
}

// StateChangeResult is the only carrier of failure information on a
// definition or instance.
type StateChangeResult string

const (
	ResultNoError StateChangeResult = "NO_ERROR"
	ResultFailed  StateChangeResult = "FAILED"
	ResultTimeout StateChangeResult = "TIMEOUT"
)

// ParticipantState is the registration state of a participant.
type ParticipantState string

const (
	ParticipantUnknown    ParticipantState = "UNKNOWN"
	ParticipantPassive    ParticipantState = "PASSIVE"
	ParticipantActive     ParticipantState = "ACTIVE"
	ParticipantTerminated ParticipantState = "TERMINATED"
)

// OperationKind names a lifecycle command.
type OperationKind string

const (
	OperationPrime    OperationKind = "PRIME"
	OperationDeprime  OperationKind = "DEPRIME"
	OperationDeploy   OperationKind = "DEPLOY"
	OperationUndeploy OperationKind = "UNDEPLOY"
	OperationLock     OperationKind = "LOCK"
	OperationUnlock   OperationKind = "UNLOCK"
	OperationMigrate  OperationKind = "MIGRATE"
	OperationUpdate   OperationKind = "UPDATE"
)

// TargetsDefinition reports whether the kind operates on a composition
// definition rather than on an instance.
func (k OperationKind) TargetsDefinition() bool {
	return k == OperationPrime || k == OperationDeprime
}

// Properties is an opaque key/value bag carried to participants.
type Properties map[string]interface{}

// ElementDefinitionState is the per-element-type priming record of a
// definition.
type ElementDefinitionState struct {
	ElementDefinitionID string     `json:"elementDefinitionId"`
	Type                string     `json:"type,omitempty"`
	ParticipantID       string     `json:"participantId,omitempty"`
	State               TypeState  `json:"state"`
	Message             string     `json:"message,omitempty"`
	Properties          Properties `json:"properties,omitempty"`
	OutProperties       Properties `json:"outProperties,omitempty"`
}

// Definition is a commissioned automation composition.
type Definition struct {
	CompositionID     string                            `json:"compositionId"`
	Name              string                            `json:"name"`
	Version           string                            `json:"version"`
	Elements          map[string]ElementDefinitionState `json:"elements"`
	TypeState         TypeState                         `json:"typeState"`
	StateChangeResult StateChangeResult                 `json:"stateChangeResult"`
	LastMessageTime   time.Time                         `json:"lastMessageTime"`
	Revision          int64                             `json:"revision"`
}

// Key returns "name:version", which must be unique across definitions.
func (d *Definition) Key() string {
	return d.Name + ":" + d.Version
}

// Participants returns the owning participant of every element, deduplicated.
func (d *Definition) Participants() []string {
	seen := make(map[string]bool)
	var out []string
	for _, el := range d.Elements {
		if el.ParticipantID == "" || seen[el.ParticipantID] {
			continue
		}
		seen[el.ParticipantID] = true
		out = append(out, el.ParticipantID)
	}
	return out
}

// ElementInstance is the runtime record of one element of an instance.
type ElementInstance struct {
	ElementID        string      `json:"elementId"`
	DefinitionID     string      `json:"definitionId"`
	ParticipantID    string      `json:"participantId"`
	Properties       Properties  `json:"properties,omitempty"`
	OutProperties    Properties  `json:"outProperties,omitempty"`
	DeployState      DeployState `json:"deployState"`
	LockState        LockState   `json:"lockState"`
	OperationalState string      `json:"operationalState,omitempty"`
	UseState         string      `json:"useState,omitempty"`
	Message          string      `json:"message,omitempty"`
}

// Instance is an instantiation of a primed definition.
type Instance struct {
	InstanceID          string                     `json:"instanceId"`
	Name                string                     `json:"name"`
	CompositionID       string                     `json:"compositionId"`
	CompositionTargetID string                     `json:"compositionTargetId,omitempty"`
	Elements            map[string]ElementInstance `json:"elements"`
	DeployState         DeployState                `json:"deployState"`
	LockState           LockState                  `json:"lockState"`
	StateChangeResult   StateChangeResult          `json:"stateChangeResult"`
	Phase               int                        `json:"phase"`
	LastMessageTime     time.Time                  `json:"lastMessageTime"`
	Revision            int64                      `json:"revision"`
}

// Participants returns the owning participant of every element, deduplicated.
func (i *Instance) Participants() []string {
	seen := make(map[string]bool)
	var out []string
	for _, el := range i.Elements {
		if el.ParticipantID == "" || seen[el.ParticipantID] {
			continue
		}
		seen[el.ParticipantID] = true
		out = append(out, el.ParticipantID)
	}
	return out
}

// Participant is a remote process that owns elements.
type Participant struct {
	ParticipantID         string           `json:"participantId"`
	State                 ParticipantState `json:"participantState"`
	LastHeartbeat         time.Time        `json:"lastHeartbeat"`
	SupportedElementTypes []string         `json:"supportedElementTypes,omitempty"`
	Stale                 bool             `json:"stale,omitempty"`
	Revision              int64            `json:"revision"`
}

// Supports reports whether the participant declared the element type.
func (p *Participant) Supports(elementType string) bool {
	for _, t := range p.SupportedElementTypes {
		if t == elementType {
			return true
		}
	}
	return false
}
