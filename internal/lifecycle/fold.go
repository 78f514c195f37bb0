package lifecycle

import (
	"reflect"
	"time"

	"conductor/internal/message"
	"conductor/internal/model"
)

// Folds apply inbound participant reports to an entity. Every fold is keyed
// by (entity, participant): elements not owned by the reporting participant
// are ignored, and re-applying a report that is already reflected returns
// false without touching the entity, LastMessageTime included.

// FoldDefinitionAck applies a COMPOSITION_STATE_CHANGE_ACK.
func FoldDefinitionAck(def *model.Definition, participantID string, ack message.CompositionAck, now time.Time) bool {
	changed := false
	for _, a := range ack.Elements {
		el, ok := def.Elements[a.ElementDefinitionID]
		if !ok || el.ParticipantID != participantID {
			continue
		}
		next := el
		if a.State != "" {
			next.State = a.State
		}
		next.Message = a.Message
		if a.OutProperties != nil {
			next.OutProperties = a.OutProperties.DeepCopy()
		}
		if !reflect.DeepEqual(el, next) {
			def.Elements[a.ElementDefinitionID] = next
			changed = true
		}
	}
	if changed {
		def.LastMessageTime = now
	}
	return changed
}

// FoldInstanceAck applies an INSTANCE_STATE_CHANGE_ACK.
func FoldInstanceAck(inst *model.Instance, participantID string, ack message.InstanceAck, now time.Time) bool {
	changed := false
	for _, a := range ack.Elements {
		el, ok := inst.Elements[a.ElementID]
		if !ok || el.ParticipantID != participantID {
			continue
		}
		next := el
		if a.DeployState != "" {
			next.DeployState = a.DeployState
		}
		if a.LockState != "" {
			next.LockState = a.LockState
		}
		next.Message = a.Message
		if a.OutProperties != nil {
			next.OutProperties = a.OutProperties.DeepCopy()
		}
		if a.OperationalState != "" {
			next.OperationalState = a.OperationalState
		}
		if a.UseState != "" {
			next.UseState = a.UseState
		}
		if !reflect.DeepEqual(el, next) {
			inst.Elements[a.ElementID] = next
			changed = true
		}
	}
	if changed {
		inst.LastMessageTime = now
	}
	return changed
}

// FoldDefinitionStatus applies the definition part of a PARTICIPANT_STATUS
// report: out properties published by the participant for element types it
// owns.
func FoldDefinitionStatus(def *model.Definition, participantID string, statuses []message.ElementStatus, now time.Time) bool {
	changed := false
	for _, s := range statuses {
		if s.InstanceID != "" || s.CompositionID != def.CompositionID {
			continue
		}
		el, ok := def.Elements[s.ElementID]
		if !ok || el.ParticipantID != participantID || s.OutProperties == nil {
			continue
		}
		if reflect.DeepEqual(el.OutProperties, s.OutProperties) {
			continue
		}
		el.OutProperties = s.OutProperties.DeepCopy()
		def.Elements[s.ElementID] = el
		changed = true
	}
	if changed {
		def.LastMessageTime = now
	}
	return changed
}

// FoldInstanceStatus applies the instance part of a PARTICIPANT_STATUS
// report: out properties and the operational and use state of each element.
func FoldInstanceStatus(inst *model.Instance, participantID string, statuses []message.ElementStatus, now time.Time) bool {
	changed := false
	for _, s := range statuses {
		if s.InstanceID != inst.InstanceID {
			continue
		}
		el, ok := inst.Elements[s.ElementID]
		if !ok || el.ParticipantID != participantID {
			continue
		}
		next := el
		if s.OutProperties != nil {
			next.OutProperties = s.OutProperties.DeepCopy()
		}
		if s.OperationalState != "" {
			next.OperationalState = s.OperationalState
		}
		if s.UseState != "" {
			next.UseState = s.UseState
		}
		if !reflect.DeepEqual(el, next) {
			inst.Elements[s.ElementID] = next
			changed = true
		}
	}
	if changed {
		inst.LastMessageTime = now
	}
	return changed
}
