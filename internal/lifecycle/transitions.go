package lifecycle

import (
	"conductor/internal/model"
)

// BeginDefinition moves a definition into the transient state for kind and
// clears the previous result. It is applied when the operation is accepted.
func BeginDefinition(def *model.Definition, kind model.OperationKind) {
	var state model.TypeState
	switch kind {
	case model.OperationPrime:
		state = model.TypeStatePriming
	case model.OperationDeprime:
		state = model.TypeStateDepriming
	default:
		return
	}
	def.TypeState = state
	def.StateChangeResult = model.ResultNoError
	for id, el := range def.Elements {
		el.State = state
		el.Message = ""
		def.Elements[id] = el
	}
}

// CompleteDefinition applies the terminal state of a converged operation.
func CompleteDefinition(def *model.Definition, kind model.OperationKind) {
	var state model.TypeState
	switch kind {
	case model.OperationPrime:
		state = model.TypeStatePrimed
	case model.OperationDeprime:
		state = model.TypeStateCommissioned
	default:
		return
	}
	def.TypeState = state
	def.StateChangeResult = model.ResultNoError
	for id, el := range def.Elements {
		el.State = state
		def.Elements[id] = el
	}
}

// BeginInstance moves an instance into the transient state for kind and clears
// the previous result. Migrate is begun with BeginMigrate.
func BeginInstance(inst *model.Instance, kind model.OperationKind) {
	inst.StateChangeResult = model.ResultNoError
	switch kind {
	case model.OperationDeploy:
		inst.DeployState = model.DeployStateDeploying
		setElements(inst, model.DeployStateDeploying, "")
	case model.OperationUndeploy:
		inst.DeployState = model.DeployStateUndeploying
		setElements(inst, model.DeployStateUndeploying, "")
	case model.OperationUpdate:
		inst.DeployState = model.DeployStateUpdating
		setElements(inst, model.DeployStateUpdating, "")
	case model.OperationLock:
		inst.LockState = model.LockStateLocking
		setElements(inst, "", model.LockStateLocking)
	case model.OperationUnlock:
		inst.LockState = model.LockStateUnlocking
		setElements(inst, "", model.LockStateUnlocking)
	}
}

// CompleteInstance applies the terminal state of a converged operation. A
// deployed instance starts out LOCKED; an undeployed one has no lock state.
func CompleteInstance(inst *model.Instance, kind model.OperationKind) {
	inst.StateChangeResult = model.ResultNoError
	switch kind {
	case model.OperationDeploy:
		inst.DeployState = model.DeployStateDeployed
		inst.LockState = model.LockStateLocked
		setElements(inst, model.DeployStateDeployed, model.LockStateLocked)
	case model.OperationUpdate:
		inst.DeployState = model.DeployStateDeployed
		setElements(inst, model.DeployStateDeployed, "")
	case model.OperationUndeploy:
		inst.DeployState = model.DeployStateUndeployed
		inst.LockState = model.LockStateNone
		setElements(inst, model.DeployStateUndeployed, model.LockStateNone)
	case model.OperationLock:
		inst.LockState = model.LockStateLocked
		setElements(inst, "", model.LockStateLocked)
	case model.OperationUnlock:
		inst.LockState = model.LockStateUnlocked
		setElements(inst, "", model.LockStateUnlocked)
	case model.OperationMigrate:
		completeMigrate(inst)
	}
}

func setElements(inst *model.Instance, deploy model.DeployState, lock model.LockState) {
	for id, el := range inst.Elements {
		if deploy != "" {
			el.DeployState = deploy
		}
		if lock != "" {
			el.LockState = lock
		}
		inst.Elements[id] = el
	}
}

// MigrationPlan describes how the elements of an instance map onto a target
// definition.
type MigrationPlan struct {
	Kept    []string
	Added   []model.ElementInstance
	Removed []string
}

// PlanMigration compares the instance elements with the target definition by
// element definition id. newID is called once per added element.
func PlanMigration(inst *model.Instance, target *model.Definition, newID func() string) MigrationPlan {
	var plan MigrationPlan
	covered := make(map[string]bool)
	for id, el := range inst.Elements {
		if _, ok := target.Elements[el.DefinitionID]; ok {
			plan.Kept = append(plan.Kept, id)
			covered[el.DefinitionID] = true
		} else {
			plan.Removed = append(plan.Removed, id)
		}
	}
	for defID, defEl := range target.Elements {
		if covered[defID] {
			continue
		}
		plan.Added = append(plan.Added, model.ElementInstance{
			ElementID:     newID(),
			DefinitionID:  defID,
			ParticipantID: defEl.ParticipantID,
			Properties:    defEl.Properties.DeepCopy(),
			DeployState:   model.DeployStateUndeployed,
			LockState:     model.LockStateNone,
		})
	}
	return plan
}

// BeginMigrate applies a migration plan: kept elements go MIGRATING, added
// elements DEPLOYING and removed elements UNDEPLOYING, all under one
// operation.
func BeginMigrate(inst *model.Instance, targetID string, phase int, plan MigrationPlan) {
	inst.StateChangeResult = model.ResultNoError
	inst.DeployState = model.DeployStateMigrating
	inst.CompositionTargetID = targetID
	inst.Phase = phase
	for _, id := range plan.Kept {
		el := inst.Elements[id]
		el.DeployState = model.DeployStateMigrating
		inst.Elements[id] = el
	}
	for _, id := range plan.Removed {
		el := inst.Elements[id]
		el.DeployState = model.DeployStateUndeploying
		inst.Elements[id] = el
	}
	for _, el := range plan.Added {
		if _, exists := inst.Elements[el.ElementID]; exists {
			continue
		}
		el.DeployState = model.DeployStateDeploying
		inst.Elements[el.ElementID] = el
	}
}

// completeMigrate drops the removed elements and switches the instance to its
// target composition.
func completeMigrate(inst *model.Instance) {
	for id, el := range inst.Elements {
		if el.DeployState == model.DeployStateUndeploying || el.DeployState == model.DeployStateUndeployed {
			delete(inst.Elements, id)
			continue
		}
		el.DeployState = model.DeployStateDeployed
		if el.LockState == model.LockStateNone || el.LockState == "" {
			el.LockState = model.LockStateLocked
		}
		inst.Elements[id] = el
	}
	if inst.CompositionTargetID != "" {
		inst.CompositionID = inst.CompositionTargetID
	}
	inst.CompositionTargetID = ""
	inst.DeployState = model.DeployStateDeployed
	if inst.LockState == model.LockStateNone || inst.LockState == "" {
		inst.LockState = model.LockStateLocked
	}
}

// MigrationElements splits the instance elements of an in-flight migration
// into the elements to keep or deploy and the elements to undeploy.
func MigrationElements(inst *model.Instance) (keep, removed []model.ElementInstance) {
	for _, el := range inst.Elements {
		if el.DeployState == model.DeployStateUndeploying || el.DeployState == model.DeployStateUndeployed {
			removed = append(removed, el)
		} else {
			keep = append(keep, el)
		}
	}
	return keep, removed
}
