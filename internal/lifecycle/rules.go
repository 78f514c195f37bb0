package lifecycle

import (
	"conductor/internal/api"
	"conductor/internal/model"
)

const (
	resourceComposition = "composition"
	resourceInstance    = "instance"
)

// CheckMutable guards definition update and delete. The definition must be
// COMMISSIONED and no instance may reference it.
func CheckMutable(def *model.Definition, instanceCount int) error {
	if def.TypeState != model.TypeStateCommissioned {
		return api.NewPreconditionFailedError(resourceComposition, def.CompositionID,
			"definition is "+string(def.TypeState)+", not COMMISSIONED")
	}
	if instanceCount > 0 {
		return api.NewPreconditionFailedError(resourceComposition, def.CompositionID,
			"definition is referenced by instances")
	}
	return nil
}

// CheckPrime validates a prime request. Resubmitting while PRIMING resumes a
// failed or timed out attempt.
func CheckPrime(def *model.Definition) error {
	switch def.TypeState {
	case model.TypeStateCommissioned, model.TypeStatePriming:
		return nil
	case model.TypeStateDepriming:
		if def.StateChangeResult != model.ResultNoError {
			return nil
		}
	}
	return api.NewInvalidStateError(resourceComposition, def.CompositionID, "prime", string(def.TypeState))
}

// CheckDeprime validates a deprime request. A definition stuck in PRIMING
// after a failure may be deprimed to roll it back.
func CheckDeprime(def *model.Definition, instanceCount int) error {
	if instanceCount > 0 {
		return api.NewPreconditionFailedError(resourceComposition, def.CompositionID,
			"definition is referenced by instances")
	}
	switch def.TypeState {
	case model.TypeStatePrimed, model.TypeStateDepriming:
		return nil
	case model.TypeStatePriming:
		if def.StateChangeResult != model.ResultNoError {
			return nil
		}
	}
	return api.NewInvalidStateError(resourceComposition, def.CompositionID, "deprime", string(def.TypeState))
}

// CheckInstantiate requires the definition to be PRIMED.
func CheckInstantiate(def *model.Definition) error {
	if def.TypeState != model.TypeStatePrimed {
		return api.NewPreconditionFailedError(resourceComposition, def.CompositionID,
			"definition is "+string(def.TypeState)+", not PRIMED")
	}
	return nil
}

// CheckDeleteInstance only allows deleting undeployed instances.
func CheckDeleteInstance(inst *model.Instance) error {
	if inst.DeployState != model.DeployStateUndeployed {
		return api.NewInvalidStateError(resourceInstance, inst.InstanceID, "delete", string(inst.DeployState))
	}
	return nil
}

func invalid(inst *model.Instance, op string) error {
	return api.NewInvalidStateError(resourceInstance, inst.InstanceID, op,
		string(inst.DeployState)+"/"+string(inst.LockState))
}

// failedTransient reports whether the instance is parked in a transient
// deploy state because its last operation failed or timed out.
func failedTransient(inst *model.Instance) bool {
	return inst.DeployState.IsTransient() && inst.StateChangeResult != model.ResultNoError
}

// CheckDeploy validates a deploy request.
func CheckDeploy(inst *model.Instance) error {
	if inst.LockState.IsTransient() {
		return invalid(inst, "deploy")
	}
	switch {
	case inst.DeployState == model.DeployStateUndeployed,
		inst.DeployState == model.DeployStateDeploying,
		inst.DeployState == model.DeployStateUndeploying && failedTransient(inst):
		return nil
	}
	return invalid(inst, "deploy")
}

// CheckUndeploy validates an undeploy request. Any transient deploy state that
// failed may be rolled back by undeploying.
func CheckUndeploy(inst *model.Instance) error {
	if inst.LockState.IsTransient() {
		return invalid(inst, "undeploy")
	}
	switch {
	case inst.DeployState == model.DeployStateDeployed,
		inst.DeployState == model.DeployStateUndeploying,
		failedTransient(inst):
		return nil
	}
	return invalid(inst, "undeploy")
}

// CheckLock validates a lock request. Locking an already LOCKED instance is a
// conflict: there is nothing to do and no expectation is created.
func CheckLock(inst *model.Instance) error {
	if inst.DeployState != model.DeployStateDeployed {
		return invalid(inst, "lock")
	}
	switch inst.LockState {
	case model.LockStateLocked:
		return api.NewConflictError(resourceInstance, inst.InstanceID, "instance is already LOCKED")
	case model.LockStateUnlocked, model.LockStateLocking:
		return nil
	case model.LockStateUnlocking:
		if inst.StateChangeResult != model.ResultNoError {
			return nil
		}
	}
	return invalid(inst, "lock")
}

// CheckUnlock mirrors CheckLock.
func CheckUnlock(inst *model.Instance) error {
	if inst.DeployState != model.DeployStateDeployed {
		return invalid(inst, "unlock")
	}
	switch inst.LockState {
	case model.LockStateUnlocked:
		return api.NewConflictError(resourceInstance, inst.InstanceID, "instance is already UNLOCKED")
	case model.LockStateLocked, model.LockStateUnlocking:
		return nil
	case model.LockStateLocking:
		if inst.StateChangeResult != model.ResultNoError {
			return nil
		}
	}
	return invalid(inst, "unlock")
}

// CheckUpdate validates a property update.
func CheckUpdate(inst *model.Instance) error {
	if inst.LockState.IsTransient() {
		return invalid(inst, "update")
	}
	if inst.DeployState == model.DeployStateDeployed || inst.DeployState == model.DeployStateUpdating {
		return nil
	}
	return invalid(inst, "update")
}

// CheckMigrate validates a migrate request against the target definition.
func CheckMigrate(inst *model.Instance, target *model.Definition) error {
	if inst.LockState.IsTransient() {
		return invalid(inst, "migrate")
	}
	if inst.DeployState != model.DeployStateDeployed && inst.DeployState != model.DeployStateMigrating {
		return invalid(inst, "migrate")
	}
	if inst.DeployState == model.DeployStateMigrating && inst.CompositionTargetID != target.CompositionID {
		return api.NewConflictError(resourceInstance, inst.InstanceID,
			"instance is already migrating to "+inst.CompositionTargetID)
	}
	if target.CompositionID == inst.CompositionID {
		return api.NewPreconditionFailedError(resourceInstance, inst.InstanceID,
			"target composition equals current composition")
	}
	if target.TypeState != model.TypeStatePrimed {
		return api.NewPreconditionFailedError(resourceComposition, target.CompositionID,
			"migration target is "+string(target.TypeState)+", not PRIMED")
	}
	return nil
}

// Check dispatches to the guard for an instance operation kind. Migrate needs
// a target and is checked with CheckMigrate.
func Check(kind model.OperationKind, inst *model.Instance) error {
	switch kind {
	case model.OperationDeploy:
		return CheckDeploy(inst)
	case model.OperationUndeploy:
		return CheckUndeploy(inst)
	case model.OperationLock:
		return CheckLock(inst)
	case model.OperationUnlock:
		return CheckUnlock(inst)
	case model.OperationUpdate:
		return CheckUpdate(inst)
	}
	return invalid(inst, string(kind))
}
