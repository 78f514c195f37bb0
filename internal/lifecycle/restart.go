package lifecycle

import "conductor/internal/model"

// RestartAction is what a restart does for an instance found in a given
// deploy state.
type RestartAction string

const (
	RestartNone           RestartAction = "none"
	RestartResumeDeploy   RestartAction = "resume-deploy"
	RestartResumeUndeploy RestartAction = "resume-undeploy"
	RestartReconcile      RestartAction = "reconcile"
)

// HandleRestart derives the restart action from the deploy state alone.
func HandleRestart(state model.DeployState) RestartAction {
	switch state {
	case model.DeployStateDeploying:
		return RestartResumeDeploy
	case model.DeployStateUndeploying:
		return RestartResumeUndeploy
	case model.DeployStateUpdating, model.DeployStateDeployed, model.DeployStateMigrating:
		return RestartReconcile
	default:
		return RestartNone
	}
}

// Reconcile marks an instance converged after a restart: any transient deploy
// or lock state is replaced with its terminal value using the properties
// already recorded.
func Reconcile(inst *model.Instance) {
	switch inst.DeployState {
	case model.DeployStateUpdating:
		CompleteInstance(inst, model.OperationUpdate)
	case model.DeployStateMigrating:
		CompleteInstance(inst, model.OperationMigrate)
	}
	switch inst.LockState {
	case model.LockStateLocking:
		CompleteInstance(inst, model.OperationLock)
	case model.LockStateUnlocking:
		CompleteInstance(inst, model.OperationUnlock)
	}
	inst.StateChangeResult = model.ResultNoError
}
