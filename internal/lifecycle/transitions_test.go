package lifecycle

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/model"
)

func TestPrimingRoundTrip(t *testing.T) {
	def := testDefinition()
	def.TypeState = model.TypeStateCommissioned
	def.StateChangeResult = model.ResultTimeout

	BeginDefinition(def, model.OperationPrime)
	assert.Equal(t, model.TypeStatePriming, def.TypeState)
	assert.Equal(t, model.ResultNoError, def.StateChangeResult)

	CompleteDefinition(def, model.OperationPrime)
	assert.Equal(t, model.TypeStatePrimed, def.TypeState)
	for _, el := range def.Elements {
		assert.Equal(t, model.TypeStatePrimed, el.State)
	}

	BeginDefinition(def, model.OperationDeprime)
	CompleteDefinition(def, model.OperationDeprime)
	assert.Equal(t, model.TypeStateCommissioned, def.TypeState)
}

func TestDeployLeavesInstanceLocked(t *testing.T) {
	inst := testInstance()
	inst.DeployState = model.DeployStateUndeployed

	BeginInstance(inst, model.OperationDeploy)
	assert.Equal(t, model.DeployStateDeploying, inst.DeployState)

	CompleteInstance(inst, model.OperationDeploy)
	assert.Equal(t, model.DeployStateDeployed, inst.DeployState)
	assert.Equal(t, model.LockStateLocked, inst.LockState)

	BeginInstance(inst, model.OperationUnlock)
	CompleteInstance(inst, model.OperationUnlock)
	assert.Equal(t, model.LockStateUnlocked, inst.LockState)

	BeginInstance(inst, model.OperationUpdate)
	CompleteInstance(inst, model.OperationUpdate)
	assert.Equal(t, model.LockStateUnlocked, inst.LockState, "update keeps the lock state")

	BeginInstance(inst, model.OperationUndeploy)
	CompleteInstance(inst, model.OperationUndeploy)
	assert.Equal(t, model.DeployStateUndeployed, inst.DeployState)
	assert.Equal(t, model.LockStateNone, inst.LockState)
}

func TestMigration(t *testing.T) {
	inst := testInstance()
	CompleteInstance(inst, model.OperationDeploy)

	target := &model.Definition{
		CompositionID: "c-2",
		TypeState:     model.TypeStatePrimed,
		Elements: map[string]model.ElementDefinitionState{
			"el-a": {ElementDefinitionID: "el-a", ParticipantID: "p1"},
			"el-c": {ElementDefinitionID: "el-c", ParticipantID: "p3"},
		},
	}
	n := 0
	plan := PlanMigration(inst, target, func() string { n++; return fmt.Sprintf("new-%d", n) })
	assert.Equal(t, []string{"e1"}, plan.Kept)
	assert.Equal(t, []string{"e2"}, plan.Removed)
	require.Len(t, plan.Added, 1)
	assert.Equal(t, "p3", plan.Added[0].ParticipantID)

	BeginMigrate(inst, "c-2", 1, plan)
	assert.Equal(t, model.DeployStateMigrating, inst.DeployState)
	assert.Equal(t, model.DeployStateUndeploying, inst.Elements["e2"].DeployState)
	assert.Equal(t, model.DeployStateDeploying, inst.Elements["new-1"].DeployState)

	keep, removed := MigrationElements(inst)
	assert.Len(t, keep, 2)
	assert.Len(t, removed, 1)

	CompleteInstance(inst, model.OperationMigrate)
	assert.Equal(t, "c-2", inst.CompositionID)
	assert.Empty(t, inst.CompositionTargetID)
	assert.Equal(t, 1, inst.Phase)
	ids := make([]string, 0, len(inst.Elements))
	for id := range inst.Elements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"e1", "new-1"}, ids)
	assert.Equal(t, model.DeployStateDeployed, inst.Elements["new-1"].DeployState)
}

func TestHandleRestart(t *testing.T) {
	want := map[model.DeployState]RestartAction{
		model.DeployStateDeploying:   RestartResumeDeploy,
		model.DeployStateUndeploying: RestartResumeUndeploy,
		model.DeployStateUpdating:    RestartReconcile,
		model.DeployStateDeployed:    RestartReconcile,
		model.DeployStateMigrating:   RestartReconcile,
		model.DeployStateUndeployed:  RestartNone,
	}
	for _, s := range model.AllDeployStates {
		assert.Equal(t, want[s], HandleRestart(s), "state %s", s)
	}
}

func TestReconcileConverges(t *testing.T) {
	inst := testInstance()
	inst.DeployState = model.DeployStateUpdating
	inst.LockState = model.LockStateLocking
	inst.StateChangeResult = model.ResultTimeout

	Reconcile(inst)
	assert.Equal(t, model.DeployStateDeployed, inst.DeployState)
	assert.Equal(t, model.LockStateLocked, inst.LockState)
	assert.Equal(t, model.ResultNoError, inst.StateChangeResult)
}
