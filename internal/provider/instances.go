package provider

import (
	"context"
	"sort"

	"conductor/internal/api"
	"conductor/internal/expectation"
	"conductor/internal/lifecycle"
	"conductor/internal/model"
	"conductor/internal/registry"
	"conductor/internal/template"
	"conductor/pkg/logging"
)

// InstanceRequest describes a new instance.
type InstanceRequest struct {
	Name string
	// Parameters are substituted into the element properties.
	Parameters map[string]interface{}
	// Properties overrides element properties, keyed by element definition
	// id, before parameters are substituted.
	Properties map[string]model.Properties
}

// CreateInstance instantiates a PRIMED definition. Every element gets a new
// id and starts UNDEPLOYED.
func (p *Provider) CreateInstance(ctx context.Context, compositionID string, req InstanceRequest) (*model.Instance, error) {
	if req.Name == "" {
		return nil, api.NewPreconditionFailedError("instance", compositionID, "name is required")
	}

	// Held so a concurrent deprime cannot slip in between check and save.
	unlock := p.lock(expectation.CompositionRef(compositionID))
	defer unlock()

	def, err := p.repo.LoadDefinition(ctx, compositionID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckInstantiate(def); err != nil {
		return nil, err
	}
	for defID := range req.Properties {
		if _, ok := def.Elements[defID]; !ok {
			return nil, api.NewNotFoundError("element definition", defID)
		}
	}

	inst := &model.Instance{
		InstanceID:        p.newID(),
		Name:              req.Name,
		CompositionID:     compositionID,
		Elements:          make(map[string]model.ElementInstance, len(def.Elements)),
		DeployState:       model.DeployStateUndeployed,
		LockState:         model.LockStateNone,
		StateChangeResult: model.ResultNoError,
		LastMessageTime:   p.clock.Now(),
	}
	for _, defID := range sortedKeys(def.Elements) {
		el := def.Elements[defID]
		props := model.Properties(template.MergeParameters(el.Properties, req.Properties[defID]))
		rendered, err := p.engine.Render(props, req.Parameters)
		if err != nil {
			return nil, api.NewPreconditionFailedError("instance", req.Name, err.Error())
		}
		id := p.newID()
		inst.Elements[id] = model.ElementInstance{
			ElementID:     id,
			DefinitionID:  defID,
			ParticipantID: el.ParticipantID,
			Properties:    rendered,
			DeployState:   model.DeployStateUndeployed,
			LockState:     model.LockStateNone,
		}
	}

	if err := p.repo.SaveInstance(ctx, inst); err != nil {
		return nil, err
	}
	p.assign(inst)

	logging.Info("Provider", "Created instance %s (%s) of %s", inst.InstanceID, inst.Name, def.Key())
	return inst, nil
}

// DeleteInstance removes an UNDEPLOYED instance.
func (p *Provider) DeleteInstance(ctx context.Context, id string) error {
	ref := expectation.InstanceRef(id)
	unlock := p.lock(ref)
	defer unlock()

	inst, err := p.repo.LoadInstance(ctx, id)
	if err != nil {
		return err
	}
	if err := lifecycle.CheckDeleteInstance(inst); err != nil {
		return err
	}
	if err := p.ensureIdle(ref); err != nil {
		return err
	}
	if err := p.repo.DeleteInstance(ctx, id); err != nil {
		return err
	}
	p.tracker.Forget(ref)
	for elementID := range inst.Elements {
		p.registry.Release(registry.ElementRef(id, elementID))
	}

	logging.Info("Provider", "Deleted instance %s", id)
	return nil
}

// GetInstance returns one instance.
func (p *Provider) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	return p.repo.LoadInstance(ctx, id)
}

// ListInstances returns the instances of a definition, or all instances when
// compositionID is empty, ordered by name.
func (p *Provider) ListInstances(ctx context.Context, compositionID string) ([]*model.Instance, error) {
	var (
		list []*model.Instance
		err  error
	)
	if compositionID == "" {
		list, err = p.repo.ListInstances(ctx)
	} else {
		list, err = p.repo.ListInstancesByComposition(ctx, compositionID)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].InstanceID < list[j].InstanceID
	})
	return list, nil
}

// Deploy deploys the elements of an instance. The definition must be PRIMED.
func (p *Provider) Deploy(ctx context.Context, id string) (string, error) {
	return p.simpleOp(ctx, id, model.OperationDeploy, func(inst *model.Instance) error {
		def, err := p.repo.LoadDefinition(ctx, inst.CompositionID)
		if err != nil {
			return err
		}
		return lifecycle.CheckInstantiate(def)
	})
}

// Undeploy undeploys the elements of an instance.
func (p *Provider) Undeploy(ctx context.Context, id string) (string, error) {
	return p.simpleOp(ctx, id, model.OperationUndeploy, nil)
}

// Lock locks a deployed instance.
func (p *Provider) Lock(ctx context.Context, id string) (string, error) {
	return p.simpleOp(ctx, id, model.OperationLock, nil)
}

// Unlock unlocks a deployed instance.
func (p *Provider) Unlock(ctx context.Context, id string) (string, error) {
	return p.simpleOp(ctx, id, model.OperationUnlock, nil)
}

// Update replaces element properties of a deployed instance, keyed by element
// id, and sends them to the owners.
func (p *Provider) Update(ctx context.Context, id string, properties map[string]model.Properties) (string, error) {
	opID, _, err := p.instanceOp(ctx, id, model.OperationUpdate,
		func(inst *model.Instance) error {
			return lifecycle.CheckUpdate(inst)
		},
		func(inst *model.Instance) error {
			for elementID, props := range properties {
				el, ok := inst.Elements[elementID]
				if !ok {
					return api.NewNotFoundError("element", elementID)
				}
				el.Properties = props.DeepCopy()
				inst.Elements[elementID] = el
			}
			lifecycle.BeginInstance(inst, model.OperationUpdate)
			return nil
		})
	return opID, err
}

// Migrate moves a deployed instance to another PRIMED definition. Elements
// missing from the target are undeployed and new ones deployed in the same
// operation.
func (p *Provider) Migrate(ctx context.Context, id, targetID string, phase int) (string, error) {
	target, err := p.repo.LoadDefinition(ctx, targetID)
	if err != nil {
		return "", err
	}
	opID, inst, err := p.instanceOp(ctx, id, model.OperationMigrate,
		func(inst *model.Instance) error {
			return lifecycle.CheckMigrate(inst, target)
		},
		func(inst *model.Instance) error {
			plan := lifecycle.PlanMigration(inst, target, p.newID)
			lifecycle.BeginMigrate(inst, targetID, phase, plan)
			return nil
		})
	if inst != nil {
		p.assign(inst)
	}
	return opID, err
}

// Restart resumes or reconciles an instance after the runtime restarted.
// Interrupted deploys and undeploys are sent again; every other transient
// state is taken as converged. The operation id is empty when nothing is
// sent.
func (p *Provider) Restart(ctx context.Context, id string) (string, error) {
	ref := expectation.InstanceRef(id)

	var kind model.OperationKind
	exp, err := func() (*expectation.Expectation, error) {
		unlock := p.lock(ref)
		defer unlock()

		inst, err := p.repo.LoadInstance(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := p.ensureIdle(ref); err != nil {
			return nil, err
		}

		action := lifecycle.HandleRestart(inst.DeployState)
		logging.Info("Provider", "Restarting instance %s in %s: %s", id, inst.DeployState, action)
		switch action {
		case lifecycle.RestartResumeDeploy:
			kind = model.OperationDeploy
		case lifecycle.RestartResumeUndeploy:
			kind = model.OperationUndeploy
		case lifecycle.RestartReconcile:
			lifecycle.Reconcile(inst)
			inst.LastMessageTime = p.clock.Now()
			return nil, p.repo.SaveInstance(ctx, inst)
		default:
			return nil, nil
		}

		lifecycle.BeginInstance(inst, kind)
		exp, err := p.publisher.PrepareInstance(inst, kind)
		if err != nil {
			return nil, err
		}
		return exp, p.closeOnError(exp, p.repo.SaveInstance(ctx, inst))
	}()
	if err != nil || exp == nil {
		return "", err
	}
	return exp.OperationID, p.supervisor.Send(ctx, exp)
}

func (p *Provider) simpleOp(ctx context.Context, id string, kind model.OperationKind, precondition func(*model.Instance) error) (string, error) {
	opID, _, err := p.instanceOp(ctx, id, kind,
		func(inst *model.Instance) error {
			if err := lifecycle.Check(kind, inst); err != nil {
				return err
			}
			if precondition != nil {
				return precondition(inst)
			}
			return nil
		},
		func(inst *model.Instance) error {
			lifecycle.BeginInstance(inst, kind)
			return nil
		})
	return opID, err
}

// instanceOp runs an instance operation: check the state, check that no
// other operation is open, begin, open the expectation and persist under the
// entity lock, then send outside it. The returned instance is the one
// persisted; it is nil when the operation was rejected.
func (p *Provider) instanceOp(ctx context.Context, id string, kind model.OperationKind, check, begin func(*model.Instance) error) (string, *model.Instance, error) {
	ref := expectation.InstanceRef(id)

	var inst *model.Instance
	exp, err := func() (*expectation.Expectation, error) {
		unlock := p.lock(ref)
		defer unlock()

		var err error
		if inst, err = p.repo.LoadInstance(ctx, id); err != nil {
			return nil, err
		}
		if err := check(inst); err != nil {
			return nil, err
		}
		if err := p.ensureIdle(ref); err != nil {
			return nil, err
		}
		if err := begin(inst); err != nil {
			return nil, err
		}
		inst.LastMessageTime = p.clock.Now()

		exp, err := p.publisher.PrepareInstance(inst, kind)
		if err != nil {
			return nil, err
		}
		return exp, p.closeOnError(exp, p.repo.SaveInstance(ctx, inst))
	}()
	if err != nil {
		return "", nil, err
	}

	logging.Info("Provider", "Accepted %s %s for instance %s", kind, exp.OperationID, id)
	return exp.OperationID, inst, p.supervisor.Send(ctx, exp)
}

func (p *Provider) assign(inst *model.Instance) {
	for elementID, el := range inst.Elements {
		if el.ParticipantID != "" {
			p.registry.Assign(el.ParticipantID, registry.ElementRef(inst.InstanceID, elementID))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
