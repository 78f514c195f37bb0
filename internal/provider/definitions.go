package provider

import (
	"context"
	"sort"

	"conductor/internal/api"
	"conductor/internal/expectation"
	"conductor/internal/lifecycle"
	"conductor/internal/model"
	"conductor/internal/template"
	"conductor/pkg/logging"
)

// CreateDefinition commissions a composition template. A definition with the
// same name and version must not exist.
func (p *Provider) CreateDefinition(ctx context.Context, tpl *template.Composition) (*model.Definition, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	p.creating.Lock()
	defer p.creating.Unlock()

	existing, err := p.findDefinition(ctx, tpl.Key())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, api.NewConflictError("composition", tpl.Key(),
			"already commissioned as "+existing.CompositionID)
	}

	elements, err := p.buildElements(tpl)
	if err != nil {
		return nil, err
	}
	def := &model.Definition{
		CompositionID:     p.newID(),
		Name:              tpl.Name,
		Version:           tpl.Version,
		Elements:          elements,
		TypeState:         model.TypeStateCommissioned,
		StateChangeResult: model.ResultNoError,
		LastMessageTime:   p.clock.Now(),
	}
	if err := p.repo.SaveDefinition(ctx, def); err != nil {
		return nil, err
	}

	logging.Info("Provider", "Commissioned %s as %s with %d elements", tpl.Key(), def.CompositionID, len(elements))
	return def, nil
}

// UpdateDefinition replaces the elements of a COMMISSIONED definition that no
// instance references.
func (p *Provider) UpdateDefinition(ctx context.Context, id string, tpl *template.Composition) (*model.Definition, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	p.creating.Lock()
	defer p.creating.Unlock()

	unlock := p.lock(expectation.CompositionRef(id))
	defer unlock()

	def, err := p.repo.LoadDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.checkMutable(ctx, def); err != nil {
		return nil, err
	}
	if tpl.Key() != def.Key() {
		clash, err := p.findDefinition(ctx, tpl.Key())
		if err != nil {
			return nil, err
		}
		if clash != nil {
			return nil, api.NewConflictError("composition", tpl.Key(),
				"already commissioned as "+clash.CompositionID)
		}
	}

	elements, err := p.buildElements(tpl)
	if err != nil {
		return nil, err
	}
	def.Name = tpl.Name
	def.Version = tpl.Version
	def.Elements = elements
	def.LastMessageTime = p.clock.Now()
	if err := p.repo.SaveDefinition(ctx, def); err != nil {
		return nil, err
	}

	logging.Info("Provider", "Updated composition %s to %s", id, tpl.Key())
	return def, nil
}

// Commission creates the definition for tpl, or updates the one with the same
// name and version.
func (p *Provider) Commission(ctx context.Context, tpl *template.Composition) (*model.Definition, error) {
	existing, err := p.findDefinition(ctx, tpl.Key())
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return p.CreateDefinition(ctx, tpl)
	}
	return p.UpdateDefinition(ctx, existing.CompositionID, tpl)
}

// DeleteDefinition removes a COMMISSIONED definition that no instance
// references.
func (p *Provider) DeleteDefinition(ctx context.Context, id string) error {
	ref := expectation.CompositionRef(id)
	unlock := p.lock(ref)
	defer unlock()

	def, err := p.repo.LoadDefinition(ctx, id)
	if err != nil {
		return err
	}
	if err := p.checkMutable(ctx, def); err != nil {
		return err
	}
	if err := p.ensureIdle(ref); err != nil {
		return err
	}
	if err := p.repo.DeleteDefinition(ctx, id); err != nil {
		return err
	}
	p.tracker.Forget(ref)

	logging.Info("Provider", "Deleted composition %s (%s)", id, def.Key())
	return nil
}

func (p *Provider) checkMutable(ctx context.Context, def *model.Definition) error {
	instances, err := p.repo.ListInstancesByComposition(ctx, def.CompositionID)
	if err != nil {
		return err
	}
	return lifecycle.CheckMutable(def, len(instances))
}

// GetDefinition returns one definition.
func (p *Provider) GetDefinition(ctx context.Context, id string) (*model.Definition, error) {
	return p.repo.LoadDefinition(ctx, id)
}

// ListDefinitions returns every definition ordered by name and version.
func (p *Provider) ListDefinitions(ctx context.Context) ([]*model.Definition, error) {
	defs, err := p.repo.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key() < defs[j].Key() })
	return defs, nil
}

// FindDefinition returns the definition with the given name and version.
func (p *Provider) FindDefinition(ctx context.Context, name, version string) (*model.Definition, error) {
	def, err := p.findDefinition(ctx, name+":"+version)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, api.NewNotFoundError("composition", name+":"+version)
	}
	return def, nil
}

func (p *Provider) findDefinition(ctx context.Context, key string) (*model.Definition, error) {
	defs, err := p.repo.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if def.Key() == key {
			return def, nil
		}
	}
	return nil, nil
}

// buildElements resolves the owner of every template element. An explicit
// participantId wins; otherwise the first active participant supporting the
// element type is chosen.
func (p *Provider) buildElements(tpl *template.Composition) (map[string]model.ElementDefinitionState, error) {
	out := make(map[string]model.ElementDefinitionState, len(tpl.Elements))
	for _, el := range tpl.Elements {
		owner := el.ParticipantID
		if owner == "" {
			var ok bool
			if owner, ok = p.registry.SelectParticipant(el.Type); !ok {
				return nil, api.NewPreconditionFailedError("composition", tpl.Key(),
					"no active participant supports element type "+el.Type)
			}
		}
		out[el.ID] = model.ElementDefinitionState{
			ElementDefinitionID: el.ID,
			Type:                el.Type,
			ParticipantID:       owner,
			State:               model.TypeStateCommissioned,
			Properties:          el.Properties.DeepCopy(),
		}
	}
	return out, nil
}

// Prime starts priming the definition on its participants. The definition
// is PRIMING when Prime returns; the commands are sent in the background.
func (p *Provider) Prime(ctx context.Context, id string) (string, error) {
	return p.definitionOp(ctx, id, model.OperationPrime, func(def *model.Definition) error {
		return lifecycle.CheckPrime(def)
	})
}

// Deprime reverts a PRIMED definition without instances to COMMISSIONED.
func (p *Provider) Deprime(ctx context.Context, id string) (string, error) {
	return p.definitionOp(ctx, id, model.OperationDeprime, func(def *model.Definition) error {
		instances, err := p.repo.ListInstancesByComposition(ctx, id)
		if err != nil {
			return err
		}
		return lifecycle.CheckDeprime(def, len(instances))
	})
}

func (p *Provider) definitionOp(ctx context.Context, id string, kind model.OperationKind, check func(*model.Definition) error) (string, error) {
	ref := expectation.CompositionRef(id)

	exp, err := func() (*expectation.Expectation, error) {
		unlock := p.lock(ref)
		defer unlock()

		def, err := p.repo.LoadDefinition(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := p.ensureIdle(ref); err != nil {
			return nil, err
		}
		if err := check(def); err != nil {
			return nil, err
		}

		lifecycle.BeginDefinition(def, kind)
		exp, err := p.publisher.PrepareDefinition(def, kind)
		if err != nil {
			return nil, err
		}
		return exp, p.closeOnError(exp, p.repo.SaveDefinition(ctx, def))
	}()
	if err != nil {
		return "", err
	}

	logging.Info("Provider", "Accepted %s %s for composition %s", kind, exp.OperationID, id)
	if err := p.sendAsync(ctx, exp); err != nil {
		// The operation stays open; the next scan handles it like a timeout.
		if abortErr := p.tracker.Abort(ref); abortErr == nil {
			p.supervisor.Enqueue(ref)
		}
		return exp.OperationID, err
	}
	return exp.OperationID, nil
}
