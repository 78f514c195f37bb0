package provider

import (
	"context"

	"conductor/internal/model"
	"conductor/pkg/logging"
)

// Recover brings persisted state back under supervision after the runtime
// restarted. Element ownership is rebuilt from the stored instances,
// definitions caught mid-prime or mid-deprime are sent again and every
// instance in a transient state goes through Restart. Per-entity failures
// are logged and do not stop the recovery.
func (p *Provider) Recover(ctx context.Context) error {
	defs, err := p.repo.ListDefinitions(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		var resume func(context.Context, string) (string, error)
		switch def.TypeState {
		case model.TypeStatePriming:
			resume = p.Prime
		case model.TypeStateDepriming:
			resume = p.Deprime
		default:
			continue
		}
		if _, err := resume(ctx, def.CompositionID); err != nil {
			logging.Warn("Provider", "Resuming %s of composition %s failed: %v", def.TypeState, def.CompositionID, err)
		}
	}

	instances, err := p.repo.ListInstances(ctx)
	if err != nil {
		return err
	}
	restarted := 0
	for _, inst := range instances {
		p.assign(inst)
		if !inst.DeployState.IsTransient() && !inst.LockState.IsTransient() {
			continue
		}
		if _, err := p.Restart(ctx, inst.InstanceID); err != nil {
			logging.Warn("Provider", "Restarting instance %s failed: %v", inst.InstanceID, err)
			continue
		}
		restarted++
	}

	logging.Info("Provider", "Recovered %d definitions and %d instances, restarted %d", len(defs), len(instances), restarted)
	return nil
}
