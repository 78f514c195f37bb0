package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"conductor/internal/api"
	"conductor/internal/model"
	"conductor/internal/store"
	"conductor/pkg/logging"
)

// Registry is the authoritative record of known participants, their last
// heartbeat and the elements they own. All participant writes go through it.
type Registry struct {
	repo  store.Repository
	clock clock.PassiveClock
	locks *store.EntityLocks

	mu           sync.RWMutex
	participants map[string]*model.Participant
	owned        map[string]sets.Set[string]
	owners       map[string]string
}

// New creates an empty registry. Call Load to populate it from the
// repository.
func New(repo store.Repository, clk clock.PassiveClock) *Registry {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Registry{
		repo:         repo,
		clock:        clk,
		locks:        store.NewEntityLocks(),
		participants: make(map[string]*model.Participant),
		owned:        make(map[string]sets.Set[string]),
		owners:       make(map[string]string),
	}
}

// Load reads every persisted participant into memory.
func (r *Registry) Load(ctx context.Context) error {
	list, err := r.repo.ListParticipants(ctx)
	if err != nil {
		return fmt.Errorf("loading participants: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range list {
		r.participants[p.ParticipantID] = p
	}
	logging.Info("Registry", "Loaded %d participants", len(list))
	return nil
}

// update applies fn to a copy of the participant under its entity lock and
// persists the result. A participant missing from the cache is created from
// zero. fn returns false when there is nothing to write.
func (r *Registry) update(ctx context.Context, id string, fn func(p *model.Participant) bool) (*model.Participant, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.RLock()
	cur, ok := r.participants[id]
	r.mu.RUnlock()

	var next *model.Participant
	if ok {
		next = cur.DeepCopy()
	} else {
		next = &model.Participant{ParticipantID: id, State: model.ParticipantUnknown}
	}
	if !fn(next) {
		return next, nil
	}

	err := r.repo.SaveParticipant(ctx, next)
	if errors.Is(err, store.ErrConflict) {
		// Another process wrote this participant; adopt its revision and
		// apply again.
		fresh, lerr := r.repo.LoadParticipant(ctx, id)
		if lerr != nil {
			return nil, fmt.Errorf("reloading participant %s: %w", id, lerr)
		}
		next = fresh
		fn(next)
		err = r.repo.SaveParticipant(ctx, next)
	}
	if err != nil {
		return nil, fmt.Errorf("saving participant %s: %w", id, err)
	}

	r.mu.Lock()
	r.participants[id] = next
	r.mu.Unlock()
	return next.DeepCopy(), nil
}

// Register marks the participant ACTIVE. Registering revives a TERMINATED
// participant.
func (r *Registry) Register(ctx context.Context, id string, supported []string) (*model.Participant, error) {
	now := r.clock.Now()
	p, err := r.update(ctx, id, func(p *model.Participant) bool {
		p.State = model.ParticipantActive
		p.LastHeartbeat = now
		p.Stale = false
		if len(supported) > 0 {
			p.SupportedElementTypes = append([]string(nil), supported...)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	logging.Info("Registry", "Participant %s registered (element types %v)", id, p.SupportedElementTypes)
	return p, nil
}

// Deregister marks the participant TERMINATED. This is the only way a
// participant becomes TERMINATED; heartbeat silence never does it.
func (r *Registry) Deregister(ctx context.Context, id string) (*model.Participant, error) {
	r.mu.RLock()
	_, known := r.participants[id]
	r.mu.RUnlock()
	if !known {
		return nil, api.NewNotFoundError("participant", id)
	}

	p, err := r.update(ctx, id, func(p *model.Participant) bool {
		if p.State == model.ParticipantTerminated {
			return false
		}
		p.State = model.ParticipantTerminated
		return true
	})
	if err != nil {
		return nil, err
	}
	logging.Info("Registry", "Participant %s deregistered", id)
	return p, nil
}

// Heartbeat records a status report. An unknown participant is registered
// implicitly. The reported state is applied unless the participant has been
// terminated, which only a new registration undoes.
func (r *Registry) Heartbeat(ctx context.Context, id string, state model.ParticipantState, supported []string) (*model.Participant, error) {
	now := r.clock.Now()
	return r.update(ctx, id, func(p *model.Participant) bool {
		if p.State == model.ParticipantUnknown && state == "" {
			state = model.ParticipantActive
		}
		if state != "" && p.State != model.ParticipantTerminated {
			p.State = state
		}
		if len(supported) > 0 {
			p.SupportedElementTypes = append([]string(nil), supported...)
		}
		p.LastHeartbeat = now
		p.Stale = false
		return true
	})
}

// SetState is the operator override of a participant's state.
func (r *Registry) SetState(ctx context.Context, id string, state model.ParticipantState) (*model.Participant, error) {
	r.mu.RLock()
	_, known := r.participants[id]
	r.mu.RUnlock()
	if !known {
		return nil, api.NewNotFoundError("participant", id)
	}
	return r.update(ctx, id, func(p *model.Participant) bool {
		if p.State == state {
			return false
		}
		p.State = state
		return true
	})
}

// Get returns a copy of the participant.
func (r *Registry) Get(id string) (*model.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return nil, api.NewNotFoundError("participant", id)
	}
	return p.DeepCopy(), nil
}

// IsActive reports whether the participant is known and ACTIVE.
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	return ok && p.State == model.ParticipantActive
}

// List returns copies of all participants ordered by id.
func (r *Registry) List() []*model.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// FlagStale marks ACTIVE participants whose last heartbeat is older than
// grace and returns their ids. The flag is diagnostic only: the participant
// stays ACTIVE and no expectation is failed because of it.
func (r *Registry) FlagStale(ctx context.Context, grace time.Duration) []string {
	now := r.clock.Now()

	r.mu.RLock()
	var stale []string
	for id, p := range r.participants {
		if p.State == model.ParticipantActive && now.Sub(p.LastHeartbeat) > grace {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(stale)

	for _, id := range stale {
		_, err := r.update(ctx, id, func(p *model.Participant) bool {
			if p.Stale {
				return false
			}
			p.Stale = true
			logging.Warn("Registry", "Participant %s silent since %s", id, p.LastHeartbeat.Format(time.RFC3339))
			return true
		})
		if err != nil {
			logging.Error("Registry", err, "Failed to flag participant %s stale", id)
		}
	}
	return stale
}

// SelectParticipant picks the first ACTIVE participant, by id, that supports
// elementType.
func (r *Registry) SelectParticipant(elementType string) (string, bool) {
	for _, p := range r.List() {
		if p.State == model.ParticipantActive && p.Supports(elementType) {
			return p.ParticipantID, true
		}
	}
	return "", false
}

// Assign records that participantID owns the element identified by ref,
// replacing any previous owner.
func (r *Registry) Assign(participantID, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.owners[ref]; ok {
		r.owned[prev].Delete(ref)
	}
	if r.owned[participantID] == nil {
		r.owned[participantID] = sets.New[string]()
	}
	r.owned[participantID].Insert(ref)
	r.owners[ref] = participantID
}

// Release forgets the owner of ref.
func (r *Registry) Release(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.owners[ref]; ok {
		r.owned[prev].Delete(ref)
		delete(r.owners, ref)
	}
}

// Owned returns the element refs owned by participantID in sorted order.
func (r *Registry) Owned(participantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.owned[participantID]; ok {
		return sets.List(s)
	}
	return nil
}

// Owner returns the participant owning ref.
func (r *Registry) Owner(ref string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owners[ref]
	return id, ok
}

// ElementRef builds the ownership key of an element within an entity.
func ElementRef(entityID, elementID string) string {
	return entityID + "/" + elementID
}
