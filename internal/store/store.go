package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"conductor/internal/api"
	"conductor/internal/model"
)

// Bucket names. Each entity kind lives in its own bucket keyed by id.
const (
	BucketDefinitions  = "definitions"
	BucketInstances    = "instances"
	BucketParticipants = "participants"
)

// ErrConflict is returned by a Save whose revision does not match the
// persisted revision.
var ErrConflict = errors.New("revision conflict")

// ConflictError describes a lost compare-and-swap.
type ConflictError struct {
	Bucket   string
	Key      string
	Expected int64
	Actual   int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s/%s: expected revision %d, found %d", e.Bucket, e.Key, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Backend is the raw key/value layer under a Store. Put must run check
// against the current value (nil when absent) and the write atomically.
type Backend interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, value []byte, check func(current []byte) error) error
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket string) ([][]byte, error)
	Close() error
}

// Repository is the persistence contract of the runtime. Every Save is a
// compare-and-swap on Revision: the caller passes the entity as it was
// loaded (Revision 0 for a new one) and on success the entity's Revision is
// incremented in place.
type Repository interface {
	LoadDefinition(ctx context.Context, id string) (*model.Definition, error)
	SaveDefinition(ctx context.Context, def *model.Definition) error
	DeleteDefinition(ctx context.Context, id string) error
	ListDefinitions(ctx context.Context) ([]*model.Definition, error)

	LoadInstance(ctx context.Context, id string) (*model.Instance, error)
	SaveInstance(ctx context.Context, inst *model.Instance) error
	DeleteInstance(ctx context.Context, id string) error
	ListInstances(ctx context.Context) ([]*model.Instance, error)
	ListInstancesByComposition(ctx context.Context, compositionID string) ([]*model.Instance, error)

	LoadParticipant(ctx context.Context, id string) (*model.Participant, error)
	SaveParticipant(ctx context.Context, p *model.Participant) error
	ListParticipants(ctx context.Context) ([]*model.Participant, error)

	Close() error
}

// Store implements Repository on top of a Backend using JSON records.
type Store struct {
	backend Backend
}

// New wraps a backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

var _ Repository = (*Store)(nil)

type revisioned struct {
	Revision int64 `json:"revision"`
}

func save(ctx context.Context, b Backend, bucket, key string, rev *int64, v interface{}) error {
	expected := *rev
	*rev = expected + 1
	data, err := json.Marshal(v)
	if err != nil {
		*rev = expected
		return fmt.Errorf("encoding %s/%s: %w", bucket, key, err)
	}

	err = b.Put(ctx, bucket, key, data, func(current []byte) error {
		var actual int64
		if current != nil {
			var r revisioned
			if err := json.Unmarshal(current, &r); err != nil {
				return fmt.Errorf("decoding %s/%s: %w", bucket, key, err)
			}
			actual = r.Revision
		}
		if actual != expected {
			return ConflictError{Bucket: bucket, Key: key, Expected: expected, Actual: actual}
		}
		return nil
	})
	if err != nil {
		*rev = expected
		return err
	}
	return nil
}

func load(ctx context.Context, b Backend, bucket, resource, key string, out interface{}) error {
	data, err := b.Get(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("loading %s %s: %w", resource, key, err)
	}
	if data == nil {
		return api.NewNotFoundError(resource, key)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", resource, key, err)
	}
	return nil
}

func list[T any](ctx context.Context, b Backend, bucket string) ([]*T, error) {
	raw, err := b.List(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", bucket, err)
	}
	out := make([]*T, 0, len(raw))
	for _, data := range raw {
		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decoding %s record: %w", bucket, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// LoadDefinition implements Repository.
func (s *Store) LoadDefinition(ctx context.Context, id string) (*model.Definition, error) {
	def := &model.Definition{}
	if err := load(ctx, s.backend, BucketDefinitions, "composition", id, def); err != nil {
		return nil, err
	}
	return def, nil
}

// SaveDefinition implements Repository.
func (s *Store) SaveDefinition(ctx context.Context, def *model.Definition) error {
	return save(ctx, s.backend, BucketDefinitions, def.CompositionID, &def.Revision, def)
}

// DeleteDefinition implements Repository.
func (s *Store) DeleteDefinition(ctx context.Context, id string) error {
	return s.backend.Delete(ctx, BucketDefinitions, id)
}

// ListDefinitions implements Repository. Results are ordered by name and
// version.
func (s *Store) ListDefinitions(ctx context.Context) ([]*model.Definition, error) {
	defs, err := list[model.Definition](ctx, s.backend, BucketDefinitions)
	if err != nil {
		return nil, err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key() < defs[j].Key() })
	return defs, nil
}

// LoadInstance implements Repository.
func (s *Store) LoadInstance(ctx context.Context, id string) (*model.Instance, error) {
	inst := &model.Instance{}
	if err := load(ctx, s.backend, BucketInstances, "instance", id, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// SaveInstance implements Repository.
func (s *Store) SaveInstance(ctx context.Context, inst *model.Instance) error {
	return save(ctx, s.backend, BucketInstances, inst.InstanceID, &inst.Revision, inst)
}

// DeleteInstance implements Repository.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	return s.backend.Delete(ctx, BucketInstances, id)
}

// ListInstances implements Repository. Results are ordered by name.
func (s *Store) ListInstances(ctx context.Context) ([]*model.Instance, error) {
	insts, err := list[model.Instance](ctx, s.backend, BucketInstances)
	if err != nil {
		return nil, err
	}
	sort.Slice(insts, func(i, j int) bool {
		if insts[i].Name != insts[j].Name {
			return insts[i].Name < insts[j].Name
		}
		return insts[i].InstanceID < insts[j].InstanceID
	})
	return insts, nil
}

// ListInstancesByComposition implements Repository. An instance migrating
// towards compositionID counts as referencing it.
func (s *Store) ListInstancesByComposition(ctx context.Context, compositionID string) ([]*model.Instance, error) {
	all, err := s.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Instance
	for _, inst := range all {
		if inst.CompositionID == compositionID || inst.CompositionTargetID == compositionID {
			out = append(out, inst)
		}
	}
	return out, nil
}

// LoadParticipant implements Repository.
func (s *Store) LoadParticipant(ctx context.Context, id string) (*model.Participant, error) {
	p := &model.Participant{}
	if err := load(ctx, s.backend, BucketParticipants, "participant", id, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveParticipant implements Repository.
func (s *Store) SaveParticipant(ctx context.Context, p *model.Participant) error {
	return save(ctx, s.backend, BucketParticipants, p.ParticipantID, &p.Revision, p)
}

// ListParticipants implements Repository.
func (s *Store) ListParticipants(ctx context.Context) ([]*model.Participant, error) {
	ps, err := list[model.Participant](ctx, s.backend, BucketParticipants)
	if err != nil {
		return nil, err
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].ParticipantID < ps[j].ParticipantID })
	return ps, nil
}

// Close implements Repository.
func (s *Store) Close() error {
	return s.backend.Close()
}
