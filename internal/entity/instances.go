// Package entity holds the entity catalog: entity types, their instances per
// subset, named entity sets and the loader that builds sets from stored
// configuration.
package entity

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"surveycore/pkg/domain"
)

// InstanceReader is the read side of an instance catalog.
type InstanceReader interface {
	GetInstancesOf(typeIdentifier, subsetID string) []domain.EntityInstance
	GetInstancesAnySubset(typeIdentifier string) []domain.EntityInstance
	TryGetInstance(typeIdentifier, subsetID string, id int) (domain.EntityInstance, bool)
}

type instancesByID map[int]domain.EntityInstance

// InstanceRepository stores instances per entity type, either for every
// subset or for the subsets an instance lists.
type InstanceRepository struct {
	mu       sync.RWMutex
	all      map[string]instancesByID
	bySubset map[string]map[string]instancesByID
}

// NewInstanceRepository returns an empty repository.
func NewInstanceRepository() *InstanceRepository {
	return &InstanceRepository{
		all:      make(map[string]instancesByID),
		bySubset: make(map[string]map[string]instancesByID),
	}
}

// Add registers inst for typeIdentifier. An instance with no subsets applies
// to all subsets; otherwise it is stored once per listed subset. An existing
// instance with the same id in the same bucket is replaced.
func (r *InstanceRepository) Add(typeIdentifier string, inst domain.EntityInstance) error {
	if strings.TrimSpace(inst.Name) == "" {
		return domain.Fatal("entity.AddInstance", fmt.Errorf("%w: %s id %d", domain.ErrEmptyInstanceName, typeIdentifier, inst.ID))
	}
	typeKey := domain.FoldIdentifier(typeIdentifier)
	inst = inst.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst.IsAllSubsets() {
		bucket(r.all, typeKey)[inst.ID] = inst
		return nil
	}
	for _, s := range inst.Subsets {
		sk := domain.FoldIdentifier(s)
		types, ok := r.bySubset[sk]
		if !ok {
			types = make(map[string]instancesByID)
			r.bySubset[sk] = types
		}
		bucket(types, typeKey)[inst.ID] = inst
	}
	return nil
}

// Remove deletes inst from the buckets Add would have routed it to.
func (r *InstanceRepository) Remove(typeIdentifier string, inst domain.EntityInstance) {
	typeKey := domain.FoldIdentifier(typeIdentifier)
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst.IsAllSubsets() {
		delete(r.all[typeKey], inst.ID)
		return
	}
	for _, s := range inst.Subsets {
		delete(r.bySubset[domain.FoldIdentifier(s)][typeKey], inst.ID)
	}
}

// GetInstancesOf returns the instances of a type visible in a subset: the
// subset's own instances plus the all-subset ones. A subset-specific
// instance shadows an all-subset instance with the same id. Results are
// ordered by id.
func (r *InstanceRepository) GetInstancesOf(typeIdentifier, subsetID string) []domain.EntityInstance {
	typeKey := domain.FoldIdentifier(typeIdentifier)
	r.mu.RLock()
	specific := r.bySubset[domain.FoldIdentifier(subsetID)][typeKey]
	shared := r.all[typeKey]
	out := make([]domain.EntityInstance, 0, len(specific)+len(shared))
	for _, inst := range specific {
		out = append(out, inst)
	}
	for id, inst := range shared {
		if _, shadowed := specific[id]; !shadowed {
			out = append(out, inst)
		}
	}
	r.mu.RUnlock()
	sortInstances(out)
	return out
}

// GetInstancesAnySubset returns every instance of a type across all subsets,
// de-duplicated by exact equivalence. The same id can appear more than once
// when subsets disagree on its name or display metadata.
func (r *InstanceRepository) GetInstancesAnySubset(typeIdentifier string) []domain.EntityInstance {
	typeKey := domain.FoldIdentifier(typeIdentifier)
	r.mu.RLock()
	var candidates []domain.EntityInstance
	for _, inst := range r.all[typeKey] {
		candidates = append(candidates, inst)
	}
	for _, types := range r.bySubset {
		for _, inst := range types[typeKey] {
			candidates = append(candidates, inst)
		}
	}
	r.mu.RUnlock()
	sortInstances(candidates)
	out := candidates[:0:0]
	for _, c := range candidates {
		dup := false
		for i := len(out) - 1; i >= 0 && out[i].ID == c.ID; i-- {
			if out[i].ExactlyEquivalent(c) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// TryGetInstance looks in the subset's bucket first, then in the all-subset
// bucket.
func (r *InstanceRepository) TryGetInstance(typeIdentifier, subsetID string, id int) (domain.EntityInstance, bool) {
	typeKey := domain.FoldIdentifier(typeIdentifier)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if inst, ok := r.bySubset[domain.FoldIdentifier(subsetID)][typeKey][id]; ok {
		return inst, true
	}
	inst, ok := r.all[typeKey][id]
	return inst, ok
}

func bucket(m map[string]instancesByID, typeKey string) instancesByID {
	b, ok := m[typeKey]
	if !ok {
		b = make(instancesByID)
		m[typeKey] = b
	}
	return b
}

func sortInstances(in []domain.EntityInstance) {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].ID != in[j].ID {
			return in[i].ID < in[j].ID
		}
		return in[i].Name < in[j].Name
	})
}

// TemporaryInstanceRepository overlays extra instances on a base catalog
// without mutating it. Overlay instances shadow base instances with the
// same id.
type TemporaryInstanceRepository struct {
	base    InstanceReader
	overlay *InstanceRepository
}

// NewTemporaryInstanceRepository wraps base.
func NewTemporaryInstanceRepository(base InstanceReader) *TemporaryInstanceRepository {
	return &TemporaryInstanceRepository{base: base, overlay: NewInstanceRepository()}
}

// Add registers inst in the overlay only.
func (t *TemporaryInstanceRepository) Add(typeIdentifier string, inst domain.EntityInstance) error {
	return t.overlay.Add(typeIdentifier, inst)
}

func (t *TemporaryInstanceRepository) GetInstancesOf(typeIdentifier, subsetID string) []domain.EntityInstance {
	return mergeShadowed(t.overlay.GetInstancesOf(typeIdentifier, subsetID), t.base.GetInstancesOf(typeIdentifier, subsetID))
}

func (t *TemporaryInstanceRepository) GetInstancesAnySubset(typeIdentifier string) []domain.EntityInstance {
	return mergeShadowed(t.overlay.GetInstancesAnySubset(typeIdentifier), t.base.GetInstancesAnySubset(typeIdentifier))
}

func (t *TemporaryInstanceRepository) TryGetInstance(typeIdentifier, subsetID string, id int) (domain.EntityInstance, bool) {
	if inst, ok := t.overlay.TryGetInstance(typeIdentifier, subsetID, id); ok {
		return inst, true
	}
	return t.base.TryGetInstance(typeIdentifier, subsetID, id)
}

func mergeShadowed(top, bottom []domain.EntityInstance) []domain.EntityInstance {
	if len(top) == 0 {
		return bottom
	}
	seen := make(map[int]struct{}, len(top))
	out := make([]domain.EntityInstance, 0, len(top)+len(bottom))
	for _, inst := range top {
		seen[inst.ID] = struct{}{}
		out = append(out, inst)
	}
	for _, inst := range bottom {
		if _, ok := seen[inst.ID]; !ok {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out
}
