package entity

import (
	"fmt"
	"sync"

	"surveycore/pkg/domain"
)

// TypeRepository registers entity types by case-insensitive identifier. The
// profile type is always present.
type TypeRepository struct {
	mu    sync.RWMutex
	types map[string]domain.EntityType
}

// NewTypeRepository returns a repository holding the profile type and types.
func NewTypeRepository(types ...domain.EntityType) *TypeRepository {
	r := &TypeRepository{types: make(map[string]domain.EntityType, len(types)+1)}
	profile := domain.ProfileType()
	r.types[profile.Key()] = profile
	for _, t := range types {
		r.Add(t)
	}
	return r
}

// Add registers or replaces t.
func (r *TypeRepository) Add(t domain.EntityType) {
	r.mu.Lock()
	r.types[t.Key()] = t
	r.mu.Unlock()
}

// TryGet returns the type registered under identifier.
func (r *TypeRepository) TryGet(identifier string) (domain.EntityType, bool) {
	r.mu.RLock()
	t, ok := r.types[domain.FoldIdentifier(identifier)]
	r.mu.RUnlock()
	return t, ok
}

// Get returns the type registered under identifier or a recoverable
// ErrUnknownEntityType.
func (r *TypeRepository) Get(identifier string) (domain.EntityType, error) {
	if t, ok := r.TryGet(identifier); ok {
		return t, nil
	}
	return domain.EntityType{}, domain.Recoverable("entity.GetType", unknownType(identifier))
}

func unknownType(identifier string) error {
	return fmt.Errorf("%w %q", domain.ErrUnknownEntityType, identifier)
}

// Remove deletes a type. The profile type cannot be removed.
func (r *TypeRepository) Remove(identifier string) bool {
	key := domain.FoldIdentifier(identifier)
	if key == domain.ProfileIdentifier {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[key]; !ok {
		return false
	}
	delete(r.types, key)
	return true
}

// All returns every type in canonical order.
func (r *TypeRepository) All() []domain.EntityType {
	r.mu.RLock()
	out := make([]domain.EntityType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	r.mu.RUnlock()
	domain.SortEntityTypes(out)
	return out
}

// MemorySubsetRepository is an in-memory domain.SubsetRepository that keeps
// subsets in registration order.
type MemorySubsetRepository struct {
	mu      sync.RWMutex
	subsets []domain.Subset
}

// NewMemorySubsetRepository returns a repository holding subsets.
func NewMemorySubsetRepository(subsets ...domain.Subset) *MemorySubsetRepository {
	r := &MemorySubsetRepository{}
	for _, s := range subsets {
		r.Put(s)
	}
	return r
}

// Put adds s, replacing a subset with the same id.
func (r *MemorySubsetRepository) Put(s domain.Subset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subsets {
		if r.subsets[i].Matches(s.ID) {
			r.subsets[i] = s
			return
		}
	}
	r.subsets = append(r.subsets, s)
}

func (r *MemorySubsetRepository) All() []domain.Subset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Subset(nil), r.subsets...)
}

func (r *MemorySubsetRepository) TryGet(id string) (domain.Subset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subsets {
		if s.Matches(id) {
			return s, true
		}
	}
	return domain.Subset{}, false
}
