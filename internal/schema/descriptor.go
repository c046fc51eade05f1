package schema

import (
	"sort"
	"sync"
	"sync/atomic"

	"surveycore/pkg/domain"
)

// Descriptor identifies a response field. Identity is the field name; the
// entity combination is fixed at creation while per-subset bindings are
// attached later.
type Descriptor struct {
	name                  string
	entityCombination     []domain.EntityType
	valueEntityIdentifier string
	itemNumber            int
	inMemoryIndex         int

	ids       *SequentialIDProvider
	loadOnce  sync.Once
	loadIndex atomic.Int64

	mu       sync.RWMutex
	bindings map[string]FieldDefinitionModel
}

// NewDescriptor creates a field whose dimensions are the given types. Profile
// types are dropped and the remainder is sorted into canonical order. The
// load-order index is drawn from ids on first use.
func NewDescriptor(name string, types []domain.EntityType, valueEntityIdentifier string, itemNumber, inMemoryIndex int, ids *SequentialIDProvider) *Descriptor {
	combo := make([]domain.EntityType, 0, len(types))
	for _, t := range types {
		if !t.IsProfile {
			combo = append(combo, t)
		}
	}
	domain.SortEntityTypes(combo)
	if ids == nil {
		ids = NewSequentialIDProvider()
	}
	d := &Descriptor{
		name:                  name,
		entityCombination:     combo,
		valueEntityIdentifier: valueEntityIdentifier,
		itemNumber:            itemNumber,
		inMemoryIndex:         inMemoryIndex,
		ids:                   ids,
		bindings:              make(map[string]FieldDefinitionModel),
	}
	d.loadIndex.Store(-1)
	return d
}

func (d *Descriptor) Name() string { return d.name }

func (d *Descriptor) String() string { return d.name }

// EntityCombination returns the field's dimensions in canonical order.
func (d *Descriptor) EntityCombination() []domain.EntityType {
	return append([]domain.EntityType(nil), d.entityCombination...)
}

// Dimensions returns the number of entity dimensions.
func (d *Descriptor) Dimensions() int { return len(d.entityCombination) }

// IsProfileField reports whether the field has no entity dimension.
func (d *Descriptor) IsProfileField() bool { return len(d.entityCombination) == 0 }

func (d *Descriptor) ValueEntityIdentifier() string { return d.valueEntityIdentifier }

func (d *Descriptor) ItemNumber() int { return d.itemNumber }

// InMemoryIndex is the creation order of the field within its manager.
func (d *Descriptor) InMemoryIndex() int { return d.inMemoryIndex }

// LoadOrderIndex returns the field's dense storage slot, assigning it on the
// first call. The index is process local and must never be persisted.
func (d *Descriptor) LoadOrderIndex() int {
	if v := d.loadIndex.Load(); v >= 0 {
		return int(v)
	}
	d.loadOnce.Do(func() {
		d.loadIndex.Store(int64(d.ids.Next()))
	})
	return int(d.loadIndex.Load())
}

// HasLoadOrderIndex reports whether a slot has been assigned yet.
func (d *Descriptor) HasLoadOrderIndex() bool { return d.loadIndex.Load() >= 0 }

// AddDataAccessModelForSubset attaches (or replaces) the binding for subsetID.
func (d *Descriptor) AddDataAccessModelForSubset(subsetID string, model FieldDefinitionModel) {
	d.mu.Lock()
	d.bindings[domain.FoldIdentifier(subsetID)] = model
	d.mu.Unlock()
}

// DataAccessModel returns the binding for subsetID.
func (d *Descriptor) DataAccessModel(subsetID string) (FieldDefinitionModel, bool) {
	d.mu.RLock()
	m, ok := d.bindings[domain.FoldIdentifier(subsetID)]
	d.mu.RUnlock()
	return m, ok
}

// IsAvailableForSubset reports whether a binding exists for subsetID.
func (d *Descriptor) IsAvailableForSubset(subsetID string) bool {
	_, ok := d.DataAccessModel(subsetID)
	return ok
}

// Subsets lists the subsets the field is bound in, sorted.
func (d *Descriptor) Subsets() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.bindings))
	for k := range d.bindings {
		out = append(out, k)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}

// IsEquivalentCombination reports whether types names the same dimensions as
// the field, in any order. Profile types are ignored.
func (d *Descriptor) IsEquivalentCombination(types []domain.EntityType) bool {
	filtered := make([]domain.EntityType, 0, len(types))
	for _, t := range types {
		if !t.IsProfile {
			filtered = append(filtered, t)
		}
	}
	return domain.EquivalentCombination(d.entityCombination, filtered)
}
