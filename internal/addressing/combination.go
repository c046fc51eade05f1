package addressing

import (
	"fmt"
	"strings"

	"surveycore/pkg/domain"
)

// InstanceLookup resolves entity instances for membership validation.
type InstanceLookup interface {
	TryGetInstance(typeIdentifier, subsetID string, id int) (domain.EntityInstance, bool)
}

// EntityValueCombination is a set of entity values, at most one per type,
// together with the key derived from them.
type EntityValueCombination struct {
	values []EntityValue
	ids    EntityIds
}

// NewEntityValueCombination builds a combination. Supplying the same entity
// type twice is an error.
func NewEntityValueCombination(values ...EntityValue) (EntityValueCombination, error) {
	sorted := append([]EntityValue(nil), values...)
	sortValues(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Type.Equal(sorted[i].Type) {
			return EntityValueCombination{}, fmt.Errorf("entity type %s supplied more than once", sorted[i].Type)
		}
	}
	return newSortedCombination(sorted), nil
}

func newSortedCombination(sorted []EntityValue) EntityValueCombination {
	ids := make([]int, len(sorted))
	for i, v := range sorted {
		ids[i] = v.Value
	}
	return EntityValueCombination{values: sorted, ids: FromIDsOrderedByEntityType(ids...)}
}

// Values returns the combination's values in canonical order.
func (c EntityValueCombination) Values() []EntityValue {
	return append([]EntityValue(nil), c.values...)
}

// EntityIds returns the derived addressing key.
func (c EntityValueCombination) EntityIds() EntityIds { return c.ids }

// Len returns the number of entity values.
func (c EntityValueCombination) Len() int { return len(c.values) }

// Types returns the entity types present, in canonical order.
func (c EntityValueCombination) Types() []domain.EntityType {
	out := make([]domain.EntityType, len(c.values))
	for i, v := range c.values {
		out[i] = v.Type
	}
	return out
}

// ValueFor returns the instance id recorded for an entity type.
func (c EntityValueCombination) ValueFor(t domain.EntityType) (int, bool) {
	for _, v := range c.values {
		if v.Type.Equal(t) {
			return v.Value, true
		}
	}
	return 0, false
}

// Restrict projects the combination onto a field's entity types. It reports
// false when a requested type has no value.
func (c EntityValueCombination) Restrict(types []domain.EntityType) (EntityValueCombination, bool) {
	out := make([]EntityValue, 0, len(types))
	for _, t := range types {
		if t.IsProfile {
			continue
		}
		v, ok := c.ValueFor(t)
		if !ok {
			return EntityValueCombination{}, false
		}
		out = append(out, EntityValue{Type: t, Value: v})
	}
	sortValues(out)
	return newSortedCombination(out), true
}

// Validate checks that every value resolves to a known instance in the subset.
// Missing values are reported together in one recoverable error.
func (c EntityValueCombination) Validate(lookup InstanceLookup, subsetID string) error {
	var missing []string
	for _, v := range c.values {
		if _, ok := lookup.TryGetInstance(v.Type.Identifier, subsetID, v.Value); !ok {
			missing = append(missing, fmt.Sprintf("%s=%d", v.Type.Identifier, v.Value))
		}
	}
	if len(missing) > 0 {
		return domain.Recoverable("validate entity values",
			fmt.Errorf("instances not found in subset %q: %s", subsetID, strings.Join(missing, ", ")))
	}
	return nil
}

func (c EntityValueCombination) String() string {
	parts := make([]string, len(c.values))
	for i, v := range c.values {
		parts[i] = fmt.Sprintf("%s:%d", v.Type.Identifier, v.Value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
