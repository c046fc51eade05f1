package addressing

import (
	"fmt"
	"math"
	"sort"

	"surveycore/pkg/domain"
)

// DefaultMaxCartesianProductSize bounds target expansion unless configured otherwise.
const DefaultMaxCartesianProductSize = 500_000

// DataTarget is one entity type and the sorted instance ids requested for it.
type DataTarget interface {
	EntityType() domain.EntityType
	SortedInstanceIDs() []int
}

type dataTarget struct {
	entityType domain.EntityType
	ids        []int
}

// NewDataTarget builds a target from ids in any order. Duplicate ids collapse.
func NewDataTarget(t domain.EntityType, ids ...int) DataTarget {
	return dataTarget{entityType: t, ids: sortedUnique(ids)}
}

func (d dataTarget) EntityType() domain.EntityType { return d.entityType }
func (d dataTarget) SortedInstanceIDs() []int      { return d.ids }

// TargetInstances targets a set of resolved entity instances.
type TargetInstances struct {
	Type      domain.EntityType
	Instances []domain.EntityInstance
}

// EntityType implements DataTarget.
func (t TargetInstances) EntityType() domain.EntityType { return t.Type }

// SortedInstanceIDs implements DataTarget.
func (t TargetInstances) SortedInstanceIDs() []int {
	ids := make([]int, len(t.Instances))
	for i, inst := range t.Instances {
		ids[i] = inst.ID
	}
	return sortedUnique(ids)
}

func sortedUnique(ids []int) []int {
	out := append([]int(nil), ids...)
	sort.Ints(out)
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

// Expander computes filter scenarios from data targets under a size cap.
type Expander struct {
	max int
}

// NewExpander returns an expander that rejects products larger than max.
// A non-positive max selects DefaultMaxCartesianProductSize.
func NewExpander(max int) Expander {
	if max <= 0 {
		max = DefaultMaxCartesianProductSize
	}
	return Expander{max: max}
}

// Max returns the configured cap.
func (e Expander) Max() int {
	if e.max <= 0 {
		return DefaultMaxCartesianProductSize
	}
	return e.max
}

// ProductSize returns the number of scenarios the targets expand to, or an
// error if it exceeds the cap or a target is invalid.
func (e Expander) ProductSize(targets []DataTarget) (int, error) {
	limit := e.Max()
	size := 1
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		et := t.EntityType()
		if et.IsProfile {
			return 0, domain.Fatal("expand targets", fmt.Errorf("%w: %s", domain.ErrProfileTarget, et.Identifier))
		}
		if _, dup := seen[et.Key()]; dup {
			return 0, domain.Fatal("expand targets", fmt.Errorf("entity type %s targeted more than once", et.Identifier))
		}
		seen[et.Key()] = struct{}{}
		n := len(t.SortedInstanceIDs())
		if n == 0 {
			size = 0
			continue
		}
		if size > 0 && size > math.MaxInt/n {
			return 0, domain.Fatal("expand targets", fmt.Errorf("%w: overflow (max %d)", domain.ErrCartesianProductTooLarge, limit))
		}
		size *= n
	}
	if size > limit {
		return 0, domain.Fatal("expand targets", fmt.Errorf("%w: %d > %d", domain.ErrCartesianProductTooLarge, size, limit))
	}
	return size, nil
}

// GetEntityValueCombination returns one combination per element of the
// Cartesian product of the targets' instance ids. The product is checked
// against the cap before anything is allocated; no partial result is returned.
func (e Expander) GetEntityValueCombination(targets []DataTarget) ([]EntityValueCombination, error) {
	size, err := e.ProductSize(targets)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []EntityValueCombination{}, nil
	}

	ordered := append([]DataTarget(nil), targets...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return domain.CompareEntityTypes(ordered[i].EntityType(), ordered[j].EntityType()) < 0
	})
	types := make([]domain.EntityType, len(ordered))
	idLists := make([][]int, len(ordered))
	for i, t := range ordered {
		types[i] = t.EntityType()
		idLists[i] = t.SortedInstanceIDs()
	}

	out := make([]EntityValueCombination, 0, size)
	cursor := make([]int, len(ordered))
	ids := make([]int, len(ordered))
	for {
		values := make([]EntityValue, len(ordered))
		for i := range ordered {
			id := idLists[i][cursor[i]]
			values[i] = EntityValue{Type: types[i], Value: id}
			ids[i] = id
		}
		out = append(out, EntityValueCombination{values: values, ids: FromIDsOrderedByEntityType(ids...)})

		i := len(cursor) - 1
		for ; i >= 0; i-- {
			cursor[i]++
			if cursor[i] < len(idLists[i]) {
				break
			}
			cursor[i] = 0
		}
		if i < 0 {
			return out, nil
		}
	}
}

// GetEntityValueCombination expands targets with the default cap.
func GetEntityValueCombination(targets []DataTarget) ([]EntityValueCombination, error) {
	return NewExpander(DefaultMaxCartesianProductSize).GetEntityValueCombination(targets)
}
