package responses

import (
	"fmt"
	"sync"

	"surveycore/internal/addressing"
	"surveycore/internal/schema"
	"surveycore/pkg/domain"
)

type storeKind uint8

const (
	kindScalar storeKind = iota + 1
	kindMap
)

// FieldValues holds one respondent's answers for one field. The storage kind
// is fixed at construction: a single scalar for fields without entity
// dimensions, otherwise a map keyed by EntityIds. A non-zero scale divides
// values on read; writes are stored raw.
type FieldValues struct {
	kind       storeKind
	dimensions int
	scale      float64
	rounding   schema.RoundingType

	mu        sync.RWMutex
	scalar    int
	hasScalar bool
	values    map[addressing.EntityIds]int
}

// NewScalarValues returns a store for a field with no entity dimension.
func NewScalarValues() *FieldValues {
	return &FieldValues{kind: kindScalar}
}

// NewMapValues returns a store for a field varying by dimensions entity
// types.
func NewMapValues(dimensions int) *FieldValues {
	return &FieldValues{kind: kindMap, dimensions: dimensions, values: make(map[addressing.EntityIds]int)}
}

// NewFieldValues picks the store for field as bound in subsetID.
func NewFieldValues(field *schema.Descriptor, subsetID string) *FieldValues {
	var v *FieldValues
	if field.IsProfileField() {
		v = NewScalarValues()
	} else {
		v = NewMapValues(field.Dimensions())
	}
	if m, ok := field.DataAccessModel(subsetID); ok && m.IsScaled() {
		v = v.withScale(*m.ScaleFactor, m.RoundingType)
	}
	return v
}

func (v *FieldValues) withScale(factor float64, rounding schema.RoundingType) *FieldValues {
	v.scale = factor
	v.rounding = rounding
	if v.rounding == "" {
		v.rounding = schema.RoundingRound
	}
	return v
}

// IsScalar reports whether the store holds a single value.
func (v *FieldValues) IsScalar() bool { return v.kind == kindScalar }

// IsScaled reports whether reads are divided by a scale factor.
func (v *FieldValues) IsScaled() bool { return v.scale != 0 }

// Add stores value under key, replacing any previous value. A scalar store
// only accepts the default key and a map store only keys with one id per
// dimension.
func (v *FieldValues) Add(key addressing.EntityIds, value int) error {
	switch v.kind {
	case kindScalar:
		if !key.IsDefault() {
			return domain.Fatal("responses.Add", fmt.Errorf("%w: field has no entity dimension, got key %s", domain.ErrDimensionMismatch, key))
		}
		v.mu.Lock()
		v.scalar, v.hasScalar = value, true
		v.mu.Unlock()
	default:
		if key.Len() != v.dimensions {
			return domain.Fatal("responses.Add", fmt.Errorf("%w: field has %d dimensions, got key %s", domain.ErrDimensionMismatch, v.dimensions, key))
		}
		v.mu.Lock()
		v.values[key] = value
		v.mu.Unlock()
	}
	return nil
}

// Get returns the value stored under key, scaled when configured.
func (v *FieldValues) Get(key addressing.EntityIds) (int, bool) {
	raw, ok := v.raw(key)
	if !ok {
		return 0, false
	}
	return v.read(raw), true
}

func (v *FieldValues) raw(key addressing.EntityIds) (int, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.kind == kindScalar {
		if !key.IsDefault() || !v.hasScalar {
			return 0, false
		}
		return v.scalar, true
	}
	val, ok := v.values[key]
	return val, ok
}

func (v *FieldValues) read(raw int) int {
	if v.scale == 0 {
		return raw
	}
	return int(v.rounding.Apply(float64(raw) / v.scale))
}

// Len returns the number of stored values.
func (v *FieldValues) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.kind == kindScalar {
		if v.hasScalar {
			return 1
		}
		return 0
	}
	return len(v.values)
}

// WriteWhere copies the values whose key satisfies keep into a buffer rented
// from pool, sized for the whole store. The returned slice aliases that
// buffer; the caller hands it back with pool.Return when done. A nil keep
// selects everything.
func (v *FieldValues) WriteWhere(pool BufferPool, keep func(addressing.EntityIds) bool) []KeyedValue {
	if pool == nil {
		pool = allocPool{}
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.kind == kindScalar {
		buf := pool.Rent(1)
		if v.hasScalar && (keep == nil || keep(addressing.EntityIds{})) {
			buf = append(buf, KeyedValue{Value: v.read(v.scalar)})
		}
		return buf
	}
	buf := pool.Rent(len(v.values))
	for k, raw := range v.values {
		if keep == nil || keep(k) {
			buf = append(buf, KeyedValue{Key: k, Value: v.read(raw)})
		}
	}
	return buf
}
