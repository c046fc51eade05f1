// Package responses stores survey answers per respondent, addressed by field
// and entity combination.
package responses

import (
	"sync"
	"sync/atomic"
	"time"

	"surveycore/internal/addressing"
	"surveycore/internal/schema"
)

// slotVector is an append-only array of per-field stores indexed by load
// order. A published vector is never resized; growth publishes a new one
// holding the same store pointers.
type slotVector struct {
	slots []atomic.Pointer[FieldValues]
}

// ProfileResponseEntity is one respondent and its answers.
type ProfileResponseEntity struct {
	id        int
	timestamp time.Time
	surveyID  int

	mu      sync.Mutex
	vector  atomic.Pointer[slotVector]
	profile atomic.Pointer[NumericResponseFieldValues]
}

// NewProfileResponseEntity returns a respondent with no answers.
func NewProfileResponseEntity(id int, timestamp time.Time, surveyID int) *ProfileResponseEntity {
	return &ProfileResponseEntity{id: id, timestamp: timestamp, surveyID: surveyID}
}

func (p *ProfileResponseEntity) ID() int              { return p.id }
func (p *ProfileResponseEntity) Timestamp() time.Time { return p.timestamp }
func (p *ProfileResponseEntity) SurveyID() int        { return p.surveyID }

// AddFieldValue stores value for field under key, creating the field's store
// on first write. The store kind and scaling come from field's binding in
// subsetID.
func (p *ProfileResponseEntity) AddFieldValue(field *schema.Descriptor, key addressing.EntityIds, value int, subsetID string) error {
	return p.valuesFor(field, subsetID).Add(key, value)
}

// GetIntegerFieldValue returns the value of field under key. Absence of the
// field or of the key is reported through ok, never as an error.
func (p *ProfileResponseEntity) GetIntegerFieldValue(field *schema.Descriptor, key addressing.EntityIds) (value int, ok bool) {
	if fv := p.existing(field); fv != nil {
		if v, ok := fv.Get(key); ok {
			return v, true
		}
	}
	if key.IsDefault() {
		if pv := p.profile.Load(); pv != nil {
			return pv.Get(field)
		}
	}
	return 0, false
}

// GetIntegerFieldValues returns the values of field whose key satisfies keep,
// written into a buffer rented from pool. The caller returns the slice to
// pool when done. A field with no answers yields nil.
func (p *ProfileResponseEntity) GetIntegerFieldValues(field *schema.Descriptor, pool BufferPool, keep func(addressing.EntityIds) bool) []KeyedValue {
	if fv := p.existing(field); fv != nil {
		return fv.WriteWhere(pool, keep)
	}
	if pv := p.profile.Load(); pv != nil && field.IsProfileField() {
		if v, ok := pv.Get(field); ok && (keep == nil || keep(addressing.EntityIds{})) {
			if pool == nil {
				pool = allocPool{}
			}
			return append(pool.Rent(1), KeyedValue{Value: v})
		}
	}
	return nil
}

// FieldValues returns the store for field, if any value was written.
func (p *ProfileResponseEntity) FieldValues(field *schema.Descriptor) (*FieldValues, bool) {
	fv := p.existing(field)
	return fv, fv != nil
}

// SetProfileValues attaches a possibly shared set of profile answers. Values
// written with AddFieldValue take precedence.
func (p *ProfileResponseEntity) SetProfileValues(values *NumericResponseFieldValues) {
	p.profile.Store(values)
}

// ProfileValues returns the attached profile answers.
func (p *ProfileResponseEntity) ProfileValues() *NumericResponseFieldValues {
	return p.profile.Load()
}

// SlotCapacity returns the current length of the slot vector.
func (p *ProfileResponseEntity) SlotCapacity() int {
	if v := p.vector.Load(); v != nil {
		return len(v.slots)
	}
	return 0
}

func (p *ProfileResponseEntity) existing(field *schema.Descriptor) *FieldValues {
	if !field.HasLoadOrderIndex() {
		return nil
	}
	idx := field.LoadOrderIndex()
	v := p.vector.Load()
	if v == nil || idx >= len(v.slots) {
		return nil
	}
	return v.slots[idx].Load()
}

func (p *ProfileResponseEntity) valuesFor(field *schema.Descriptor, subsetID string) *FieldValues {
	idx := field.LoadOrderIndex()
	if v := p.vector.Load(); v != nil && idx < len(v.slots) {
		if fv := v.slots[idx].Load(); fv != nil {
			return fv
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.vector.Load()
	if v == nil || idx >= len(v.slots) {
		v = p.grow(v, idx+1)
	}
	if fv := v.slots[idx].Load(); fv != nil {
		return fv
	}
	fv := NewFieldValues(field, subsetID)
	v.slots[idx].Store(fv)
	return fv
}

// grow publishes a vector of at least need slots. Callers hold p.mu.
func (p *ProfileResponseEntity) grow(old *slotVector, need int) *slotVector {
	extra := need / 10
	if extra < 4 {
		extra = 4
	}
	next := &slotVector{slots: make([]atomic.Pointer[FieldValues], need+extra)}
	if old != nil {
		for i := range old.slots {
			next.slots[i].Store(old.slots[i].Load())
		}
	}
	p.vector.Store(next)
	return next
}
