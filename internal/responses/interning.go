package responses

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"surveycore/internal/schema"
)

// NumericResponseFieldValues is an immutable set of profile answers, compared
// by content so identical sets across respondents can be shared. It is safe
// for concurrent use.
type NumericResponseFieldValues struct {
	values map[*schema.Descriptor]int
	hash   uint64
}

// NewNumericResponseFieldValues copies values into a new set and hashes it.
func NewNumericResponseFieldValues(values map[*schema.Descriptor]int) *NumericResponseFieldValues {
	cp := make(map[*schema.Descriptor]int, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &NumericResponseFieldValues{values: cp, hash: hashValues(cp)}
}

// Get returns the answer for field.
func (n *NumericResponseFieldValues) Get(field *schema.Descriptor) (int, bool) {
	v, ok := n.values[field]
	return v, ok
}

func (n *NumericResponseFieldValues) Len() int { return len(n.values) }

// Fields returns the answered fields ordered by name.
func (n *NumericResponseFieldValues) Fields() []*schema.Descriptor {
	out := make([]*schema.Descriptor, 0, len(n.values))
	for f := range n.values {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Equal compares both sets entry by entry, ignoring order.
func (n *NumericResponseFieldValues) Equal(other *NumericResponseFieldValues) bool {
	if n == other {
		return true
	}
	if n == nil || other == nil || len(n.values) != len(other.values) {
		return false
	}
	if n.hash != other.hash {
		return false
	}
	for k, v := range n.values {
		ov, ok := other.values[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Hash returns an order-independent hash of the entries.
func (n *NumericResponseFieldValues) Hash() uint64 { return n.hash }

func hashValues(values map[*schema.Descriptor]int) uint64 {
	var sum uint64
	var buf [8]byte
	d := xxhash.New()
	for f, v := range values {
		d.Reset()
		_, _ = d.WriteString(f.Name())
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
		_, _ = d.Write(buf[:])
		sum += d.Sum64()
	}
	return sum
}

// Interner returns a canonical instance for each distinct set of answers.
// It is not safe for concurrent use.
type Interner struct {
	buckets map[uint64][]*NumericResponseFieldValues
	hits    int
}

// NewInterner returns an empty interner.
func NewInterner() *Interner {
	return &Interner{buckets: make(map[uint64][]*NumericResponseFieldValues)}
}

// Intern returns the previously seen set equal to v, or registers v.
func (in *Interner) Intern(v *NumericResponseFieldValues) *NumericResponseFieldValues {
	h := v.Hash()
	for _, existing := range in.buckets[h] {
		if existing.Equal(v) {
			in.hits++
			return existing
		}
	}
	in.buckets[h] = append(in.buckets[h], v)
	return v
}

// Distinct returns the number of distinct sets held.
func (in *Interner) Distinct() int {
	n := 0
	for _, b := range in.buckets {
		n += len(b)
	}
	return n
}

// Hits returns how many Intern calls returned an existing set.
func (in *Interner) Hits() int { return in.hits }
