// Package addressing builds the compact keys that address a value stored for
// an entity combination, and expands data targets into filter scenarios.
package addressing

import (
	"encoding/binary"
	"sort"
	"strconv"
	"strings"

	"surveycore/pkg/domain"
)

// EntityValue is one (entity type, instance id) pair.
type EntityValue struct {
	Type  domain.EntityType
	Value int
}

// EntityIds is the addressing key into a field's value map: the instance ids
// of a combination, ordered by canonical entity type order. The zero value
// is the default key used by fields with no entity dimension.
//
// Ids are packed into a string so the key is comparable and can be used
// directly as a map key.
type EntityIds struct {
	packed string
}

// DefaultEntityIds returns the empty key.
func DefaultEntityIds() EntityIds { return EntityIds{} }

// From builds a key from entity values supplied in any order. Values are
// sorted by canonical entity type order first.
func From(values ...EntityValue) EntityIds {
	switch len(values) {
	case 0:
		return EntityIds{}
	case 1:
		return FromIDsOrderedByEntityType(values[0].Value)
	}
	sorted := append([]EntityValue(nil), values...)
	sortValues(sorted)
	var buf [64]byte
	b := buf[:0]
	for _, v := range sorted {
		b = binary.AppendVarint(b, int64(v.Value))
	}
	return EntityIds{packed: string(b)}
}

// FromIDsOrderedByEntityType builds a key from ids that the caller has
// already ordered by canonical entity type order.
func FromIDsOrderedByEntityType(ids ...int) EntityIds {
	if len(ids) == 0 {
		return EntityIds{}
	}
	var buf [64]byte
	b := buf[:0]
	for _, id := range ids {
		b = binary.AppendVarint(b, int64(id))
	}
	return EntityIds{packed: string(b)}
}

// IsDefault reports whether the key is the empty default key.
func (k EntityIds) IsDefault() bool { return k.packed == "" }

// Len returns the number of ids in the key.
func (k EntityIds) Len() int {
	n := 0
	for i := 0; i < len(k.packed); i++ {
		if k.packed[i] < 0x80 {
			n++
		}
	}
	return n
}

// AppendIDs appends the key's ids to dst.
func (k EntityIds) AppendIDs(dst []int) []int {
	s := k.packed
	for len(s) > 0 {
		v, n := varint(s)
		if n <= 0 {
			break
		}
		dst = append(dst, int(v))
		s = s[n:]
	}
	return dst
}

// IDs returns the key's ids in canonical order.
func (k EntityIds) IDs() []int {
	if k.packed == "" {
		return nil
	}
	return k.AppendIDs(make([]int, 0, 4))
}

// At returns the id at position i.
func (k EntityIds) At(i int) (int, bool) {
	s := k.packed
	for pos := 0; len(s) > 0; pos++ {
		v, n := varint(s)
		if n <= 0 {
			return 0, false
		}
		if pos == i {
			return int(v), true
		}
		s = s[n:]
	}
	return 0, false
}

// Equal reports element-wise equality.
func (k EntityIds) Equal(other EntityIds) bool { return k.packed == other.packed }

func (k EntityIds) String() string {
	ids := k.IDs()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func varint(s string) (int64, int) {
	var ux uint64
	var shift uint
	for i := 0; i < len(s) && i < binary.MaxVarintLen64; i++ {
		c := s[i]
		if c < 0x80 {
			ux |= uint64(c) << shift
			x := int64(ux >> 1)
			if ux&1 != 0 {
				x = ^x
			}
			return x, i + 1
		}
		ux |= uint64(c&0x7f) << shift
		shift += 7
	}
	return 0, 0
}

func sortValues(values []EntityValue) {
	sort.SliceStable(values, func(i, j int) bool {
		return domain.CompareEntityTypes(values[i].Type, values[j].Type) < 0
	})
}
