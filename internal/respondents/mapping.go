package respondents

import (
	"sort"
	"strconv"
	"strings"

	"surveycore/pkg/domain"
)

// QuotaCellMapper maps one quota field's answer onto the key part of a
// quota cell dimension.
type QuotaCellMapper interface {
	QuotaField() string
	CellKey(value int) (string, bool)
}

// CategoryMapper maps answers onto named categories. With no categories
// the answer itself is the key.
type CategoryMapper struct {
	Field      string         `json:"field" yaml:"field"`
	Categories map[int]string `json:"categories,omitempty" yaml:"categories,omitempty"`
}

func (m CategoryMapper) QuotaField() string { return m.Field }

func (m CategoryMapper) CellKey(value int) (string, bool) {
	if m.Categories == nil {
		return strconv.Itoa(value), true
	}
	key, ok := m.Categories[value]
	return key, ok
}

// Band is an inclusive answer range.
type Band struct {
	Min int    `json:"min" yaml:"min"`
	Max int    `json:"max" yaml:"max"`
	Key string `json:"key" yaml:"key"`
}

// BandMapper maps numeric answers onto the first band containing them.
type BandMapper struct {
	Field string `json:"field" yaml:"field"`
	Bands []Band `json:"bands" yaml:"bands"`
}

func (m BandMapper) QuotaField() string { return m.Field }

func (m BandMapper) CellKey(value int) (string, bool) {
	for _, b := range m.Bands {
		if value >= b.Min && value <= b.Max {
			return b.Key, true
		}
	}
	return "", false
}

// QuotaFieldProvider supplies the ordered quota cell mappers of a subset.
type QuotaFieldProvider interface {
	MappersForSubset(subsetID string) []QuotaCellMapper
}

// QuotaMappers is a QuotaFieldProvider keyed by subset id. The empty key
// holds the mappers of subsets without their own entry.
type QuotaMappers map[string][]QuotaCellMapper

func (q QuotaMappers) MappersForSubset(subsetID string) []QuotaCellMapper {
	for id, mappers := range q {
		if id != "" && strings.EqualFold(id, subsetID) {
			return mappers
		}
	}
	return q[""]
}

func quotaFields(mappers []QuotaCellMapper) []string {
	seen := make(map[string]struct{}, len(mappers))
	out := make([]string, 0, len(mappers))
	for _, m := range mappers {
		if _, ok := seen[m.QuotaField()]; ok {
			continue
		}
		seen[m.QuotaField()] = struct{}{}
		out = append(out, m.QuotaField())
	}
	return out
}

// ReferenceWeightings decides whether a newly discovered cell may be
// weighted.
type ReferenceWeightings interface {
	HasReferenceWeightingFor(cell *domain.QuotaCell) bool
}

// ReferenceCellKeys admits the cells whose Key is in the set.
type ReferenceCellKeys map[string]struct{}

// NewReferenceCellKeys builds a set of admitted cell keys.
func NewReferenceCellKeys(keys ...string) ReferenceCellKeys {
	out := make(ReferenceCellKeys, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func (r ReferenceCellKeys) HasReferenceWeightingFor(cell *domain.QuotaCell) bool {
	_, ok := r[cell.Key()]
	return ok
}

// Keys returns the admitted keys in sorted order.
func (r ReferenceCellKeys) Keys() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AllocationReason explains why a respondent landed in the unweighted cell.
type AllocationReason struct {
	Field   string
	Value   *int
	Message string
}

func (a AllocationReason) String() string {
	if a.Value == nil {
		return a.Field + ": " + a.Message
	}
	return a.Field + "=" + strconv.Itoa(*a.Value) + ": " + a.Message
}
