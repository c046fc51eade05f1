// Package domain defines the entity model, subsets, quota cells and error
// taxonomy shared by the surveycore stores.
package domain

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// ProfileIdentifier is the identifier of the sentinel entity type used by
// fields that do not vary by any entity dimension.
const ProfileIdentifier = "profile"

// AllSetName is the canonical name of the generated "all instances" entity set.
const AllSetName = "All"

// FoldIdentifier returns the case-folded form of an identifier. All
// identifier comparisons and orderings go through this function.
func FoldIdentifier(identifier string) string {
	return cases.Fold().String(strings.TrimSpace(identifier))
}

// EntityType is a categorical survey dimension such as brand or region.
type EntityType struct {
	Identifier          string `json:"identifier" yaml:"identifier"`
	DisplayNameSingular string `json:"display_name_singular" yaml:"display_name_singular"`
	DisplayNamePlural   string `json:"display_name_plural" yaml:"display_name_plural"`
	IsProfile           bool   `json:"is_profile" yaml:"is_profile"`
	IsBrand             bool   `json:"is_brand" yaml:"is_brand"`
}

// ProfileType returns the sentinel "no dimension" entity type.
func ProfileType() EntityType {
	return EntityType{
		Identifier:          ProfileIdentifier,
		DisplayNameSingular: "Profile",
		DisplayNamePlural:   "Profiles",
		IsProfile:           true,
	}
}

// Key returns the folded identifier used for map lookups.
func (t EntityType) Key() string { return FoldIdentifier(t.Identifier) }

// Equal reports whether both types share an identifier, ignoring case.
func (t EntityType) Equal(other EntityType) bool { return t.Key() == other.Key() }

func (t EntityType) String() string { return t.Identifier }

// CompareEntityTypes orders entity types by folded identifier. This is the
// canonical order of every entity combination.
func CompareEntityTypes(a, b EntityType) int {
	return strings.Compare(a.Key(), b.Key())
}

// SortEntityTypes sorts types in place into canonical order.
func SortEntityTypes(types []EntityType) {
	sort.SliceStable(types, func(i, j int) bool { return CompareEntityTypes(types[i], types[j]) < 0 })
}

// EquivalentCombination reports whether two type lists contain the same types
// regardless of order.
func EquivalentCombination(a, b []EntityType) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, t := range a {
		counts[t.Key()]++
	}
	for _, t := range b {
		k := t.Key()
		if counts[k] == 0 {
			return false
		}
		counts[k]--
	}
	return true
}

// EntityInstance is one value of an entity type, e.g. "Tesco" for brand.
type EntityInstance struct {
	ID                int                  `json:"id" yaml:"id"`
	Name              string               `json:"name" yaml:"name"`
	Color             string               `json:"color,omitempty" yaml:"color,omitempty"`
	ImageURL          string               `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Subsets           []string             `json:"subsets,omitempty" yaml:"subsets,omitempty"`
	EnabledBySubset   map[string]bool      `json:"enabled_by_subset,omitempty" yaml:"enabled_by_subset,omitempty"`
	StartDateBySubset map[string]time.Time `json:"start_date_by_subset,omitempty" yaml:"start_date_by_subset,omitempty"`
}

// Equal compares instances by id and name.
func (i EntityInstance) Equal(other EntityInstance) bool {
	return i.ID == other.ID && i.Name == other.Name
}

// ExactlyEquivalent additionally compares display and subset metadata. The
// same numeric id can denote different display instances across subsets.
func (i EntityInstance) ExactlyEquivalent(other EntityInstance) bool {
	if !i.Equal(other) || i.Color != other.Color || i.ImageURL != other.ImageURL {
		return false
	}
	if !sameStrings(i.Subsets, other.Subsets) {
		return false
	}
	if len(i.EnabledBySubset) != len(other.EnabledBySubset) || len(i.StartDateBySubset) != len(other.StartDateBySubset) {
		return false
	}
	for k, v := range i.EnabledBySubset {
		if ov, ok := other.EnabledBySubset[k]; !ok || ov != v {
			return false
		}
	}
	for k, v := range i.StartDateBySubset {
		if ov, ok := other.StartDateBySubset[k]; !ok || !ov.Equal(v) {
			return false
		}
	}
	return true
}

// IsAllSubsets reports whether the instance applies to every subset.
func (i EntityInstance) IsAllSubsets() bool { return len(i.Subsets) == 0 }

// EnabledFor reports whether the instance is enabled in the subset. Instances
// without an explicit flag are enabled.
func (i EntityInstance) EnabledFor(subsetID string) bool {
	enabled, ok := lookupSubset(i.EnabledBySubset, subsetID)
	return !ok || enabled
}

// StartDateFor returns the per-subset start date if one is configured.
func (i EntityInstance) StartDateFor(subsetID string) (time.Time, bool) {
	return lookupSubset(i.StartDateBySubset, subsetID)
}

// lookupSubset finds the entry of subsetID, comparing folded identifiers.
func lookupSubset[V any](m map[string]V, subsetID string) (V, bool) {
	if v, ok := m[subsetID]; ok {
		return v, true
	}
	key := FoldIdentifier(subsetID)
	for k, v := range m {
		if FoldIdentifier(k) == key {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// Clone returns a deep copy of the instance.
func (i EntityInstance) Clone() EntityInstance {
	cp := i
	cp.Subsets = append([]string(nil), i.Subsets...)
	if i.EnabledBySubset != nil {
		cp.EnabledBySubset = make(map[string]bool, len(i.EnabledBySubset))
		for k, v := range i.EnabledBySubset {
			cp.EnabledBySubset[k] = v
		}
	}
	if i.StartDateBySubset != nil {
		cp.StartDateBySubset = make(map[string]time.Time, len(i.StartDateBySubset))
		for k, v := range i.StartDateBySubset {
			cp.StartDateBySubset[k] = v
		}
	}
	return cp
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// EntitySetAverageMapping links an entity set to a child set whose instances
// are averaged into one value.
type EntitySetAverageMapping struct {
	ID                  int  `json:"id" yaml:"id"`
	ParentEntitySetID   int  `json:"parent_entity_set_id" yaml:"parent_entity_set_id"`
	ChildEntitySetID    int  `json:"child_entity_set_id" yaml:"child_entity_set_id"`
	ExcludeMainInstance bool `json:"exclude_main_instance" yaml:"exclude_main_instance"`
	// ChildOrganisation scopes the child set; empty means every organisation.
	ChildOrganisation string `json:"child_organisation,omitempty" yaml:"child_organisation,omitempty"`
}

// EntitySet is a named, ordered list of instances of one entity type.
// Sets are treated as immutable once registered in a repository; use
// WithInstances to derive an updated copy.
type EntitySet struct {
	ID           *int
	Name         string
	Instances    []EntityInstance
	Organisation string
	IsSectorSet  bool
	IsDefault    bool
	IsFallback   bool
	Averages     []EntitySetAverageMapping
	MainInstance *EntityInstance
}

// NewAllEntitiesSet builds the generated organisation-agnostic "All" set.
func NewAllEntitiesSet(instances []EntityInstance) *EntitySet {
	set := &EntitySet{
		Name:        AllSetName,
		Instances:   append([]EntityInstance(nil), instances...),
		IsSectorSet: true,
		Averages:    []EntitySetAverageMapping{},
	}
	if len(instances) > 0 {
		main := instances[0]
		set.MainInstance = &main
	}
	return set
}

// HasID reports whether the set carries a concrete configuration id.
func (s *EntitySet) HasID() bool { return s.ID != nil }

// IDOrZero returns the configuration id or zero for generated sets.
func (s *EntitySet) IDOrZero() int {
	if s.ID == nil {
		return 0
	}
	return *s.ID
}

// IsGeneratedAll reports whether the set has the shape of a generated "All"
// set, ignoring its instances.
func (s *EntitySet) IsGeneratedAll() bool {
	return s.ID == nil &&
		s.Name == AllSetName &&
		s.Organisation == "" &&
		s.IsSectorSet &&
		!s.IsDefault &&
		!s.IsFallback
}

// SameIdentity reports whether two sets describe the same configured set.
// Sets with ids compare by id; generated sets compare by name and organisation.
func (s *EntitySet) SameIdentity(other *EntitySet) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	if s.ID != nil || other.ID != nil {
		return s.ID != nil && other.ID != nil && *s.ID == *other.ID
	}
	return strings.EqualFold(s.Name, other.Name) && strings.EqualFold(s.Organisation, other.Organisation)
}

// WithInstances returns a copy of the set holding the supplied instances.
func (s *EntitySet) WithInstances(instances []EntityInstance) *EntitySet {
	cp := *s
	cp.Instances = append([]EntityInstance(nil), instances...)
	if s.IsGeneratedAll() {
		cp.MainInstance = nil
		if len(instances) > 0 {
			main := instances[0]
			cp.MainInstance = &main
		}
	}
	return &cp
}

// VisibleTo reports whether the set may be shown to organisation: either the
// set is organisation agnostic or it belongs to organisation.
func (s *EntitySet) VisibleTo(organisation string) bool {
	return s.Organisation == "" || strings.EqualFold(s.Organisation, organisation)
}

// InstanceIDs returns the ids of the set's instances in set order.
func (s *EntitySet) InstanceIDs() []int {
	ids := make([]int, len(s.Instances))
	for i, inst := range s.Instances {
		ids[i] = inst.ID
	}
	return ids
}
