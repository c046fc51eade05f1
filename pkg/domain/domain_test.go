package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityTypeOrderingIsCaseInsensitive(t *testing.T) {
	types := []EntityType{{Identifier: "Region"}, {Identifier: "brand"}, {Identifier: "Age"}}
	SortEntityTypes(types)
	assert.Equal(t, []string{"Age", "brand", "Region"}, []string{types[0].Identifier, types[1].Identifier, types[2].Identifier})
	assert.True(t, EntityType{Identifier: "BRAND"}.Equal(EntityType{Identifier: " brand "}))
	assert.Equal(t, "brand", FoldIdentifier("  Brand"))
	assert.True(t, ProfileType().IsProfile)
}

func TestEquivalentCombination(t *testing.T) {
	brand, region := EntityType{Identifier: "brand"}, EntityType{Identifier: "Region"}
	assert.True(t, EquivalentCombination([]EntityType{brand, region}, []EntityType{{Identifier: "region"}, brand}))
	assert.False(t, EquivalentCombination([]EntityType{brand, brand}, []EntityType{brand, region}))
	assert.False(t, EquivalentCombination([]EntityType{brand}, nil))
}

func TestEntityInstanceEquivalence(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := EntityInstance{ID: 1, Name: "Tesco", Subsets: []string{"US", "UK"},
		EnabledBySubset: map[string]bool{"UK": false}, StartDateBySubset: map[string]time.Time{"UK": start}}
	b := a.Clone()
	b.Subsets = []string{"UK", "US"}
	assert.True(t, a.ExactlyEquivalent(b))

	b.EnabledBySubset["UK"] = true
	assert.False(t, a.ExactlyEquivalent(b), "clone does not share maps")
	assert.True(t, a.Equal(b))
	assert.False(t, a.EnabledFor("UK"))
	assert.True(t, a.EnabledFor("US"))
	got, ok := a.StartDateFor("UK")
	require.True(t, ok)
	assert.True(t, got.Equal(start))
	assert.False(t, a.IsAllSubsets())
	assert.True(t, EntityInstance{ID: 2}.IsAllSubsets())
}

func TestEntityInstanceSubsetLookupFoldsIdentifiers(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inst := EntityInstance{ID: 1, Name: "Tesco",
		EnabledBySubset: map[string]bool{"UK": false}, StartDateBySubset: map[string]time.Time{"UK": start}}

	assert.False(t, inst.EnabledFor("uk"))
	assert.False(t, inst.EnabledFor(" Uk "))
	got, ok := inst.StartDateFor("uk")
	require.True(t, ok)
	assert.True(t, got.Equal(start))
	_, ok = inst.StartDateFor("us")
	assert.False(t, ok)
}

func TestEntitySetIdentity(t *testing.T) {
	instances := []EntityInstance{{ID: 1, Name: "Tesco"}, {ID: 2, Name: "Asda"}}
	all := NewAllEntitiesSet(instances)
	require.True(t, all.IsGeneratedAll())
	assert.Equal(t, 1, all.MainInstance.ID)
	assert.False(t, all.HasID())
	assert.Equal(t, 0, all.IDOrZero())

	next := all.WithInstances(instances[1:])
	assert.Equal(t, 2, next.MainInstance.ID)
	assert.Len(t, all.Instances, 2, "original untouched")
	assert.True(t, all.SameIdentity(next))

	one, two := 1, 2
	configured := &EntitySet{ID: &one, Name: "All", IsSectorSet: true}
	assert.False(t, configured.IsGeneratedAll())
	assert.False(t, configured.SameIdentity(all))
	assert.True(t, configured.SameIdentity(&EntitySet{ID: &one, Name: "renamed"}))
	assert.False(t, configured.SameIdentity(&EntitySet{ID: &two}))
	assert.False(t, configured.SameIdentity(nil))
	assert.Equal(t, []int{1, 2}, all.InstanceIDs())

	owned := &EntitySet{Name: "Mine", Organisation: "acme"}
	assert.True(t, owned.VisibleTo("ACME"))
	assert.False(t, owned.VisibleTo("other"))
	assert.True(t, all.VisibleTo("other"))
}

func TestErrorKinds(t *testing.T) {
	fatal := Fatal("load", ErrDuplicateRespondent)
	recoverable := fmt.Errorf("outer: %w", Recoverable("lookup", ErrUnknownSubset))

	assert.True(t, IsFatal(fatal))
	assert.False(t, IsRecoverable(fatal))
	assert.True(t, IsRecoverable(recoverable))
	assert.ErrorIs(t, recoverable, ErrUnknownSubset)
	assert.Equal(t, "load: duplicate respondent id", fatal.Error())
	assert.Equal(t, KindFatal, KindOf(errors.New("plain")), "unclassified errors are fatal")
	assert.Equal(t, Kind(0), KindOf(nil))
	assert.False(t, IsFatal(nil))
	assert.Equal(t, "recoverable", KindRecoverable.String())
	assert.Equal(t, "unknown", Kind(9).String())
	assert.Equal(t, "unknown subset", (&Error{Err: ErrUnknownSubset}).Error())

	nested := Recoverable("outer", Fatal("inner", ErrDimensionMismatch))
	assert.True(t, IsRecoverable(nested), "the outermost classification wins")

	var nf ErrNotFound
	require.ErrorAs(t, Fatal("get", ErrNotFound{Entity: "entity set", ID: "brand"}), &nf)
	assert.Equal(t, "entity set brand not found", nf.Error())
}

func TestQuotaCellKeys(t *testing.T) {
	cell := NewQuotaCell(3, 4, "UK", map[string]string{"Gender": "f", "Age": "young"}, nil)
	assert.Equal(t, "Age:young|Gender:f", cell.Key())
	assert.Equal(t, "UK/Age:young|Gender:f", cell.String())
	v, ok := cell.KeyPart("Gender")
	require.True(t, ok)
	assert.Equal(t, "f", v)
	assert.False(t, cell.IsUnweighted())

	unweighted := UnweightedQuotaCell("UK")
	assert.True(t, unweighted.IsUnweighted())
	assert.Equal(t, UnweightedCellID, unweighted.ID)
	assert.Equal(t, "Unweighted", unweighted.Key())
	var none *QuotaCell
	assert.False(t, none.IsUnweighted())
}

func TestSubsetAndAverages(t *testing.T) {
	assert.True(t, Subset{ID: "UK"}.Matches("uk"))
	assert.False(t, AverageDescriptor{}.IsWeighted())
	assert.False(t, AverageDescriptor{Weighting: WeightingNone}.IsWeighted())
	assert.True(t, AverageDescriptor{Weighting: WeightingQuotaCell}.IsWeighted())
}
