package addressing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveycore/pkg/domain"
)

func TestExpander_ProductMatchesTargetSizes(t *testing.T) {
	targets := []DataTarget{
		NewDataTarget(region, 3, 1, 2),
		NewDataTarget(brand, 10, 20),
		TargetInstances{Type: product, Instances: []domain.EntityInstance{{ID: 5}, {ID: 4}, {ID: 5}}},
	}
	combos, err := NewExpander(0).GetEntityValueCombination(targets)
	require.NoError(t, err)
	require.Len(t, combos, 3*2*2)

	seen := map[EntityIds]bool{}
	for _, c := range combos {
		assert.False(t, seen[c.EntityIds()], "duplicate scenario %s", c)
		seen[c.EntityIds()] = true
		assert.Equal(t, []domain.EntityType{brand, product, region}, c.Types())
	}
	assert.Equal(t, FromIDsOrderedByEntityType(10, 4, 1), combos[0].EntityIds())
	assert.Equal(t, FromIDsOrderedByEntityType(20, 5, 3), combos[len(combos)-1].EntityIds())
}

func TestExpander_CapIsInclusive(t *testing.T) {
	targets := []DataTarget{NewDataTarget(brand, 1, 2, 3), NewDataTarget(region, 1, 2)}

	combos, err := NewExpander(6).GetEntityValueCombination(targets)
	require.NoError(t, err)
	assert.Len(t, combos, 6)

	combos, err = NewExpander(5).GetEntityValueCombination(targets)
	require.Error(t, err)
	assert.Nil(t, combos)
	assert.True(t, errors.Is(err, domain.ErrCartesianProductTooLarge))
	assert.True(t, domain.IsFatal(err))
}

func TestExpander_DefaultCapRejectsLargeProducts(t *testing.T) {
	ids := make([]int, 1000)
	for i := range ids {
		ids[i] = i
	}
	targets := []DataTarget{NewDataTarget(brand, ids...), NewDataTarget(region, ids...)}
	_, err := GetEntityValueCombination(targets)
	require.ErrorIs(t, err, domain.ErrCartesianProductTooLarge)

	size, err := NewExpander(2_000_000).ProductSize(targets)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000, size)
}

func TestExpander_RejectsProfileAndDuplicateTargets(t *testing.T) {
	_, err := GetEntityValueCombination([]DataTarget{NewDataTarget(profile, 1)})
	require.ErrorIs(t, err, domain.ErrProfileTarget)

	_, err = GetEntityValueCombination([]DataTarget{NewDataTarget(brand, 1), NewDataTarget(domain.EntityType{Identifier: "Brand"}, 2)})
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
}

func TestExpander_EmptyInputs(t *testing.T) {
	combos, err := GetEntityValueCombination(nil)
	require.NoError(t, err)
	require.Len(t, combos, 1)
	assert.True(t, combos[0].EntityIds().IsDefault())

	combos, err = GetEntityValueCombination([]DataTarget{NewDataTarget(brand, 1), NewDataTarget(region)})
	require.NoError(t, err)
	assert.Empty(t, combos)
}
