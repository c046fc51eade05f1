package respondents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveycore/pkg/domain"
)

func intPtr(v int) *int { return &v }

func demographicScheme() WeightingScheme {
	return WeightingScheme{
		Measures: []Measure{
			{Name: "AgeBand", Fields: []string{"Age"}, Expression: "Age < 35 ? 1 : 2"},
			{Name: "Gender", Fields: []string{"Gender"}},
			{Name: "Unused", Fields: []string{"Region"}},
		},
		Plans: map[string][]WeightingPlan{"": {
			{FilterMetricName: "AgeBand", Targets: []WeightingTarget{{FilterMetricEntityID: 1}, {FilterMetricEntityID: 2}}},
			{FilterMetricName: "Gender", Targets: []WeightingTarget{
				{FilterMetricEntityID: 1, WeightingGroupID: intPtr(10)},
				{FilterMetricEntityID: 2, WeightingGroupID: intPtr(11), ResponseLevel: true},
			}},
		}},
	}
}

func TestToQuotaCellTree(t *testing.T) {
	t.Run("sibling plans form a product", func(t *testing.T) {
		root := ToQuotaCellTree(demographicScheme().Plans[""])
		require.Equal(t, "AgeBand", root.Measure)
		require.Len(t, root.Children, 2)
		young, old := root.Children[1], root.Children[2]
		assert.NotSame(t, young, old)
		assert.Equal(t, "Gender", young.Measure)
		assert.True(t, young.Children[2].IsLeaf())
		assert.Equal(t, 11, *young.Children[2].WeightingGroupID)
		assert.True(t, young.Children[2].ResponseLevel)
	})

	t.Run("nested target plans", func(t *testing.T) {
		root := ToQuotaCellTree([]WeightingPlan{{FilterMetricName: "Region", Targets: []WeightingTarget{
			{FilterMetricEntityID: 1, Plans: []WeightingPlan{{FilterMetricName: "Gender", Targets: []WeightingTarget{{FilterMetricEntityID: 1, WeightingGroupID: intPtr(5)}}}}},
			{FilterMetricEntityID: 2, WeightingGroupID: intPtr(6)},
		}}})
		assert.Equal(t, "Gender", root.Children[1].Measure)
		assert.Equal(t, 5, *root.Children[1].Children[1].WeightingGroupID)
		assert.True(t, root.Children[2].IsLeaf())
	})

	t.Run("no plans", func(t *testing.T) {
		assert.Nil(t, ToQuotaCellTree(nil))
	})
}

func TestMetricBasedFactory_WalksQuotaCellTree(t *testing.T) {
	fields := catalog(t)
	loader := MemoryResponseLoader{Records: map[string][]ResponseRecord{"UK": {
		record(1, map[string]int{"Age": 20, "Gender": 1}),
		record(2, map[string]int{"Age": 50, "Gender": 2}),
		record(3, map[string]int{"Age": 22, "Gender": 1}),
		record(4, map[string]int{"Age": 22, "Gender": 3}),
		record(5, map[string]int{"Age": 22}),
	}}}
	logger := &captureLogger{}
	provider := NewPlanWeightingProvider(fields, demographicScheme())
	factory := NewMetricBasedRepositoryFactory(loader, provider, WithFactoryLogger(logger))

	repo, err := factory.CreateRespondentRepository(context.Background(), uk)
	require.NoError(t, err)
	require.Equal(t, 5, repo.Count())

	one, _ := repo.Get(1)
	three, _ := repo.Get(3)
	two, _ := repo.Get(2)
	assert.Same(t, one.Cell, three.Cell)
	assert.Equal(t, map[string]string{"AgeBand": "1", "Gender": "1"}, one.Cell.FieldGroupToKeyPart)
	assert.Equal(t, 10, *one.Cell.WeightingGroupID)
	assert.Equal(t, 11, *two.Cell.WeightingGroupID)
	assert.True(t, two.Cell.IsResponseLevelWeighting)
	assert.Equal(t, 2, repo.UnWeightedCellsGroup().RespondentCount())
	assert.True(t, logger.has("w:respondents allocated to the unweighted quota cell"))

	four, _ := repo.Get(4)
	reasons, err := factory.QuotaCellAllocationReason(context.Background(), uk, four.Respondent)
	require.NoError(t, err)
	assert.Equal(t, "Gender=3: no data, possibly ok", reasons[0].String())

	five, _ := repo.Get(5)
	reasons, err = factory.QuotaCellAllocationReason(context.Background(), uk, five.Respondent)
	require.NoError(t, err)
	assert.Equal(t, "Gender: no data", reasons[0].String())
}

func TestQuotaCellFactory_OnlyReadsFieldsOfUsedMeasures(t *testing.T) {
	provider := NewPlanWeightingProvider(catalog(t), demographicScheme())
	cells, err := provider.CreateQuotaCellFactory(context.Background(), uk)
	require.NoError(t, err)

	var names []string
	for _, d := range cells.Fields() {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"Age", "Gender"}, names)
	assert.True(t, cells.Unweighted().IsUnweighted())
	assert.Empty(t, cells.Cells())
}

func TestQuotaCellFactory_Errors(t *testing.T) {
	fields := catalog(t)

	t.Run("missing measure", func(t *testing.T) {
		scheme := demographicScheme()
		scheme.Measures = scheme.Measures[:1]
		_, err := NewPlanWeightingProvider(fields, scheme).CreateQuotaCellFactory(context.Background(), uk)
		var nf domain.ErrNotFound
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "Gender", nf.ID)
	})

	t.Run("bad expression", func(t *testing.T) {
		_, err := CompileMeasure(Measure{Name: "broken", Fields: []string{"Age"}, Expression: "Age <"}, fields)
		assert.True(t, domain.IsFatal(err))
	})

	t.Run("multi-entity field", func(t *testing.T) {
		_, err := CompileMeasure(Measure{Name: "m", Fields: []string{"Consideration"}}, fields)
		assert.ErrorIs(t, err, domain.ErrMultiEntityQuotaField)
	})

	t.Run("no plans means unweighted", func(t *testing.T) {
		cells, err := NewPlanWeightingProvider(fields, WeightingScheme{}).CreateQuotaCellFactory(context.Background(), uk)
		require.NoError(t, err)
		p := respondent(1, day0)
		assert.True(t, cells.GetQuotaCell(p).IsUnweighted())
		assert.Equal(t, "no weighting", cells.QuotaCellAllocationReason(p)[0].Message)
	})
}

func TestToCategory(t *testing.T) {
	cases := []struct {
		in   any
		want int
		ok   bool
	}{
		{in: 3, want: 3, ok: true},
		{in: int64(4), want: 4, ok: true},
		{in: 2.0, want: 2, ok: true},
		{in: 2.5},
		{in: true, want: 1, ok: true},
		{in: false, want: 0, ok: true},
		{in: nil},
		{in: "x"},
	}
	for _, tc := range cases {
		got, ok := toCategory(tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}
}
