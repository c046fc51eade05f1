package respondents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveycore/internal/schema"
	"surveycore/pkg/domain"
)

var (
	regionType = domain.EntityType{Identifier: "region"}
	brandType  = domain.EntityType{Identifier: "brand", IsBrand: true}
	uk         = domain.Subset{ID: "UK"}
)

func catalog(t *testing.T) *schema.Manager {
	t.Helper()
	m := schema.NewManager()
	field := func(name string, types ...domain.EntityType) schema.SubsetFieldDefinition {
		model := schema.FieldDefinitionModel{Name: name, TableName: "answers", ColumnName: name}
		for _, et := range types {
			model.EntityDefinitions = append(model.EntityDefinitions, schema.EntityFieldDefinition{ColumnName: et.Identifier + "_id", EntityType: et})
		}
		return schema.SubsetFieldDefinition{SubsetID: "UK", Model: model}
	}
	require.NoError(t, m.Load(
		field("Age"),
		field("Gender"),
		field("Region", regionType),
		field("Consideration", brandType, regionType),
	))
	return m
}

func record(id int, values map[string]int) ResponseRecord {
	return ResponseRecord{ResponseID: id, Timestamp: day0.Add(time.Duration(id) * time.Hour), SurveyID: 7, Values: values}
}

func demographicMappers() QuotaMappers {
	return QuotaMappers{"": {
		BandMapper{Field: "Age", Bands: []Band{{Min: 18, Max: 34, Key: "young"}, {Min: 35, Max: 99, Key: "old"}}},
		CategoryMapper{Field: "Gender", Categories: map[int]string{1: "m", 2: "f"}},
	}}
}

// demographicReferences admits the cells of respondents 1 to 3 in every
// subset.
func demographicReferences() FactoryOption {
	return WithReferenceWeightings("", NewReferenceCellKeys("Age:young|Gender:m", "Age:old|Gender:f"))
}

func demographicRecords() MemoryResponseLoader {
	return MemoryResponseLoader{Records: map[string][]ResponseRecord{"UK": {
		record(1, map[string]int{"Age": 20, "Gender": 1}),
		record(2, map[string]int{"Age": 40, "Gender": 2}),
		record(3, map[string]int{"age": 20, "gender": 1}),
		record(4, map[string]int{"Age": 10, "Gender": 1}),
		record(5, map[string]int{"Gender": 2}),
	}}}
}

func TestFieldsOnlyFactory_ClassifiesByOrderedMappers(t *testing.T) {
	logger := &captureLogger{}
	factory := NewFieldsOnlyRepositoryFactory(catalog(t), demographicRecords(), demographicMappers(),
		demographicReferences(), WithFactoryLogger(logger))

	repo, err := factory.CreateRespondentRepository(context.Background(), uk)
	require.NoError(t, err)
	require.Equal(t, 5, repo.Count())

	cellOf := func(id int) *domain.QuotaCell {
		cr, ok := repo.Get(id)
		require.True(t, ok)
		return cr.Cell
	}
	youngMale := cellOf(1)
	assert.Equal(t, map[string]string{"Age": "young", "Gender": "m"}, youngMale.FieldGroupToKeyPart)
	assert.Equal(t, 0, youngMale.ID)
	assert.Equal(t, 1, youngMale.Index)
	assert.Same(t, youngMale, cellOf(3))
	assert.Equal(t, 1, cellOf(2).ID)
	assert.Equal(t, 2, cellOf(2).Index)
	assert.True(t, cellOf(4).IsUnweighted(), "age outside every band")
	assert.True(t, cellOf(5).IsUnweighted(), "missing age")

	one, _ := repo.Get(1)
	three, _ := repo.Get(3)
	assert.Same(t, one.Respondent.ProfileValues(), three.Respondent.ProfileValues(), "identical profiles are interned")

	assert.Equal(t, 2, repo.UnWeightedCellsGroup().RespondentCount())
	assert.Equal(t, 3, repo.WeightedCellsGroup().RespondentCount())
	assert.True(t, logger.has("w:respondents allocated to the unweighted quota cell"))
	assert.Equal(t, 1, repo.Report().Count(domain.SeverityWarn))
	assert.False(t, repo.Report().HasCritical())
}

func TestFieldsOnlyFactory_ReferenceWeightingsAdmitKnownCellsOnly(t *testing.T) {
	refs := NewReferenceCellKeys("Age:young|Gender:m")
	factory := NewFieldsOnlyRepositoryFactory(catalog(t), demographicRecords(), demographicMappers(), WithReferenceWeightings("uk", refs))

	repo, err := factory.CreateRespondentRepository(context.Background(), uk)
	require.NoError(t, err)

	two, _ := repo.Get(2)
	assert.True(t, two.Cell.IsUnweighted())
	one, _ := repo.Get(1)
	assert.False(t, one.Cell.IsUnweighted())
	assert.Equal(t, []string{"Age:young|Gender:m"}, refs.Keys())
}

func TestFieldsOnlyFactory_SubsetWithoutReferenceWeightingsIsUnweighted(t *testing.T) {
	logger := &captureLogger{}
	refs := NewReferenceCellKeys("Age:young|Gender:m", "Age:old|Gender:f")
	factory := NewFieldsOnlyRepositoryFactory(catalog(t), demographicRecords(), demographicMappers(),
		WithReferenceWeightings("US", refs), WithFactoryLogger(logger))

	repo, err := factory.CreateRespondentRepository(context.Background(), uk)
	require.NoError(t, err)
	require.Equal(t, 5, repo.Count())
	for id := 1; id <= 5; id++ {
		cr, ok := repo.Get(id)
		require.True(t, ok)
		assert.True(t, cr.Cell.IsUnweighted(), "respondent %d", id)
	}
	assert.Zero(t, repo.WeightedCellsGroup().RespondentCount())
	assert.Equal(t, 5, repo.UnWeightedCellsGroup().RespondentCount())
	assert.True(t, logger.has("w:respondents allocated to the unweighted quota cell"))
}

func TestFieldsOnlyFactory_SubsetReferenceWeightingsOverrideShared(t *testing.T) {
	factory := NewFieldsOnlyRepositoryFactory(catalog(t), demographicRecords(), demographicMappers(),
		demographicReferences(), WithReferenceWeightings("UK", NewReferenceCellKeys("Age:old|Gender:f")))

	repo, err := factory.CreateRespondentRepository(context.Background(), uk)
	require.NoError(t, err)
	one, _ := repo.Get(1)
	assert.True(t, one.Cell.IsUnweighted())
	two, _ := repo.Get(2)
	assert.False(t, two.Cell.IsUnweighted())
	assert.Equal(t, 0, two.Cell.ID)
}

func TestFieldsOnlyFactory_SingleEntityQuotaField(t *testing.T) {
	loader := MemoryResponseLoader{Records: map[string][]ResponseRecord{"UK": {
		record(1, map[string]int{"Region": 3}),
		record(2, map[string]int{"Region": 4}),
	}}}
	mappers := QuotaMappers{"uk": {CategoryMapper{Field: "Region"}}}
	factory := NewFieldsOnlyRepositoryFactory(catalog(t), loader, mappers,
		WithReferenceWeightings("UK", NewReferenceCellKeys("Region:3", "Region:4")))

	repo, err := factory.CreateRespondentRepository(context.Background(), uk)
	require.NoError(t, err)
	one, _ := repo.Get(1)
	assert.Equal(t, map[string]string{"Region": "3"}, one.Cell.FieldGroupToKeyPart)
	assert.Equal(t, 0, repo.UnWeightedCellsGroup().RespondentCount())
}

func TestFieldsOnlyFactory_RejectsMultiEntityQuotaField(t *testing.T) {
	mappers := QuotaMappers{"": {CategoryMapper{Field: "Consideration"}}}
	factory := NewFieldsOnlyRepositoryFactory(catalog(t), MemoryResponseLoader{}, mappers)

	_, err := factory.CreateRespondentRepository(context.Background(), uk)
	require.ErrorIs(t, err, domain.ErrMultiEntityQuotaField)
	assert.True(t, domain.IsFatal(err))
}

func TestFieldsOnlyFactory_ZeroRespondentsIsCritical(t *testing.T) {
	logger := &captureLogger{}
	factory := NewFieldsOnlyRepositoryFactory(catalog(t), MemoryResponseLoader{}, demographicMappers(), WithFactoryLogger(logger))

	repo, err := factory.CreateRespondentRepository(context.Background(), uk)
	require.NoError(t, err)
	assert.Equal(t, 0, repo.Count())
	assert.False(t, repo.AllCellsGroup().Any())
	assert.True(t, logger.has("e:no respondents loaded"))
	assert.True(t, repo.Report().HasCritical())
}

func TestFieldsOnlyFactory_CustomLoadRules(t *testing.T) {
	minimum := domain.LoadRuleFunc{RuleName: "minimum_sample", Fn: func(_ context.Context, s domain.LoadStats) (domain.LoadReport, error) {
		var r domain.LoadReport
		if s.Loaded < 100 {
			r.Add(domain.Issue{Severity: domain.SeverityWarn, Message: "sample below minimum", Count: s.Loaded})
		}
		return r, nil
	}}
	factory := NewFieldsOnlyRepositoryFactory(catalog(t), demographicRecords(), demographicMappers(), WithLoadRules(minimum))

	repo, err := factory.CreateRespondentRepository(context.Background(), uk)
	require.NoError(t, err)
	issues := repo.Report().Issues
	require.NotEmpty(t, issues)
	last := issues[len(issues)-1]
	assert.Equal(t, "minimum_sample", last.Rule)
	assert.Equal(t, "UK", last.SubsetID)
	assert.Equal(t, repo.Count(), last.Count)
}

func TestFieldsOnlyFactory_AllocationReasons(t *testing.T) {
	factory := NewFieldsOnlyRepositoryFactory(catalog(t), demographicRecords(), demographicMappers())
	repo, err := factory.CreateRespondentRepository(context.Background(), uk)
	require.NoError(t, err)

	four, _ := repo.Get(4)
	reasons, err := factory.QuotaCellAllocationReason("UK", four.Respondent)
	require.NoError(t, err)
	require.Len(t, reasons, 1)
	assert.Equal(t, "Age=10: failed to find a quota cell key", reasons[0].String())

	five, _ := repo.Get(5)
	reasons, err = factory.QuotaCellAllocationReason("UK", five.Respondent)
	require.NoError(t, err)
	require.Len(t, reasons, 1)
	assert.Equal(t, "Age: failed to get value", reasons[0].String())

	one, _ := repo.Get(1)
	reasons, err = factory.QuotaCellAllocationReason("UK", one.Respondent)
	require.NoError(t, err)
	assert.Empty(t, reasons)
}
