package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveycore/internal/addressing"
	"surveycore/internal/definitions"
	"surveycore/internal/entity"
	"surveycore/internal/observability"
	"surveycore/internal/respondents"
	"surveycore/internal/schema"
	"surveycore/pkg/domain"
)

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) record(level, msg string) {
	c.mu.Lock()
	c.calls = append(c.calls, level+":"+msg)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.record("d", msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.record("i", msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.record("w", msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.record("e", msg) }

func (c *captureLogger) has(entry string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call == entry {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetrics struct {
	mu         sync.Mutex
	calls      []metricsCall
	loads      map[string]int
	rejections []int
}

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetrics) RecordRespondentLoad(_ context.Context, subsetID string, loaded, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loads == nil {
		c.loads = make(map[string]int)
	}
	c.loads[subsetID] += loaded
}

func (c *captureMetrics) RecordCartesianRejection(_ context.Context, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejections = append(c.rejections, size)
}

func (c *captureMetrics) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	mu    sync.Mutex
	ended []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, observability.TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.ended {
		if r.op == op && (r.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.mu.Lock()
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
	s.tracer.mu.Unlock()
}

var (
	brand  = domain.EntityType{Identifier: "brand", IsBrand: true}
	region = domain.EntityType{Identifier: "region"}
	march  = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

func field(name string, subsets []string, types ...domain.EntityType) definitions.FieldDocument {
	doc := definitions.FieldDocument{Subsets: subsets}
	doc.Name = name
	for _, et := range types {
		doc.EntityDefinitions = append(doc.EntityDefinitions, schema.EntityFieldDefinition{
			ColumnName: et.Identifier + "_id",
			EntityType: domain.EntityType{Identifier: et.Identifier},
		})
	}
	return doc
}

func testBundle() *definitions.Bundle {
	return &definitions.Bundle{
		Subsets:     []domain.Subset{{ID: "UK"}, {ID: "US", Disabled: true}},
		EntityTypes: []domain.EntityType{brand, region},
		Instances: []definitions.EntityInstances{
			{EntityType: "Brand", Instances: []domain.EntityInstance{{ID: 1, Name: "Tesco"}, {ID: 2, Name: "Asda"}, {ID: 3, Name: "Lidl"}}},
			{EntityType: "region", Instances: []domain.EntityInstance{{ID: 1, Name: "North"}, {ID: 2, Name: "South"}}},
			{EntityType: "colour", Instances: []domain.EntityInstance{{ID: 1, Name: "Red"}}},
		},
		Fields: []definitions.FieldDocument{
			field("Age", []string{"UK", "US"}),
			field("Gender", []string{"UK", "US"}),
			field("Consideration", []string{"UK"}, brand),
		},
		EntitySets: []entity.EntitySetConfiguration{
			{ID: 1, Name: "Big two", EntityType: "brand", Instances: "1|2", IsDefault: true},
		},
		Quota: &definitions.QuotaSettings{
			Mappers: map[string][]definitions.MapperDocument{
				definitions.AllSubsets: {{Field: "Gender", Categories: map[int]string{1: "m", 2: "f"}}},
			},
			ReferenceCells: map[string][]string{definitions.AllSubsets: {"Gender:m", "Gender:f"}},
		},
	}
}

func records() respondents.MemoryResponseLoader {
	rec := func(id int, values map[string]int) respondents.ResponseRecord {
		return respondents.ResponseRecord{ResponseID: id, Timestamp: march.Add(time.Duration(id) * time.Hour), SurveyID: 1, Values: values}
	}
	return respondents.MemoryResponseLoader{Records: map[string][]respondents.ResponseRecord{"UK": {
		rec(1, map[string]int{"Age": 20, "Gender": 1}),
		rec(2, map[string]int{"Age": 50, "Gender": 2}),
		rec(3, map[string]int{"Age": 30, "Gender": 1}),
		rec(4, map[string]int{"Age": 40}),
	}}}
}

func TestClockFuncNowNilFallsBackToUTCTime(t *testing.T) {
	got := ClockFunc(nil).Now()
	assert.False(t, got.IsZero())
	assert.Equal(t, time.UTC, got.Location())
}

func TestClockFuncNowDelegatesToFunction(t *testing.T) {
	expected := time.Date(2024, 7, 4, 12, 34, 56, 0, time.FixedZone("offset", -5*3600))
	got := ClockFunc(func() time.Time { return expected }).Now()
	assert.True(t, got.Equal(expected.UTC()))
	assert.Equal(t, time.UTC, got.Location())
}

func TestService_ApplyRegistersDefinitions(t *testing.T) {
	logger := &captureLogger{}
	metrics := &captureMetrics{}
	tracer := &captureTracer{}
	applied := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewService(WithLogger(logger), WithMetricsRecorder(metrics), WithTracer(tracer),
		WithClock(ClockFunc(func() time.Time { return applied })))

	require.NoError(t, svc.Apply(context.Background(), testBundle()))

	assert.True(t, logger.has("w:skipping instances of unknown entity type"))
	assert.True(t, logger.has("i:definitions applied"))
	assert.True(t, metrics.has("core.apply", true))
	assert.True(t, tracer.has("core.apply", true))

	consider, err := svc.Fields().Get("consideration")
	require.NoError(t, err)
	assert.Equal(t, 1, consider.Dimensions())
	assert.True(t, consider.IsAvailableForSubset("UK"))
	assert.False(t, consider.IsAvailableForSubset("US"))

	sum := svc.Summary()
	assert.Equal(t, applied, sum.AppliedAt)
	assert.Equal(t, 2, sum.EntityTypes)
	assert.Equal(t, 5, sum.Instances)
	assert.Equal(t, 3, sum.Fields)
	require.Len(t, sum.Subsets, 2)
	assert.False(t, sum.Subsets[0].Loaded)
	assert.True(t, sum.Subsets[1].Disabled)

	stored, err := svc.Configurations().EntitySetConfigurations(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestService_ApplyFailsOnUnknownFieldEntityType(t *testing.T) {
	metrics := &captureMetrics{}
	logger := &captureLogger{}
	svc := NewService(WithMetricsRecorder(metrics), WithLogger(logger))
	b := testBundle()
	b.Fields = append(b.Fields, field("Colour", []string{"UK"}, domain.EntityType{Identifier: "colour"}))

	err := svc.Apply(context.Background(), b)
	require.ErrorIs(t, err, domain.ErrUnknownEntityType)
	assert.True(t, domain.IsFatal(err))
	assert.True(t, metrics.has("core.apply", false))
	assert.True(t, logger.has("e:operation failed"))
}

func TestService_ApplyRejectsUnnamedInstances(t *testing.T) {
	svc := NewService()
	b := testBundle()
	b.Instances[0].Instances = append(b.Instances[0].Instances, domain.EntityInstance{ID: 9, Name: " "})
	require.ErrorIs(t, svc.Apply(context.Background(), b), domain.ErrEmptyInstanceName)
}

func TestService_DefaultTargetAndExpansion(t *testing.T) {
	svc := NewService()
	require.NoError(t, svc.Apply(context.Background(), testBundle()))

	brands, err := svc.DefaultTarget("Brand", "UK", "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, brands.SortedInstanceIDs())

	regions, err := svc.DefaultTarget("region", "UK", "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, regions.SortedInstanceIDs(), "generated All set")

	combos, err := svc.ExpandTargets(context.Background(), []addressing.DataTarget{regions, brands})
	require.NoError(t, err)
	require.Len(t, combos, 4)
	first, ok := combos[0].ValueFor(brand)
	require.True(t, ok)
	assert.Equal(t, 1, first)
	for _, c := range combos {
		require.NoError(t, svc.ValidateCombination(c, "UK"))
	}

	missing, err := addressing.NewEntityValueCombination(addressing.EntityValue{Type: brand, Value: 42})
	require.NoError(t, err)
	assert.True(t, domain.IsRecoverable(svc.ValidateCombination(missing, "UK")))

	_, err = svc.DefaultTarget("colour", "UK", "")
	assert.ErrorIs(t, err, domain.ErrUnknownEntityType)
}

func TestService_ExpandTargetsRejectsOversizedProducts(t *testing.T) {
	logger := &captureLogger{}
	metrics := &captureMetrics{}
	tracer := &captureTracer{}
	svc := NewService(WithMaxCartesianProductSize(5), WithLogger(logger), WithMetricsRecorder(metrics), WithTracer(tracer))

	targets := []addressing.DataTarget{
		addressing.NewDataTarget(brand, 1, 2, 3),
		addressing.NewDataTarget(region, 1, 2),
	}
	combos, err := svc.ExpandTargets(context.Background(), targets)
	require.ErrorIs(t, err, domain.ErrCartesianProductTooLarge)
	assert.Nil(t, combos)
	assert.Equal(t, []int{6}, metrics.rejections)
	assert.True(t, logger.has("w:cartesian product rejected"))
	assert.True(t, tracer.has("core.expand_targets", false))

	combos, err = svc.ExpandTargets(context.Background(), targets[:1])
	require.NoError(t, err)
	assert.Len(t, combos, 3)
}

func TestService_RespondentRepositories(t *testing.T) {
	ctx := context.Background()
	metrics := &captureMetrics{}
	svc := NewService(WithMetricsRecorder(metrics))
	b := testBundle()
	require.NoError(t, svc.Apply(ctx, b))

	_, err := svc.RespondentRepository(ctx, "UK")
	require.ErrorIs(t, err, ErrNoRespondentFactory)
	require.ErrorIs(t, svc.LoadRespondents(ctx), ErrNoRespondentFactory)

	svc.UseRespondentFactory(svc.RespondentFactory(b, records()))
	require.NoError(t, svc.LoadRespondents(ctx))

	repo, err := svc.RespondentRepository(ctx, "uk")
	require.NoError(t, err)
	assert.Equal(t, 4, repo.Count())
	assert.Equal(t, 4, metrics.loads["UK"])

	us, err := svc.RespondentRepository(ctx, "US")
	require.NoError(t, err)
	assert.Zero(t, us.Count(), "disabled subset")

	_, err = svc.RespondentRepository(ctx, "FR")
	require.ErrorIs(t, err, domain.ErrUnknownSubset)
	assert.True(t, metrics.has("core.respondent_repository", false))

	sum := svc.Summary()
	uk := sum.Subsets[0]
	assert.True(t, uk.Loaded)
	assert.Equal(t, 4, uk.Respondents)
	assert.Equal(t, 2, uk.QuotaCells)
	assert.Equal(t, 1, uk.Unweighted)
}

func TestService_RespondentFactoryPrefersWeightingPlans(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	b := testBundle()
	b.Weighting = &respondents.WeightingScheme{
		Measures: []respondents.Measure{{Name: "AgeBand", Fields: []string{"Age"}, Expression: "Age < 35 ? 1 : 2"}},
		Plans: map[string][]respondents.WeightingPlan{definitions.AllSubsets: {{
			FilterMetricName: "AgeBand",
			Targets:          []respondents.WeightingTarget{{FilterMetricEntityID: 1}, {FilterMetricEntityID: 2}},
		}}},
	}
	require.NoError(t, svc.Apply(ctx, b))

	factory := svc.RespondentFactory(b, records())
	require.IsType(t, &respondents.MetricBasedRepositoryFactory{}, factory)
	svc.UseRespondentFactory(factory)

	repo, err := svc.RespondentRepository(ctx, "UK")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.WeightedCellsGroup().Len())
	assert.Len(t, repo.WeightedCellsGroup().Respondents(mustCell(t, repo, 1)), 2, "ages 20 and 30")
}

func mustCell(t *testing.T, repo *respondents.Repository, respondentID int) *domain.QuotaCell {
	t.Helper()
	cr, ok := repo.Get(respondentID)
	require.True(t, ok)
	return cr.Cell
}

type subsetSourceStub []domain.Subset

func (s subsetSourceStub) Subsets(context.Context) ([]domain.Subset, error) { return s, nil }

func TestService_LoadSubsets(t *testing.T) {
	svc := NewService()
	require.NoError(t, svc.LoadSubsets(context.Background(), subsetSourceStub{{ID: "DE"}}))
	_, ok := svc.Subsets().TryGet("de")
	assert.True(t, ok)
}
