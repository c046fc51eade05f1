package entity

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fixture struct {
	configs   *MemorySetConfigurationRepository
	sets      *SetRepository
	types     *TypeRepository
	instances *InstanceRepository
	logger    *captureLogger
	loader    *SetConfigurationLoader
}

func newFixture(t *testing.T, configs ...EntitySetConfiguration) *fixture {
	t.Helper()
	f := &fixture{
		configs:   NewMemorySetConfigurationRepository(configs...),
		sets:      NewSetRepository(),
		types:     NewTypeRepository(domain.EntityType{Identifier: "brand", IsBrand: true}, domain.EntityType{Identifier: "region"}),
		instances: NewInstanceRepository(),
		logger:    &captureLogger{},
	}
	for id := 1; id <= 8; id++ {
		require.NoError(t, f.instances.Add("brand", domain.EntityInstance{ID: id, Name: fmt.Sprintf("brand %d", id)}))
	}
	require.NoError(t, f.instances.Add("brand", domain.EntityInstance{ID: 20, Name: "uk only", Subsets: []string{"UK"}}))
	subsets := NewMemorySubsetRepository(domain.Subset{ID: "UK"}, domain.Subset{ID: "US"})
	f.loader = NewSetConfigurationLoader(f.configs, f.sets, subsets, f.types, f.instances, WithLoaderLogger(f.logger))
	return f
}

func TestParseInstanceIDs(t *testing.T) {
	tests := map[string][]int{
		"":        nil,
		"7":       {7},
		"1|2|5:8": {1, 2, 5, 6, 7, 8},
		"8:6| 1 ": {6, 7, 8, 1},
		"3:3":     {3},
		"-2:0|10": {-2, -1, 0, 10},
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			got, err := ParseInstanceIDs(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
	invalid := []string{
		"1|x",
		"1:y",
		"1:2:3",
		"1:9223372036854775807",
		"-9223372036854775808:9223372036854775807",
		"0:2000000000",
		"0:100000",
	}
	for _, in := range invalid {
		t.Run("invalid "+in, func(t *testing.T) {
			_, err := ParseInstanceIDs(in)
			require.ErrorIs(t, err, domain.ErrInvalidInstanceList)
			assert.True(t, domain.IsFatal(err))
		})
	}

	widest, err := ParseInstanceIDs("1:100000")
	require.NoError(t, err)
	assert.Len(t, widest, MaxInstanceRange)
	assert.Equal(t, 100000, widest[len(widest)-1])
}

func TestLoader_AddOrUpdateAllBuildsSetsAndAll(t *testing.T) {
	main := 5
	f := newFixture(t,
		EntitySetConfiguration{ID: 2, Name: "Top", EntityType: "brand", Instances: "1|2|5:8|99", Organisation: "acme", MainInstance: &main},
		EntitySetConfiguration{ID: 3, Name: "Bad subset", EntityType: "brand", Instances: "1", Subset: "FR"},
		EntitySetConfiguration{ID: 4, Name: "Bad type", EntityType: "channel", Instances: "1"},
		EntitySetConfiguration{ID: 5, Name: "Disabled", EntityType: "brand", Instances: "1", IsDisabled: true},
		EntitySetConfiguration{ID: 6, Name: "Malformed", EntityType: "brand", Instances: "1|two"},
	)
	require.NoError(t, f.loader.AddOrUpdateAll(context.Background()))

	_, ok := f.types.TryGet("region")
	assert.False(t, ok, "types without instances are dropped")

	uk := f.sets.GetAllFor("brand", "UK", "acme")
	require.Len(t, uk, 2)
	assert.Equal(t, "Top", uk[0].Name)
	assert.Equal(t, []int{1, 2, 5, 6, 7, 8}, uk[0].InstanceIDs())
	require.NotNil(t, uk[0].MainInstance)
	assert.Equal(t, 5, uk[0].MainInstance.ID)
	assert.True(t, uk[1].IsGeneratedAll())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 20}, uk[1].InstanceIDs())

	us := f.sets.GetOrganisationAgnostic("brand", "US")
	require.Len(t, us, 1)
	assert.Len(t, us[0].Instances, 8)

	assert.True(t, f.logger.has("w:entity set instances not found"))
	assert.True(t, f.logger.has("w:ignoring entity set with invalid subset"))
	assert.True(t, f.logger.has("w:ignoring entity set with unknown entity type"))
	assert.True(t, f.logger.has("w:ignoring entity set with malformed instances"))
	assert.Equal(t, 3, f.sets.Len())
}

func TestLoader_AddOrUpdateReplacesPreviousVersion(t *testing.T) {
	f := newFixture(t, EntitySetConfiguration{ID: 1, Name: "Mine", EntityType: "brand", Instances: "1|2", Organisation: "acme"})
	ctx := context.Background()
	require.NoError(t, f.loader.AddOrUpdateAll(ctx))

	require.NoError(t, f.loader.AddOrUpdate(ctx, EntitySetConfiguration{ID: 1, Name: "Renamed", EntityType: "brand", Instances: "3", Organisation: "acme"}))
	got := f.sets.GetAllFor("brand", "US", "acme")
	names := make([]string, 0, len(got))
	for _, s := range got {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"Renamed", "All"}, names)
	stored, ok, err := f.configs.GetWithoutMappings(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Renamed", stored.Name)

	require.NoError(t, f.loader.Remove(ctx, stored))
	got = f.sets.GetAllFor("brand", "US", "acme")
	require.Len(t, got, 1)
	assert.Equal(t, domain.AllSetName, got[0].Name)
	assert.Error(t, f.loader.Remove(ctx, stored))
}

func TestLoader_RegenerateAllIsCopyOnWrite(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.AddOrUpdateAll(context.Background()))
	before := f.sets.GetOrganisationAgnostic("brand", "UK")
	require.Len(t, before, 1)
	held := before[0]
	heldIDs := held.InstanceIDs()

	require.NoError(t, f.instances.Add("brand", domain.EntityInstance{ID: 30, Name: "late", Subsets: []string{"UK"}}))
	f.loader.RegenerateAllEntitySet("brand")

	after := f.sets.GetOrganisationAgnostic("brand", "UK")
	require.Len(t, after, 1)
	assert.NotSame(t, held, after[0])
	assert.Equal(t, heldIDs, held.InstanceIDs())
	assert.Contains(t, after[0].InstanceIDs(), 30)
	assert.Equal(t, 2, f.sets.Len())
}

func TestLoader_CrossSubsetNameMismatchWarns(t *testing.T) {
	f := newFixture(t, EntitySetConfiguration{ID: 1, Name: "Cross", EntityType: "brand", Instances: "40"})
	require.NoError(t, f.instances.Add("brand", domain.EntityInstance{ID: 40, Name: "Forty", Subsets: []string{"UK"}}))
	require.NoError(t, f.instances.Add("brand", domain.EntityInstance{ID: 40, Name: "Quarante", Subsets: []string{"US"}}))
	require.NoError(t, f.loader.AddOrUpdateAll(context.Background()))
	assert.True(t, f.logger.has("w:entity set is cross subset with differently named instances"))
}
