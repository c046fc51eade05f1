package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	strings map[string]string
	ttls    map[string]time.Duration
	failSet error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		hashes:  make(map[string]map[string]string),
		strings: make(map[string]string),
		ttls:    make(map[string]time.Duration),
	}
}

func (f *fakeClient) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeClient) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (f *fakeClient) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return redis.NewStatusResult("", f.failSet)
	}
	f.strings[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestCacheStoresAndReadsLatestLoad(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	cache := NewWithClient(client, WithTTL(time.Hour), WithPrefix("test"))

	require.NoError(t, cache.StoreQuotaCells(ctx, "UK", "load-1", map[int]int{1: 0, 2: -1}))
	require.NoError(t, cache.StoreQuotaCells(ctx, "UK", "load-2", map[int]int{1: 3, 5: 3}))

	assert.Equal(t, time.Hour, client.ttls["test:UK:load-2"])
	assert.Equal(t, time.Hour, client.ttls["test:UK:latest"])
	assert.Equal(t, "0", client.hashes["test:UK:load-1"]["1"])

	cells, loadID, err := cache.LatestQuotaCells(ctx, "UK")
	require.NoError(t, err)
	assert.Equal(t, "load-2", loadID)
	assert.Equal(t, map[int]int{1: 3, 5: 3}, cells)
}

func TestCacheEmptyLoadOnlyMovesLatest(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	cache := NewWithClient(client)

	require.NoError(t, cache.StoreQuotaCells(ctx, "FR", "empty", nil))
	assert.NotContains(t, client.hashes, defaultPrefix+":FR:empty")
	assert.Equal(t, defaultTTL, client.ttls[defaultPrefix+":FR:latest"])

	cells, loadID, err := cache.LatestQuotaCells(ctx, "FR")
	require.NoError(t, err)
	assert.Equal(t, "empty", loadID)
	assert.Empty(t, cells)
}

func TestCacheErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	cache := NewWithClient(client)

	_, _, err := cache.LatestQuotaCells(ctx, "UK")
	require.ErrorIs(t, err, ErrNoLoad)

	client.strings[defaultPrefix+":UK:latest"] = "bad"
	client.hashes[defaultPrefix+":UK:bad"] = map[string]string{"x": "1"}
	_, _, err = cache.LatestQuotaCells(ctx, "UK")
	require.ErrorContains(t, err, "decode respondent id")

	client.failSet = errors.New("readonly replica")
	err = cache.StoreQuotaCells(ctx, "UK", "l", map[int]int{1: 1})
	require.ErrorContains(t, err, "readonly replica")
}

func TestNewRejectsInvalidURL(t *testing.T) {
	_, _, err := New(context.Background(), "not-a-url")
	require.ErrorContains(t, err, "invalid URL")
}
