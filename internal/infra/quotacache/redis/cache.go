// Package redis caches respondent to quota cell assignments in Redis so
// other processes can read the cells of the latest respondent load.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"surveycore/internal/observability"
	"surveycore/internal/respondents"
)

const (
	defaultPrefix = "surveycore:quotacells"
	defaultTTL    = 24 * time.Hour

	dialTimeout = 3 * time.Second
	pingTimeout = 2 * time.Second
)

// Client is the subset of the go-redis API the cache uses.
type Client interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

var _ respondents.QuotaCellCache = (*Cache)(nil)

// Cache stores one hash per subset load, field respondent id, value cell
// id, and points "<prefix>:<subset>:latest" at the newest load.
type Cache struct {
	client Client
	prefix string
	ttl    time.Duration
	logger observability.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long cached loads live. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithLogger sets the cache's logger.
func WithLogger(l observability.Logger) Option {
	return func(c *Cache) { c.logger = observability.OrNoop(l) }
}

// New connects to the server at url and verifies it answers a ping.
func New(ctx context.Context, url string, opts ...Option) (*Cache, *redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	options.DialTimeout = dialTimeout
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return NewWithClient(client, opts...), client, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, opts ...Option) *Cache {
	c := &Cache{client: client, prefix: defaultPrefix, ttl: defaultTTL, logger: observability.NoopLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Cache) loadKey(subsetID, loadID string) string {
	return c.prefix + ":" + subsetID + ":" + loadID
}

func (c *Cache) latestKey(subsetID string) string {
	return c.prefix + ":" + subsetID + ":latest"
}

// StoreQuotaCells implements respondents.QuotaCellCache.
func (c *Cache) StoreQuotaCells(ctx context.Context, subsetID, loadID string, cells map[int]int) error {
	key := c.loadKey(subsetID, loadID)
	if len(cells) > 0 {
		values := make([]any, 0, 2*len(cells))
		for respondent, cell := range cells {
			values = append(values, strconv.Itoa(respondent), strconv.Itoa(cell))
		}
		if err := c.client.HSet(ctx, key, values...).Err(); err != nil {
			return fmt.Errorf("redis_quota_cells_store_failed: %w", err)
		}
		if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
			return fmt.Errorf("redis_quota_cells_expire_failed: %w", err)
		}
	}
	if err := c.client.Set(ctx, c.latestKey(subsetID), loadID, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis_quota_cells_latest_failed: %w", err)
	}
	c.logger.Debug("quota cells cached", "subset", subsetID, "load_id", loadID, "respondents", len(cells))
	return nil
}

// ErrNoLoad is returned when no load of the subset is cached.
var ErrNoLoad = errors.New("no cached quota cell load")

// LatestQuotaCells returns the assignments of the newest cached load of
// subsetID together with its load id.
func (c *Cache) LatestQuotaCells(ctx context.Context, subsetID string) (map[int]int, string, error) {
	loadID, err := c.client.Get(ctx, c.latestKey(subsetID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", fmt.Errorf("%w for subset %s", ErrNoLoad, subsetID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("redis_quota_cells_latest_failed: %w", err)
	}
	raw, err := c.client.HGetAll(ctx, c.loadKey(subsetID, loadID)).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis_quota_cells_get_failed: %w", err)
	}
	out := make(map[int]int, len(raw))
	for k, v := range raw {
		respondent, err := strconv.Atoi(k)
		if err != nil {
			return nil, "", fmt.Errorf("decode respondent id %q: %w", k, err)
		}
		cell, err := strconv.Atoi(v)
		if err != nil {
			return nil, "", fmt.Errorf("decode cell id %q: %w", v, err)
		}
		out[respondent] = cell
	}
	return out, loadID, nil
}
