package enricher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Cache stores lookup outcomes keyed by track identity.
// A cached zero Enrichment records a "not found" answer.
type Cache interface {
	Get(ctx context.Context, key domain.TrackIdentity) (domain.Enrichment, bool)
	Set(ctx context.Context, key domain.TrackIdentity, value domain.Enrichment)
}

// MemoryCache is an in-process LRU with per-entry expiry
type MemoryCache struct {
	lru *expirable.LRU[domain.TrackIdentity, domain.Enrichment]
}

// NewMemoryCache creates an LRU holding up to size entries for ttl
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[domain.TrackIdentity, domain.Enrichment](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key domain.TrackIdentity) (domain.Enrichment, bool) {
	return c.lru.Get(key)
}

func (c *MemoryCache) Set(_ context.Context, key domain.TrackIdentity, value domain.Enrichment) {
	c.lru.Add(key, value)
}

// Len returns the number of live entries
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

const redisKeyPrefix = "podlink:enrich:"

// RedisCache shares lookup outcomes between hosts through Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions configures the Redis cache
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client, ttl: opts.TTL}, nil
}

func (c *RedisCache) Get(ctx context.Context, key domain.TrackIdentity) (domain.Enrichment, bool) {
	data, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		return domain.Enrichment{}, false
	}
	var value domain.Enrichment
	if err := json.Unmarshal(data, &value); err != nil {
		return domain.Enrichment{}, false
	}
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key domain.TrackIdentity, value domain.Enrichment) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, redisKey(key), data, c.ttl).Err()
}

// Close releases the Redis connection pool
func (c *RedisCache) Close() error {
	if err := c.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

func redisKey(key domain.TrackIdentity) string {
	return redisKeyPrefix + strings.ToLower(string(key))
}
