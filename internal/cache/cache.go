package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"discord-guard-bot/internal/models"
	"discord-guard-bot/internal/redis"
)

// InvalidationChannel carries guild ids whose profile changed
const InvalidationChannel = "guard:profile:invalidate"

const keyPrefix = "guard:profile:"

// ProfileStore is the source of truth behind the cache
type ProfileStore interface {
	GetOrCreateProfile(ctx context.Context, guildID, ownerID string) (*models.GuardProfile, error)
}

// OwnerLookup supplies the owner recorded on a freshly created profile
type OwnerLookup func(ctx context.Context, guildID string) string

// ProfileCache is a multi-layer cache for guard profiles: L1 in-memory
// (ristretto), L2 Redis, L3 the store, with singleflight on L3.
// Returned profiles are shared and must not be modified.
type ProfileCache struct {
	l1           *ristretto.Cache
	l2           *redis.Client
	store        ProfileStore
	owner        OwnerLookup
	singleflight singleflight.Group
	ttl          time.Duration
	logger       *zap.Logger

	// Metrics
	l1Hits   atomic.Uint64
	l1Misses atomic.Uint64
	l2Hits   atomic.Uint64
	l2Misses atomic.Uint64
}

// Config for cache initialization
type Config struct {
	L1MaxCost     int64         // Max number of profiles held in L1 (default: 10k)
	L1NumCounters int64         // Number of keys to track frequency (default: 100k)
	TTL           time.Duration // TTL for both layers (default: 30s)
}

// New creates a profile cache. l2 may be nil, in which case only L1 is used.
func New(store ProfileStore, l2 *redis.Client, owner OwnerLookup, cfg Config, logger *zap.Logger) (*ProfileCache, error) {
	if cfg.L1MaxCost == 0 {
		cfg.L1MaxCost = 10_000
	}
	if cfg.L1NumCounters == 0 {
		cfg.L1NumCounters = 100_000
	}
	if cfg.TTL == 0 {
		cfg.TTL = 30 * time.Second
	}
	if owner == nil {
		owner = func(context.Context, string) string { return "" }
	}

	l1, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.L1NumCounters,
		MaxCost:     cfg.L1MaxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create L1 cache: %w", err)
	}

	return &ProfileCache{
		l1:     l1,
		l2:     l2,
		store:  store,
		owner:  owner,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func key(guildID string) string {
	return keyPrefix + guildID
}

// Get returns the guild's profile, creating the default one in the store if
// none exists yet.
func (c *ProfileCache) Get(ctx context.Context, guildID string) (*models.GuardProfile, error) {
	if p, ok := c.Peek(guildID); ok {
		c.l1Hits.Add(1)
		return p, nil
	}
	c.l1Misses.Add(1)

	if c.l2 != nil {
		if p, err := c.getL2(ctx, guildID); err == nil {
			c.l2Hits.Add(1)
			c.l1.SetWithTTL(key(guildID), p, 1, c.ttl)
			return p, nil
		} else if !errors.Is(err, redis.ErrMiss) {
			c.logger.Debug("profile L2 read failed", zap.String("guild_id", guildID), zap.Error(err))
		}
		c.l2Misses.Add(1)
	}

	val, err, _ := c.singleflight.Do(guildID, func() (interface{}, error) {
		return c.store.GetOrCreateProfile(ctx, guildID, c.owner(ctx, guildID))
	})
	if err != nil {
		return nil, err
	}
	p := val.(*models.GuardProfile)

	c.set(ctx, p)
	return p, nil
}

// Peek returns the profile only if it is already in L1
func (c *ProfileCache) Peek(guildID string) (*models.GuardProfile, bool) {
	val, found := c.l1.Get(key(guildID))
	if !found {
		return nil, false
	}
	p, ok := val.(*models.GuardProfile)
	return p, ok
}

func (c *ProfileCache) getL2(ctx context.Context, guildID string) (*models.GuardProfile, error) {
	raw, err := c.l2.Get(ctx, key(guildID))
	if err != nil {
		return nil, err
	}
	var p models.GuardProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode cached profile: %w", err)
	}
	return &p, nil
}

func (c *ProfileCache) set(ctx context.Context, p *models.GuardProfile) {
	c.l1.SetWithTTL(key(p.GuildID), p, 1, c.ttl)

	if c.l2 == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.l2.Set(ctx, key(p.GuildID), raw, c.ttl); err != nil {
		c.logger.Debug("profile L2 write failed", zap.String("guild_id", p.GuildID), zap.Error(err))
	}
}

// Invalidate drops the guild's profile from every layer and tells the other
// workers to do the same.
func (c *ProfileCache) Invalidate(ctx context.Context, guildID string) error {
	c.l1.Del(key(guildID))
	if c.l2 == nil {
		return nil
	}
	return c.l2.Pipeline(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key(guildID))
		pipe.Publish(ctx, InvalidationChannel, guildID)
		return nil
	})
}

// Watch evicts L1 entries announced on the invalidation channel until ctx
// is done. Without Redis it just waits for ctx.
func (c *ProfileCache) Watch(ctx context.Context) error {
	if c.l2 == nil {
		<-ctx.Done()
		return nil
	}
	return c.l2.Subscribe(ctx, InvalidationChannel, func(guildID string) {
		c.l1.Del(key(guildID))
		c.logger.Debug("profile invalidated", zap.String("guild_id", guildID))
	})
}

// Wait blocks until pending L1 writes are applied
func (c *ProfileCache) Wait() {
	c.l1.Wait()
}

// GetMetrics returns cache performance metrics
func (c *ProfileCache) GetMetrics() Metrics {
	l1Total := c.l1Hits.Load() + c.l1Misses.Load()
	l2Total := c.l2Hits.Load() + c.l2Misses.Load()

	var l1HitRate, l2HitRate float64
	if l1Total > 0 {
		l1HitRate = float64(c.l1Hits.Load()) / float64(l1Total)
	}
	if l2Total > 0 {
		l2HitRate = float64(c.l2Hits.Load()) / float64(l2Total)
	}

	return Metrics{
		L1Hits:        c.l1Hits.Load(),
		L1Misses:      c.l1Misses.Load(),
		L1HitRate:     l1HitRate,
		L2Hits:        c.l2Hits.Load(),
		L2Misses:      c.l2Misses.Load(),
		L2HitRate:     l2HitRate,
		L1KeysAdded:   c.l1.Metrics.KeysAdded(),
		L1KeysEvicted: c.l1.Metrics.KeysEvicted(),
	}
}

// Metrics holds cache performance data
type Metrics struct {
	L1Hits        uint64
	L1Misses      uint64
	L1HitRate     float64
	L2Hits        uint64
	L2Misses      uint64
	L2HitRate     float64
	L1KeysAdded   uint64
	L1KeysEvicted uint64
}

// Close gracefully shuts down the cache
func (c *ProfileCache) Close() {
	c.l1.Close()
}
