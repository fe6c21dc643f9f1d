package commands

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const cooldownPrefix = "guard:cooldown:"

// KeySetter is the shared store behind a cooldown, normally Redis
type KeySetter interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
}

// Cooldown limits each user to one call of a command per period. With a
// shared store every worker process sees the same cooldowns; when the store
// fails the local map decides.
type Cooldown struct {
	period time.Duration
	shared KeySetter
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	local map[string]time.Time
}

// NewCooldown creates a cooldown. shared may be nil.
func NewCooldown(period time.Duration, shared KeySetter, logger *zap.Logger) *Cooldown {
	return &Cooldown{
		period: period,
		shared: shared,
		logger: logger,
		now:    time.Now,
		local:  make(map[string]time.Time),
	}
}

// Allow reports whether userID may run command now, starting a new period if so
func (c *Cooldown) Allow(ctx context.Context, userID, command string) bool {
	key := cooldownPrefix + command + ":" + userID
	if c.shared != nil {
		ok, err := c.shared.SetNX(ctx, key, 1, c.period)
		if err == nil {
			return ok
		}
		c.logger.Warn("shared cooldown unavailable, using local", zap.Error(err))
	}
	return c.allowLocal(key)
}

func (c *Cooldown) allowLocal(key string) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if until, ok := c.local[key]; ok && now.Before(until) {
		return false
	}
	c.local[key] = now.Add(c.period)

	// drop expired entries so the map stays bounded by active users
	if len(c.local) > 1024 {
		for k, until := range c.local {
			if !now.Before(until) {
				delete(c.local, k)
			}
		}
	}
	return true
}
