// Package gate answers whether a guard is active for a guild and whether an
// actor may perform guarded actions there.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"discord-guard-bot/internal/database"
	"discord-guard-bot/internal/metrics"
	"discord-guard-bot/internal/models"
)

// Decision is the outcome of an authorization check
type Decision int

const (
	Denied Decision = iota
	Authorized
	TimedOut
)

func (d Decision) String() string {
	switch d {
	case Authorized:
		return "authorized"
	case TimedOut:
		return "timed_out"
	default:
		return "denied"
	}
}

// Allowed is true only for Authorized. A timeout never grants access.
func (d Decision) Allowed() bool {
	return d == Authorized
}

// Profiles is the guard profile source, normally the profile cache
type Profiles interface {
	Get(ctx context.Context, guildID string) (*models.GuardProfile, error)
	Peek(guildID string) (*models.GuardProfile, bool)
}

// WhitelistStore looks up a single entry; a missing entry is database.ErrNotFound
type WhitelistStore interface {
	FindWhitelistEntry(ctx context.Context, guildID, userID string) (*models.WhitelistEntry, error)
}

// BreakerConfig controls the circuit breaker around whitelist lookups
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

type Config struct {
	LookupTimeout time.Duration
	OwnerID       string   // bootstrap-configured owner, authorized in every guild
	TrustedIDs    []string // the engine's own accounts
	Breaker       BreakerConfig
}

// Gate is shared by every resolver in a worker
type Gate struct {
	profiles  Profiles
	whitelist WhitelistStore
	breaker   *gobreaker.CircuitBreaker[*models.WhitelistEntry]
	timeout   time.Duration
	ownerID   string
	trusted   map[string]struct{}
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	owners map[string]string // guild -> owner reported by the platform
}

func New(profiles Profiles, whitelist WhitelistStore, cfg Config, logger *zap.Logger) *Gate {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.Timeout == 0 {
		cfg.Breaker.Timeout = 10 * time.Second
	}

	g := &Gate{
		profiles:  profiles,
		whitelist: whitelist,
		timeout:   cfg.LookupTimeout,
		ownerID:   cfg.OwnerID,
		trusted:   make(map[string]struct{}, len(cfg.TrustedIDs)),
		logger:    logger,
		now:       time.Now,
		owners:    make(map[string]string),
	}
	for _, id := range cfg.TrustedIDs {
		if id != "" {
			g.trusted[id] = struct{}{}
		}
	}

	g.breaker = gobreaker.NewCircuitBreaker[*models.WhitelistEntry](gobreaker.Settings{
		Name:        "whitelist",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, database.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("whitelist breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return g
}

// SetGuildOwner records the owner the platform reported for a guild
func (g *Gate) SetGuildOwner(guildID, ownerID string) {
	if ownerID == "" {
		return
	}
	g.mu.Lock()
	g.owners[guildID] = ownerID
	g.mu.Unlock()
}

// GuildOwner returns the best known owner without touching the store
func (g *Gate) GuildOwner(guildID string) string {
	g.mu.RLock()
	owner := g.owners[guildID]
	g.mu.RUnlock()
	if owner != "" {
		return owner
	}
	if p, ok := g.profiles.Peek(guildID); ok && p.OwnerID != "" {
		return p.OwnerID
	}
	return g.ownerID
}

// IsOwner reports whether actorID owns the guild. Never touches the store.
func (g *Gate) IsOwner(guildID, actorID string) bool {
	if actorID == "" {
		return false
	}
	if actorID == g.ownerID {
		return true
	}
	g.mu.RLock()
	owner := g.owners[guildID]
	g.mu.RUnlock()
	if actorID == owner {
		return true
	}
	if p, ok := g.profiles.Peek(guildID); ok && p.OwnerID == actorID {
		return true
	}
	return false
}

// IsTrusted reports whether actorID is one of the engine's own accounts
func (g *Gate) IsTrusted(actorID string) bool {
	_, ok := g.trusted[actorID]
	return ok
}

// IsGuardEnabled is false whenever the profile cannot be loaded
func (g *Gate) IsGuardEnabled(ctx context.Context, guildID string, guard models.Guard) bool {
	p, err := g.profiles.Get(ctx, guildID)
	if err != nil {
		g.logger.Warn("guard profile unavailable, treating guard as disabled",
			zap.String("guild_id", guildID), zap.String("guard", string(guard)), zap.Error(err))
		return false
	}
	return p.GuardEnabled(guard)
}

// Profile returns the guild's profile
func (g *Gate) Profile(ctx context.Context, guildID string) (*models.GuardProfile, error) {
	return g.profiles.Get(ctx, guildID)
}

type lookupResult struct {
	entry *models.WhitelistEntry
	err   error
}

// Authorize decides whether actorID may act in guildID. Owners and the
// engine's own accounts are authorized without a lookup. Everyone else needs
// an effective whitelist entry found before the lookup timeout.
func (g *Gate) Authorize(ctx context.Context, guildID, actorID string) Decision {
	d := g.authorize(ctx, guildID, actorID)
	metrics.AuthorizationTotal.WithLabelValues(d.String()).Inc()
	return d
}

func (g *Gate) authorize(ctx context.Context, guildID, actorID string) Decision {
	if g.IsOwner(guildID, actorID) || g.IsTrusted(actorID) {
		return Authorized
	}
	if actorID == "" {
		return Denied
	}

	lookupCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		entry, err := g.breaker.Execute(func() (*models.WhitelistEntry, error) {
			return g.whitelist.FindWhitelistEntry(lookupCtx, guildID, actorID)
		})
		done <- lookupResult{entry: entry, err: err}
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			if !errors.Is(r.err, database.ErrNotFound) {
				g.logger.Warn("whitelist lookup failed, denying",
					zap.String("guild_id", guildID), zap.String("actor_id", actorID), zap.Error(r.err))
			}
			return Denied
		}
		if r.entry.Effective(g.now()) {
			return Authorized
		}
		return Denied
	case <-timer.C:
		g.logger.Warn("whitelist lookup timed out, denying",
			zap.String("guild_id", guildID), zap.String("actor_id", actorID), zap.Duration("timeout", g.timeout))
		return TimedOut
	case <-ctx.Done():
		return TimedOut
	}
}

// IsAuthorized is Authorize collapsed to a bool
func (g *Gate) IsAuthorized(ctx context.Context, guildID, actorID string) bool {
	return g.Authorize(ctx, guildID, actorID).Allowed()
}
