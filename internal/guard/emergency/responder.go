// Package emergency runs the guild-wide raid response: ban recent joiners,
// ban recent destructive actors, then lock every text and voice channel.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"discord-guard-bot/internal/metrics"
	"discord-guard-bot/internal/platform"
)

// ErrInFlight is returned when a response for the guild is already running
var ErrInFlight = errors.New("emergency response already in flight")

const (
	ReasonRecentJoin = "anti-raid: suspicious recent join"
	ReasonActivity   = "anti-raid: suspicious activity"
	ReasonLockdown   = "anti-raid: emergency lockdown"

	DefaultAllowPattern = `(?i)henzy|guard`
)

// Authorizer is the subset of the gate the responder needs
type Authorizer interface {
	IsOwner(guildID, actorID string) bool
	IsTrusted(actorID string) bool
	IsAuthorized(ctx context.Context, guildID, actorID string) bool
}

// Locker is a cross-process lock, normally Redis
type Locker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

type Config struct {
	JoinWindow   time.Duration // members joined within this are banned (default 10m)
	AuditLimit   int           // audit entries scanned (default 50)
	AuditWindow  time.Duration // audit entries older than this are ignored (default 5m)
	AllowPattern string        // member names matching this are never banned
	BanRate      rate.Limit    // bans per second (default 5)
	BanBurst     int
	LockTTL      time.Duration // lifetime of the cross-process lock, renewed while running (default 2m)
}

func (c *Config) applyDefaults() {
	if c.JoinWindow <= 0 {
		c.JoinWindow = 10 * time.Minute
	}
	if c.AuditLimit <= 0 {
		c.AuditLimit = 50
	}
	if c.AuditWindow <= 0 {
		c.AuditWindow = 5 * time.Minute
	}
	if c.AllowPattern == "" {
		c.AllowPattern = DefaultAllowPattern
	}
	if c.BanRate == 0 {
		c.BanRate = 5
	}
	if c.BanBurst <= 0 {
		c.BanBurst = 5
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
}

// Report summarizes one activation
type Report struct {
	GuildID        string
	Trigger        string
	JoinBans       int
	ActorBans      int
	LockedChannels int
	Failures       int
	StartedAt      time.Time
	Duration       time.Duration
}

// Banned is the total number of members banned
func (r Report) Banned() int {
	return r.JoinBans + r.ActorBans
}

// destructive audit actions considered in the actor scan
var destructive = map[discordgo.AuditLogAction]struct{}{
	discordgo.AuditLogActionChannelDelete: {},
	discordgo.AuditLogActionRoleDelete:    {},
	discordgo.AuditLogActionMemberBanAdd:  {},
}

type Responder struct {
	client  platform.Client
	auth    Authorizer
	locker  Locker
	cfg     Config
	allow   *regexp.Regexp
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time

	inFlight sync.Map // guildID -> struct{}
}

// New builds a responder. locker may be nil for a process-local flag only.
func New(client platform.Client, auth Authorizer, locker Locker, cfg Config, logger *zap.Logger) (*Responder, error) {
	cfg.applyDefaults()
	allow, err := regexp.Compile(cfg.AllowPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid allow pattern %q: %w", cfg.AllowPattern, err)
	}
	return &Responder{
		client:  client,
		auth:    auth,
		locker:  locker,
		cfg:     cfg,
		allow:   allow,
		limiter: rate.NewLimiter(cfg.BanRate, cfg.BanBurst),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Activate runs the three response steps for guildID in order. Each step is
// best-effort; a failed item is counted and the sequence continues. Once
// started it runs to completion even if ctx is cancelled.
func (r *Responder) Activate(ctx context.Context, guildID, trigger string) (Report, error) {
	if _, busy := r.inFlight.LoadOrStore(guildID, struct{}{}); busy {
		metrics.EmergencyActivations.WithLabelValues("skipped_in_flight").Inc()
		return Report{}, ErrInFlight
	}
	defer r.inFlight.Delete(guildID)

	ctx = context.WithoutCancel(ctx)

	if r.locker != nil {
		key := "guard:emergency:" + guildID
		token := uuid.NewString()
		ok, err := r.locker.TryLock(ctx, key, token, r.cfg.LockTTL)
		switch {
		case err != nil:
			r.logger.Warn("emergency lock unavailable, continuing with local flag",
				zap.String("guild_id", guildID), zap.Error(err))
		case !ok:
			metrics.EmergencyActivations.WithLabelValues("skipped_in_flight").Inc()
			return Report{}, ErrInFlight
		default:
			stop := r.keepLock(ctx, guildID, key, token)
			defer func() {
				stop()
				if err := r.locker.Unlock(ctx, key, token); err != nil {
					r.logger.Debug("emergency unlock failed", zap.String("guild_id", guildID), zap.Error(err))
				}
			}()
		}
	}

	metrics.EmergencyActivations.WithLabelValues(trigger).Inc()
	rep := Report{GuildID: guildID, Trigger: trigger, StartedAt: r.now()}
	r.logger.Warn("emergency response activated", zap.String("guild_id", guildID), zap.String("trigger", trigger))

	banned := make(map[string]struct{})
	r.banRecentJoins(ctx, guildID, &rep, banned)
	r.banRecentActors(ctx, guildID, &rep, banned)
	r.lockChannels(ctx, guildID, &rep)

	rep.Duration = r.now().Sub(rep.StartedAt)
	r.logger.Warn("emergency response finished",
		zap.String("guild_id", guildID),
		zap.Int("join_bans", rep.JoinBans),
		zap.Int("actor_bans", rep.ActorBans),
		zap.Int("locked_channels", rep.LockedChannels),
		zap.Int("failures", rep.Failures),
		zap.Duration("took", rep.Duration))
	return rep, nil
}

// keepLock renews the cross-process lock every third of its ttl until the
// returned stop func is called
func (r *Responder) keepLock(ctx context.Context, guildID, key, token string) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(r.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				held, err := r.locker.Extend(ctx, key, token, r.cfg.LockTTL)
				switch {
				case err != nil:
					r.logger.Warn("emergency lock renewal failed", zap.String("guild_id", guildID), zap.Error(err))
				case !held:
					r.logger.Warn("emergency lock lost", zap.String("guild_id", guildID))
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// exempt is true for members the raid sweep must never ban
func (r *Responder) exempt(ctx context.Context, guildID string, m platform.Member) bool {
	if r.auth.IsOwner(guildID, m.ID) || r.auth.IsTrusted(m.ID) {
		return true
	}
	if r.allow.MatchString(m.Username) || (m.DisplayName != "" && r.allow.MatchString(m.DisplayName)) {
		return true
	}
	return r.auth.IsAuthorized(ctx, guildID, m.ID)
}

func (r *Responder) banRecentJoins(ctx context.Context, guildID string, rep *Report, banned map[string]struct{}) {
	members, err := r.client.ListMembers(ctx, guildID)
	if err != nil {
		rep.Failures++
		metrics.MutationFailures.WithLabelValues("emergency_list_members").Inc()
		r.logger.Error("emergency: list members failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}

	cutoff := r.now().Add(-r.cfg.JoinWindow)
	for _, m := range members {
		if m.JoinedAt.IsZero() || m.JoinedAt.Before(cutoff) {
			continue
		}
		if r.exempt(ctx, guildID, m) {
			continue
		}
		if r.ban(ctx, guildID, m.ID, ReasonRecentJoin, rep) {
			rep.JoinBans++
			banned[m.ID] = struct{}{}
			metrics.EmergencyBans.WithLabelValues("recent_join").Inc()
		}
	}
}

func (r *Responder) banRecentActors(ctx context.Context, guildID string, rep *Report, banned map[string]struct{}) {
	entries, err := r.client.FetchAuditEntries(ctx, guildID, platform.AnyAction, r.cfg.AuditLimit)
	if err != nil {
		rep.Failures++
		metrics.MutationFailures.WithLabelValues("emergency_audit").Inc()
		r.logger.Error("emergency: audit fetch failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}

	cutoff := r.now().Add(-r.cfg.AuditWindow)
	seen := make(map[string]struct{})
	for _, e := range entries {
		if _, ok := destructive[e.Action]; !ok {
			continue
		}
		if e.ActorID == "" || e.CreatedAt.Before(cutoff) {
			continue
		}
		if _, dup := seen[e.ActorID]; dup {
			continue
		}
		seen[e.ActorID] = struct{}{}
		if _, done := banned[e.ActorID]; done {
			continue
		}
		if r.auth.IsOwner(guildID, e.ActorID) || r.auth.IsTrusted(e.ActorID) || r.auth.IsAuthorized(ctx, guildID, e.ActorID) {
			continue
		}
		if r.ban(ctx, guildID, e.ActorID, ReasonActivity, rep) {
			rep.ActorBans++
			banned[e.ActorID] = struct{}{}
			metrics.EmergencyBans.WithLabelValues("recent_actor").Inc()
		}
	}
}

func (r *Responder) ban(ctx context.Context, guildID, userID, reason string, rep *Report) bool {
	if err := r.limiter.Wait(ctx); err != nil {
		rep.Failures++
		return false
	}
	if err := r.client.Ban(ctx, guildID, userID, reason); err != nil {
		rep.Failures++
		metrics.MutationFailures.WithLabelValues("emergency_ban").Inc()
		r.logger.Warn("emergency: ban failed",
			zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return true
}

func (r *Responder) lockChannels(ctx context.Context, guildID string, rep *Report) {
	channels, err := r.client.ListChannels(ctx, guildID)
	if err != nil {
		rep.Failures++
		metrics.MutationFailures.WithLabelValues("emergency_list_channels").Inc()
		r.logger.Error("emergency: list channels failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}

	// @everyone shares the guild's id
	for _, ch := range channels {
		if !ch.IsLockable() {
			continue
		}
		if err := r.client.SetChannelPermissions(ctx, ch.ID, guildID, 0, platform.LockdownDeny, ReasonLockdown); err != nil {
			rep.Failures++
			metrics.MutationFailures.WithLabelValues("emergency_lock").Inc()
			r.logger.Warn("emergency: lock failed",
				zap.String("guild_id", guildID), zap.String("channel_id", ch.ID), zap.Error(err))
			continue
		}
		rep.LockedChannels++
		metrics.LockedChannels.Inc()
	}
}
