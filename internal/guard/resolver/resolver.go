// Package resolver turns an observed administrative event into exactly one
// terminal outcome: ignored, responded to, or escalated to the emergency
// responder.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"discord-guard-bot/internal/guard/attribution"
	"discord-guard-bot/internal/guard/emergency"
	"discord-guard-bot/internal/guard/gate"
	"discord-guard-bot/internal/guard/massdelete"
	"discord-guard-bot/internal/guard/ratewindow"
	"discord-guard-bot/internal/metrics"
	"discord-guard-bot/internal/models"
	"discord-guard-bot/internal/platform"
)

// Outcome is the terminal state of one handled event
type Outcome int

const (
	Ignored Outcome = iota
	Disabled
	Unattributed
	Authorized
	Observed
	Responded
	Escalated
)

func (o Outcome) String() string {
	switch o {
	case Disabled:
		return "disabled"
	case Unattributed:
		return "attribution_miss"
	case Authorized:
		return "authorized"
	case Observed:
		return "observed"
	case Responded:
		return "responded"
	case Escalated:
		return "escalated"
	default:
		return "ignored"
	}
}

// UnknownCount marks an event that carries no live channel count
const UnknownCount = -1

// Event is one administrative event as the platform reported it
type Event struct {
	GuildID    string
	Kind       models.Action
	Target     models.Target
	ObservedAt time.Time

	// Actor is set when the platform already names who acted (message
	// authors); otherwise the audit trail is consulted.
	Actor *attribution.Actor

	ChannelID string
	MessageID string

	Channel   *platform.Channel // snapshot of a deleted channel
	LiveCount int               // channels left after a deletion, or UnknownCount
	Previous  string            // value before the change, e.g. the old vanity code
	Detail    string            // appended to the record reason
}

// Gate is the authorization surface the resolver needs
type Gate interface {
	IsGuardEnabled(ctx context.Context, guildID string, g models.Guard) bool
	Authorize(ctx context.Context, guildID, actorID string) gate.Decision
	Profile(ctx context.Context, guildID string) (*models.GuardProfile, error)
}

type Attributor interface {
	Attribute(ctx context.Context, q attribution.Query) attribution.Result
}

type Emergency interface {
	Activate(ctx context.Context, guildID, trigger string) (emergency.Report, error)
}

type Recorder interface {
	Append(ctx context.Context, rec models.IncidentRecord) (*models.IncidentRecord, error)
}

// Deps wires a resolver. Mass may be nil when no policy needs it.
type Deps struct {
	Client     platform.Client
	Gate       Gate
	Attributor Attributor
	Window     *ratewindow.Window
	Mass       *massdelete.Detector
	Emergency  Emergency
	Log        Recorder
	Worker     string

	// AfterEscalate runs once the emergency response for a guild returned
	AfterEscalate func(ctx context.Context, guildID string)
}

type Resolver struct {
	Deps
	policies map[models.Action]Policy
	handled  *entrySet
	logger   *zap.Logger
	now      func() time.Time
}

func New(deps Deps, policies map[models.Action]Policy, logger *zap.Logger) *Resolver {
	return &Resolver{
		Deps:     deps,
		policies: policies,
		handled:  newEntrySet(),
		logger:   logger,
		now:      time.Now,
	}
}

// Policy returns the policy registered for kind
func (r *Resolver) Policy(kind models.Action) (Policy, bool) {
	p, ok := r.policies[kind]
	return p, ok
}

// Handle runs ev through the guard pipeline and returns its terminal state
func (r *Resolver) Handle(ctx context.Context, ev Event) Outcome {
	p, ok := r.policies[ev.Kind]
	if !ok {
		r.logger.Debug("no policy for event", zap.String("kind", string(ev.Kind)))
		return Ignored
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = r.now()
	}

	start := time.Now()
	metrics.EventsTotal.WithLabelValues(r.Worker, string(ev.Kind)).Inc()

	out := r.handle(ctx, ev, p)

	metrics.ObserveSince(metrics.HandleDuration.WithLabelValues(string(ev.Kind)), start)
	metrics.DecisionsTotal.WithLabelValues(string(ev.Kind), out.String()).Inc()
	return out
}

func (r *Resolver) handle(ctx context.Context, ev Event, p Policy) Outcome {
	log := r.logger.With(zap.String("guild_id", ev.GuildID), zap.String("kind", string(ev.Kind)))

	if !r.Gate.IsGuardEnabled(ctx, ev.GuildID, p.Guard) {
		return Disabled
	}

	var res attribution.Result
	if ev.Actor != nil {
		res = attribution.Result{Outcome: attribution.Attributed, Actor: *ev.Actor}
	} else {
		q := attribution.Query{GuildID: ev.GuildID, Action: p.AuditAction, ObservedAt: ev.ObservedAt}
		if p.MatchTarget {
			q.TargetID = ev.Target.ID
		}
		res = r.Attributor.Attribute(ctx, q)
	}
	if !res.Found() {
		return Unattributed
	}
	log = log.With(zap.String("actor_id", res.Actor.ID))

	if ev.Actor == nil && p.OncePerEntry && res.Entry.ID != "" {
		if !r.handled.claim(ev.GuildID+":"+string(ev.Kind)+":"+res.Entry.ID, r.now()) {
			log.Debug("audit entry already handled", zap.String("entry_id", res.Entry.ID))
			return Ignored
		}
	}

	if d := r.Gate.Authorize(ctx, ev.GuildID, res.Actor.ID); d.Allowed() {
		log.Debug("actor authorized")
		return Authorized
	}

	if p.MassCheck && r.Mass != nil && ev.LiveCount != UnknownCount {
		if fired, dropped := r.Mass.OnDestroy(ev.GuildID, ev.LiveCount); fired {
			log.Warn("mass deletion detected", zap.Int("dropped", dropped))
			r.escalate(ctx, log, ev, p, res.Actor, models.ActionMassDelete, "mass_delete", dropped)
			return Escalated
		}
	}

	if p.Threshold > 0 {
		key := ratewindow.Key{GuildID: ev.GuildID, ActorID: res.Actor.ID, Kind: ev.Kind}
		count := r.Window.Touch(key, ev.ObservedAt, p.Window)
		if count >= p.Threshold {
			r.Window.Clear(key)
			log.Warn("rate threshold reached", zap.Int("count", count), zap.Duration("window", p.Window))
			r.escalate(ctx, log, ev, p, res.Actor, models.ActionRaidDetected, "rate", count)
			return Escalated
		}
	}

	if p.EscalateOnly {
		return Observed
	}

	r.respond(ctx, log, ev, p, res.Actor)
	return Responded
}

func (r *Resolver) escalate(ctx context.Context, log *zap.Logger, ev Event, p Policy, actor attribution.Actor, action models.Action, trigger string, count int) {
	if p.BeforeEscalate != nil {
		if err := p.BeforeEscalate(ctx, r.Client, ev, actor); err != nil {
			metrics.MutationFailures.WithLabelValues("pre_escalate").Inc()
			log.Warn("pre-escalation step failed", zap.Error(err))
		}
	}

	reason := fmt.Sprintf("%s: %d %s actions", p.Reason, count, ev.Kind)
	rep, err := r.Emergency.Activate(ctx, ev.GuildID, trigger)
	switch {
	case errors.Is(err, emergency.ErrInFlight):
		log.Info("emergency response already running")
		reason += "; response already in flight"
	case err != nil:
		log.Error("emergency response failed", zap.Error(err))
		reason += "; response failed"
	default:
		reason += fmt.Sprintf("; %d banned, %d channels locked", rep.Banned(), rep.LockedChannels)
	}

	if r.AfterEscalate != nil {
		r.AfterEscalate(ctx, ev.GuildID)
	}

	rec := models.IncidentRecord{
		GuildID:  ev.GuildID,
		Action:   action,
		Executor: models.Executor{ID: actor.ID, Tag: actor.Tag},
		Target:   ev.Target,
		Reason:   reason,
		AntiRaid: models.AntiRaid{
			IsRaidAction:    true,
			RaidID:          uuid.NewString(),
			MassActionCount: count,
		},
	}
	if _, err := r.Log.Append(ctx, rec); err != nil {
		log.Error("failed to record escalation", zap.Error(err))
	}
}

func (r *Resolver) respond(ctx context.Context, log *zap.Logger, ev Event, p Policy, actor attribution.Actor) {
	if p.Revert != nil {
		if err := p.Revert(ctx, r.Client, ev, actor); err != nil {
			metrics.MutationFailures.WithLabelValues("revert").Inc()
			log.Warn("revert failed", zap.Error(err))
		}
	}

	outcome := r.punish(ctx, log, ev, p, actor)

	reason := p.Reason
	if ev.Detail != "" {
		reason += ": " + ev.Detail
	}
	rec := models.IncidentRecord{
		GuildID:    ev.GuildID,
		Action:     ev.Kind,
		Executor:   models.Executor{ID: actor.ID, Tag: actor.Tag},
		Target:     ev.Target,
		Reason:     reason,
		Punishment: outcome,
	}
	if _, err := r.Log.Append(ctx, rec); err != nil {
		log.Error("failed to record incident", zap.Error(err))
	}
}

func (r *Resolver) punish(ctx context.Context, log *zap.Logger, ev Event, p Policy, actor attribution.Actor) models.PunishmentOutcome {
	profile, err := r.Gate.Profile(ctx, ev.GuildID)
	if err != nil {
		log.Debug("profile unavailable, using default punishment", zap.Error(err))
	}

	kind := profile.Punishment()
	timeout := profile.Timeout()
	if p.Punishment != "" {
		kind = p.Punishment
	}
	if p.TimeoutDuration > 0 {
		timeout = p.TimeoutDuration
	}

	reason := "guard: " + p.Reason
	switch kind {
	case models.PunishmentKick:
		err = r.Client.Kick(ctx, ev.GuildID, actor.ID, reason)
	case models.PunishmentTimeout:
		err = r.Client.Timeout(ctx, ev.GuildID, actor.ID, timeout, reason)
	case models.PunishmentWarn:
		err = r.Client.Warn(ctx, ev.GuildID, actor.ID, reason)
	default:
		kind = models.PunishmentBan
		err = r.Client.Ban(ctx, ev.GuildID, actor.ID, reason)
	}

	out := models.PunishmentOutcome{Applied: true, Type: kind, Success: err == nil}
	if err != nil {
		out.Error = err.Error()
		metrics.MutationFailures.WithLabelValues("punish").Inc()
		log.Warn("punishment failed", zap.String("punishment", string(kind)), zap.Error(err))
	}
	return out
}
