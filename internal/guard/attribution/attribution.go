// Package attribution resolves which account caused an administrative event
// from the platform audit trail.
package attribution

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-guard-bot/internal/platform"
)

// Outcome of an attribution attempt
type Outcome int

const (
	NotFound Outcome = iota
	Attributed
)

func (o Outcome) String() string {
	if o == Attributed {
		return "attributed"
	}
	return "not_found"
}

// Actor is the account an event was attributed to
type Actor struct {
	ID  string
	Tag string
}

// Result is Attributed with an Actor, or NotFound
type Result struct {
	Outcome Outcome
	Actor   Actor
	Entry   platform.AuditEntry
}

// Found reports whether an actor was attributed
func (r Result) Found() bool {
	return r.Outcome == Attributed
}

// Query describes the audit entry expected for an event
type Query struct {
	GuildID    string
	Action     discordgo.AuditLogAction
	TargetID   string // when set, the entry must be about this target
	ObservedAt time.Time
}

// AuditSource is the part of the platform client attribution needs
type AuditSource interface {
	FetchAuditEntries(ctx context.Context, guildID string, action discordgo.AuditLogAction, limit int) ([]platform.AuditEntry, error)
}

// Attributor looks at the single most recent audit entry of the expected
// kind. Audit entries appear asynchronously, so a miss is a normal outcome.
type Attributor struct {
	source AuditSource
	maxAge time.Duration
	logger *zap.Logger
}

// New creates an Attributor. Entries older than maxAge relative to the
// event are ignored; zero disables the age check.
func New(source AuditSource, maxAge time.Duration, logger *zap.Logger) *Attributor {
	return &Attributor{source: source, maxAge: maxAge, logger: logger}
}

// Attribute never returns an error: failures to read the audit trail are
// reported as NotFound.
func (a *Attributor) Attribute(ctx context.Context, q Query) Result {
	entries, err := a.source.FetchAuditEntries(ctx, q.GuildID, q.Action, 1)
	if err != nil {
		a.logger.Debug("audit fetch failed",
			zap.String("guild_id", q.GuildID), zap.Int("action", int(q.Action)), zap.Error(err))
		return Result{Outcome: NotFound}
	}
	if len(entries) == 0 {
		return Result{Outcome: NotFound}
	}

	entry := entries[0]
	if entry.Action != q.Action || entry.ActorID == "" {
		return Result{Outcome: NotFound}
	}
	if q.TargetID != "" && entry.TargetID != q.TargetID {
		return Result{Outcome: NotFound}
	}
	if a.maxAge > 0 && !q.ObservedAt.IsZero() && q.ObservedAt.Sub(entry.CreatedAt) > a.maxAge {
		return Result{Outcome: NotFound}
	}

	return Result{
		Outcome: Attributed,
		Actor:   Actor{ID: entry.ActorID, Tag: entry.ActorTag},
		Entry:   entry,
	}
}
