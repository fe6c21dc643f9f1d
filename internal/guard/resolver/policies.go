package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-guard-bot/internal/guard/attribution"
	"discord-guard-bot/internal/models"
	"discord-guard-bot/internal/platform"
)

// Step is a platform mutation run on behalf of a policy
type Step func(ctx context.Context, c platform.Client, ev Event, actor attribution.Actor) error

// Policy is how one kind of event is attributed, rated and answered
type Policy struct {
	Guard       models.Guard
	AuditAction discordgo.AuditLogAction
	MatchTarget bool // the audit entry must name the event's target

	// OncePerEntry answers each audit entry once; reverting a webhook echoes
	// another update that resolves to the same entry.
	OncePerEntry bool

	// Threshold events within Window escalate. Zero disables rating.
	Threshold int
	Window    time.Duration
	MassCheck bool

	// EscalateOnly events get no single-incident response
	EscalateOnly   bool
	BeforeEscalate Step

	Revert          Step
	Punishment      models.PunishmentType // empty uses the profile's
	TimeoutDuration time.Duration
	Reason          string
}

const (
	DefaultThreshold = 3
	DefaultWindow    = 30 * time.Second

	FloodThreshold = 5
	FloodWindow    = 10 * time.Second
	floodScanLimit = 10
)

// Limits overrides the rate thresholds of the default policies
type Limits struct {
	Threshold      int
	Window         time.Duration
	FloodThreshold int
	FloodWindow    time.Duration
}

func (l *Limits) applyDefaults() {
	if l.Threshold <= 0 {
		l.Threshold = DefaultThreshold
	}
	if l.Window <= 0 {
		l.Window = DefaultWindow
	}
	if l.FloodThreshold <= 0 {
		l.FloodThreshold = FloodThreshold
	}
	if l.FloodWindow <= 0 {
		l.FloodWindow = FloodWindow
	}
}

var errNoSnapshot = errors.New("no snapshot of the deleted channel")

// DefaultPolicies returns the policy of every monitored action
func DefaultPolicies(l Limits) map[models.Action]Policy {
	l.applyDefaults()

	link := func(reason string, timeout time.Duration) Policy {
		return Policy{
			Guard:           models.GuardURL,
			Revert:          deleteMessage,
			Punishment:      models.PunishmentTimeout,
			TimeoutDuration: timeout,
			Reason:          reason,
		}
	}

	return map[models.Action]Policy{
		models.ActionChannelDelete: {
			Guard:       models.GuardChannel,
			AuditAction: discordgo.AuditLogActionChannelDelete,
			Threshold:   l.Threshold,
			Window:      l.Window,
			MassCheck:   true,
			Revert:      recreateChannel,
			Reason:      "unauthorized channel deletion",
		},
		models.ActionRoleDelete: {
			Guard:       models.GuardRole,
			AuditAction: discordgo.AuditLogActionRoleDelete,
			Threshold:   l.Threshold,
			Window:      l.Window,
			Reason:      "unauthorized role deletion",
		},
		models.ActionMemberBan: {
			Guard:       models.GuardBan,
			AuditAction: discordgo.AuditLogActionMemberBanAdd,
			MatchTarget: true,
			Threshold:   l.Threshold,
			Window:      l.Window,
			Revert:      unbanVictim,
			Reason:      "unauthorized ban",
		},
		models.ActionMemberKick: {
			Guard:       models.GuardKick,
			AuditAction: discordgo.AuditLogActionMemberKick,
			MatchTarget: true,
			Threshold:   l.Threshold,
			Window:      l.Window,
			Reason:      "unauthorized kick",
		},
		models.ActionEmojiCreate: {
			Guard:       models.GuardEmoji,
			AuditAction: discordgo.AuditLogActionEmojiCreate,
			MatchTarget: true,
			Threshold:   l.Threshold,
			Window:      l.Window,
			Revert:      deleteEmoji,
			Reason:      "unauthorized emoji creation",
		},
		models.ActionEmojiDelete: {
			Guard:       models.GuardEmoji,
			AuditAction: discordgo.AuditLogActionEmojiDelete,
			Threshold:   l.Threshold,
			Window:      l.Window,
			Reason:      "unauthorized emoji deletion",
		},
		models.ActionStickerCreate: {
			Guard:       models.GuardSticker,
			AuditAction: discordgo.AuditLogActionStickerCreate,
			MatchTarget: true,
			Threshold:   l.Threshold,
			Window:      l.Window,
			Revert:      deleteSticker,
			Reason:      "unauthorized sticker creation",
		},
		models.ActionStickerDelete: {
			Guard:       models.GuardSticker,
			AuditAction: discordgo.AuditLogActionStickerDelete,
			Threshold:   l.Threshold,
			Window:      l.Window,
			Reason:      "unauthorized sticker deletion",
		},
		models.ActionWebhookCreate: {
			Guard:        models.GuardWebhook,
			AuditAction:  discordgo.AuditLogActionWebhookCreate,
			OncePerEntry: true,
			Revert:       deleteWebhooks,
			Punishment:   models.PunishmentBan,
			Reason:       "unauthorized webhook",
		},
		models.ActionBotAdd: {
			Guard:       models.GuardBot,
			AuditAction: discordgo.AuditLogActionBotAdd,
			MatchTarget: true,
			Revert:      kickBot,
			Punishment:  models.PunishmentBan,
			Reason:      "unauthorized bot add",
		},
		models.ActionVanityChange: {
			Guard:           models.GuardVanity,
			AuditAction:     discordgo.AuditLogActionGuildUpdate,
			Revert:          restoreVanity,
			Punishment:      models.PunishmentTimeout,
			TimeoutDuration: 30 * time.Minute,
			Reason:          "vanity url change",
		},
		models.ActionMessageFlood: {
			Guard:          models.GuardSpam,
			Threshold:      l.FloodThreshold,
			Window:         l.FloodWindow,
			EscalateOnly:   true,
			BeforeEscalate: purgeFlood(l.FloodWindow),
			Reason:         "message flood",
		},
		models.ActionInviteLink:    link("invite link", 10*time.Minute),
		models.ActionSuspiciousURL: link("suspicious url", 5*time.Minute),
		models.ActionEditedInvite:  link("invite link added by edit", 15*time.Minute),
		models.ActionEditedURL:     link("suspicious url added by edit", 10*time.Minute),
	}
}

func recreateChannel(ctx context.Context, c platform.Client, ev Event, _ attribution.Actor) error {
	if ev.Channel == nil {
		return errNoSnapshot
	}
	if _, err := c.CreateChannel(ctx, ev.GuildID, *ev.Channel, "guard: restoring deleted channel"); err != nil {
		return fmt.Errorf("recreate channel %s: %w", ev.Channel.Name, err)
	}
	return nil
}

func unbanVictim(ctx context.Context, c platform.Client, ev Event, _ attribution.Actor) error {
	return c.Unban(ctx, ev.GuildID, ev.Target.ID, "guard: reverting unauthorized ban")
}

func deleteEmoji(ctx context.Context, c platform.Client, ev Event, _ attribution.Actor) error {
	return c.DeleteEmoji(ctx, ev.GuildID, ev.Target.ID, "guard: unauthorized emoji")
}

func deleteSticker(ctx context.Context, c platform.Client, ev Event, _ attribution.Actor) error {
	return c.DeleteSticker(ctx, ev.GuildID, ev.Target.ID, "guard: unauthorized sticker")
}

func kickBot(ctx context.Context, c platform.Client, ev Event, _ attribution.Actor) error {
	return c.Kick(ctx, ev.GuildID, ev.Target.ID, "guard: unauthorized bot")
}

func restoreVanity(ctx context.Context, c platform.Client, ev Event, _ attribution.Actor) error {
	if ev.Previous == "" {
		return nil
	}
	return c.SetVanityCode(ctx, ev.GuildID, ev.Previous, "guard: restoring vanity url")
}

func deleteMessage(ctx context.Context, c platform.Client, ev Event, _ attribution.Actor) error {
	return c.DeleteMessage(ctx, ev.ChannelID, ev.MessageID, "guard: link protection")
}

// deleteWebhooks removes every webhook the actor owns in the event's channel
func deleteWebhooks(ctx context.Context, c platform.Client, ev Event, actor attribution.Actor) error {
	hooks, err := c.ChannelWebhooks(ctx, ev.ChannelID)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}
	var errs []error
	for _, h := range hooks {
		if h.CreatorID != actor.ID {
			continue
		}
		if err := c.DeleteWebhook(ctx, h.ID, "guard: unauthorized webhook"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// purgeFlood deletes the actor's messages in the channel that are younger
// than window
func purgeFlood(window time.Duration) Step {
	return func(ctx context.Context, c platform.Client, ev Event, actor attribution.Actor) error {
		msgs, err := c.RecentMessages(ctx, ev.ChannelID, floodScanLimit)
		if err != nil {
			return fmt.Errorf("fetch recent messages: %w", err)
		}
		var errs []error
		for _, m := range msgs {
			if m.AuthorID != actor.ID || ev.ObservedAt.Sub(m.CreatedAt) >= window {
				continue
			}
			if err := c.DeleteMessage(ctx, m.ChannelID, m.ID, "guard: message flood"); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
