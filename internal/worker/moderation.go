package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-guard-bot/internal/bot"
	"discord-guard-bot/internal/commands"
	"discord-guard-bot/internal/platform"
	"discord-guard-bot/internal/relay"
)

const defaultReason = "no reason given"

// Authorizer decides who may run commands
type Authorizer interface {
	IsOwner(guildID, actorID string) bool
	IsAuthorized(ctx context.Context, guildID, actorID string) bool
}

// ModerationWorker serves the moderation commands to the guild owner and
// whitelisted users
type ModerationWorker struct {
	client platform.Client
	auth   Authorizer
	logger *zap.Logger
}

func (w *ModerationWorker) Options() bot.Options {
	return bot.Options{Intents: discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates}
}

func (w *ModerationWorker) Attach(rt *Runtime) error {
	w.client = rt.Client
	w.auth = rt.Gate
	w.logger = rt.Logger.Named("moderation")
	w.register(rt.Router)

	rt.Go("relay", voiceRelay(rt, relay.ModerationFreshness))
	return nil
}

func (w *ModerationWorker) register(r *commands.Router) {
	r.Handle(commands.Ban, w.authorized(w.ban))
	r.Handle(commands.Kick, w.authorized(w.kick))
	r.Handle(commands.Timeout, w.authorized(w.timeout))
	r.Handle(commands.Lock, w.authorized(w.lock))
	r.Handle(commands.Unlock, w.authorized(w.unlock))
	r.Handle(commands.Unban, w.authorized(w.unban))
}

func (w *ModerationWorker) authorized(h commands.Handler) commands.Handler {
	return func(ctx context.Context, inv *commands.Invocation) (string, error) {
		if !w.auth.IsAuthorized(ctx, inv.GuildID, inv.AuthorID) {
			return "", commands.ErrDenied
		}
		return h(ctx, inv)
	}
}

func reasonOf(inv *commands.Invocation) string {
	r := strings.TrimSpace(inv.String("reason"))
	if r == "" {
		r = defaultReason
	}
	return fmt.Sprintf("%s (by %s)", r, inv.AuthorID)
}

// targetOf returns the user option, or the id option for users not in the guild
func targetOf(inv *commands.Invocation) (string, error) {
	if id := inv.String("user"); id != "" {
		return id, nil
	}
	id := strings.TrimSpace(inv.String("id"))
	if id == "" {
		return "", commands.Usage("Give a user or a user id.")
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", commands.Usage("%q is not a user id.", id)
		}
	}
	return id, nil
}

func (w *ModerationWorker) ban(ctx context.Context, inv *commands.Invocation) (string, error) {
	target, err := targetOf(inv)
	if err != nil {
		return "", err
	}
	if target == inv.AuthorID {
		return "", commands.Usage("You cannot ban yourself.")
	}
	if w.auth.IsOwner(inv.GuildID, target) {
		return "", commands.Usage("The server owner cannot be banned.")
	}
	if err := w.client.Ban(ctx, inv.GuildID, target, reasonOf(inv)); err != nil {
		return "", err
	}
	w.logger.Info("member banned by command",
		zap.String("guild_id", inv.GuildID), zap.String("actor_id", inv.AuthorID), zap.String("target_id", target))
	return fmt.Sprintf("Banned <@%s>.", target), nil
}

func (w *ModerationWorker) kick(ctx context.Context, inv *commands.Invocation) (string, error) {
	target := inv.String("user")
	if target == "" {
		return "", commands.Usage("Give a member to kick.")
	}
	if target == inv.AuthorID {
		return "", commands.Usage("You cannot kick yourself.")
	}
	if w.auth.IsOwner(inv.GuildID, target) {
		return "", commands.Usage("The server owner cannot be kicked.")
	}
	if err := w.client.Kick(ctx, inv.GuildID, target, reasonOf(inv)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Kicked <@%s>.", target), nil
}

func (w *ModerationWorker) timeout(ctx context.Context, inv *commands.Invocation) (string, error) {
	target := inv.String("user")
	if target == "" {
		return "", commands.Usage("Give a member to time out.")
	}
	minutes, ok := inv.Int("minutes")
	if !ok || minutes < 1 {
		return "", commands.Usage("Give the timeout length in minutes.")
	}
	if w.auth.IsOwner(inv.GuildID, target) {
		return "", commands.Usage("The server owner cannot be timed out.")
	}
	d := time.Duration(minutes) * time.Minute
	if err := w.client.Timeout(ctx, inv.GuildID, target, d, reasonOf(inv)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Timed out <@%s> for %s.", target, d), nil
}

func channelOf(inv *commands.Invocation) string {
	if id := inv.String("channel"); id != "" {
		return id
	}
	return inv.ChannelID
}

// lock denies SendMessages to @everyone, whose role id is the guild id
func (w *ModerationWorker) lock(ctx context.Context, inv *commands.Invocation) (string, error) {
	ch := channelOf(inv)
	if err := w.client.SetChannelPermissions(ctx, ch, inv.GuildID, 0, discordgo.PermissionSendMessages, reasonOf(inv)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Locked <#%s>.", ch), nil
}

func (w *ModerationWorker) unlock(ctx context.Context, inv *commands.Invocation) (string, error) {
	ch := channelOf(inv)
	if err := w.client.SetChannelPermissions(ctx, ch, inv.GuildID, 0, 0, reasonOf(inv)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Unlocked <#%s>.", ch), nil
}

func (w *ModerationWorker) unban(ctx context.Context, inv *commands.Invocation) (string, error) {
	target, err := targetOf(inv)
	if err != nil {
		return "", err
	}
	if err := w.client.Unban(ctx, inv.GuildID, target, reasonOf(inv)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Unbanned <@%s>.", target), nil
}
