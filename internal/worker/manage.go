package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-guard-bot/internal/bot"
	"discord-guard-bot/internal/commands"
	"discord-guard-bot/internal/models"
	"discord-guard-bot/internal/relay"
)

// ManageCooldown is the per-user cooldown of the management commands
const ManageCooldown = 5 * time.Second

const maxListed = 25

// ManageStore is the persistence the management commands write to
type ManageStore interface {
	ToggleGuard(ctx context.Context, guildID string, guard models.Guard) (bool, error)
	SetPunishment(ctx context.Context, guildID string, p models.PunishmentType, timeout time.Duration) error
	SetLogChannel(ctx context.Context, guildID, channelID string) error
	AddWhitelist(ctx context.Context, e *models.WhitelistEntry) error
	RemoveWhitelist(ctx context.Context, guildID, userID string) (bool, error)
	ListWhitelist(ctx context.Context, guildID string) ([]*models.WhitelistEntry, error)
}

// Profiles is the profile cache as seen by the management commands
type Profiles interface {
	Get(ctx context.Context, guildID string) (*models.GuardProfile, error)
	Invalidate(ctx context.Context, guildID string) error
}

// Recorder appends incident records
type Recorder interface {
	Append(ctx context.Context, rec models.IncidentRecord) (*models.IncidentRecord, error)
}

// VoicePublisher asks every worker to join a voice channel
type VoicePublisher interface {
	JoinVoice(ctx context.Context, guildID, channelID string) (relay.Command, error)
}

// ManageWorker serves the owner-only management commands and runs the
// periodic maintenance sweeps
type ManageWorker struct {
	store    ManageStore
	profiles Profiles
	auth     Authorizer
	log      Recorder
	voice    VoicePublisher
	logger   *zap.Logger
	now      func() time.Time
}

func (w *ManageWorker) Options() bot.Options {
	return bot.Options{Intents: discordgo.IntentsGuilds}
}

func (w *ManageWorker) Attach(rt *Runtime) error {
	writer := relay.NewWriter(rt.Config.Relay.Path, rt.Config.Relay.DeleteAfter, rt.Logger.Named("relay"))

	w.store = rt.DB
	w.profiles = rt.Profiles
	w.auth = rt.Gate
	w.log = rt.Incidents
	w.voice = writer
	w.logger = rt.Logger.Named("manage")
	w.now = time.Now

	var shared commands.KeySetter
	if rt.Redis != nil {
		shared = rt.Redis
	}
	rt.Router = commands.NewRouter(commands.NewCooldown(ManageCooldown, shared, rt.Logger.Named("cooldown")), 0, rt.Logger.Named("commands"))
	w.register(rt.Router)

	s := &Sweeper{
		store:     rt.DB,
		interval:  rt.Config.Guard.ExpirySweep,
		retention: rt.Config.Guard.IncidentRetention,
		logger:    rt.Logger.Named("sweep"),
		now:       time.Now,
	}
	rt.Go("whitelist-expiry", s.RunExpiry)
	rt.Go("incident-retention", s.RunRetention)
	rt.Go("relay-writer", func(ctx context.Context) error {
		<-ctx.Done()
		writer.Close()
		return nil
	})
	return nil
}

func (w *ManageWorker) register(r *commands.Router) {
	r.Handle(commands.Whitelist, w.ownerOnly(w.whitelist))
	r.Handle(commands.Guard, w.ownerOnly(w.guard))
	r.Handle(commands.Punishment, w.ownerOnly(w.punishment))
	r.Handle(commands.Voice, w.ownerOnly(w.joinVoice))
}

func (w *ManageWorker) ownerOnly(h commands.Handler) commands.Handler {
	return func(ctx context.Context, inv *commands.Invocation) (string, error) {
		if !w.auth.IsOwner(inv.GuildID, inv.AuthorID) {
			return "", commands.ErrDenied
		}
		// every write below needs the profile row to exist
		if _, err := w.profiles.Get(ctx, inv.GuildID); err != nil {
			return "", fmt.Errorf("load guard profile: %w", err)
		}
		return h(ctx, inv)
	}
}

// record appends a low-severity record of a settings change. A failed write
// is logged; the change itself already happened.
func (w *ManageWorker) record(ctx context.Context, inv *commands.Invocation, action models.Action, target models.Target, reason string) {
	_, err := w.log.Append(ctx, models.IncidentRecord{
		GuildID:  inv.GuildID,
		Action:   action,
		Executor: models.Executor{ID: inv.AuthorID},
		Target:   target,
		Reason:   reason,
	})
	if err != nil {
		w.logger.Error("failed to record settings change",
			zap.String("guild_id", inv.GuildID), zap.String("action", string(action)), zap.Error(err))
	}
}

func (w *ManageWorker) invalidate(ctx context.Context, guildID string) {
	if err := w.profiles.Invalidate(ctx, guildID); err != nil {
		w.logger.Warn("profile invalidation failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

func (w *ManageWorker) whitelist(ctx context.Context, inv *commands.Invocation) (string, error) {
	switch inv.Sub {
	case "add":
		return w.whitelistAdd(ctx, inv)
	case "remove":
		return w.whitelistRemove(ctx, inv)
	case "list":
		return w.whitelistList(ctx, inv)
	}
	return "", commands.Usage("Unknown subcommand %q.", inv.Sub)
}

func (w *ManageWorker) whitelistAdd(ctx context.Context, inv *commands.Invocation) (string, error) {
	user := inv.String("user")
	if user == "" {
		return "", commands.Usage("Give a user to whitelist.")
	}
	e := &models.WhitelistEntry{
		GuildID: inv.GuildID,
		UserID:  user,
		AddedBy: inv.AuthorID,
		Reason:  strings.TrimSpace(inv.String("reason")),
		Status:  models.WhitelistActive,
	}
	if raw := strings.TrimSpace(inv.String("duration")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return "", commands.Usage("%q is not a duration, use something like 30m or 12h.", raw)
		}
		e.Temporary = true
		e.ExpiresAt = w.now().Add(d)
	}

	if err := w.store.AddWhitelist(ctx, e); err != nil {
		return "", err
	}
	w.invalidate(ctx, inv.GuildID)

	target := models.Target{ID: user, Kind: models.TargetUser}
	if e.Temporary {
		w.record(ctx, inv, models.ActionWhitelistAdd, target, "temporary until "+e.ExpiresAt.UTC().Format(time.RFC3339))
		return fmt.Sprintf("Whitelisted <@%s> until <t:%d:f>.", user, e.ExpiresAt.Unix()), nil
	}
	w.record(ctx, inv, models.ActionWhitelistAdd, target, e.Reason)
	return fmt.Sprintf("Whitelisted <@%s>.", user), nil
}

func (w *ManageWorker) whitelistRemove(ctx context.Context, inv *commands.Invocation) (string, error) {
	user := inv.String("user")
	if user == "" {
		return "", commands.Usage("Give a user to remove.")
	}
	removed, err := w.store.RemoveWhitelist(ctx, inv.GuildID, user)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("<@%s> is not whitelisted.", user), nil
	}
	w.invalidate(ctx, inv.GuildID)
	w.record(ctx, inv, models.ActionWhitelistRemove, models.Target{ID: user, Kind: models.TargetUser}, "")
	return fmt.Sprintf("Removed <@%s> from the whitelist.", user), nil
}

func (w *ManageWorker) whitelistList(ctx context.Context, inv *commands.Invocation) (string, error) {
	entries, err := w.store.ListWhitelist(ctx, inv.GuildID)
	if err != nil {
		return "", err
	}
	now := w.now()

	var b strings.Builder
	listed := 0
	for _, e := range entries {
		if !e.Effective(now) {
			continue
		}
		if listed == maxListed {
			b.WriteString("...\n")
			break
		}
		listed++
		fmt.Fprintf(&b, "<@%s>", e.UserID)
		if e.Temporary {
			fmt.Fprintf(&b, " until <t:%d:f>", e.ExpiresAt.Unix())
		}
		b.WriteString("\n")
	}
	if listed == 0 {
		return "The whitelist is empty.", nil
	}
	return "Whitelisted users:\n" + b.String(), nil
}

func (w *ManageWorker) guard(ctx context.Context, inv *commands.Invocation) (string, error) {
	switch inv.Sub {
	case "toggle":
		return w.guardToggle(ctx, inv)
	case "status":
		return w.guardStatus(ctx, inv)
	case "logs":
		return w.guardLogs(ctx, inv)
	}
	return "", commands.Usage("Unknown subcommand %q.", inv.Sub)
}

func (w *ManageWorker) guardToggle(ctx context.Context, inv *commands.Invocation) (string, error) {
	g, ok := models.ParseGuard(inv.String("guard"))
	if !ok {
		return "", commands.Usage("Unknown guard %q.", inv.String("guard"))
	}
	enabled, err := w.store.ToggleGuard(ctx, inv.GuildID, g)
	if err != nil {
		return "", err
	}
	w.invalidate(ctx, inv.GuildID)

	action, state := models.ActionGuardDisable, "off"
	if enabled {
		action, state = models.ActionGuardEnable, "on"
	}
	w.record(ctx, inv, action, models.Target{ID: inv.GuildID, Kind: models.TargetGuild, Name: string(g)}, g.DisplayName()+" switched "+state)
	return fmt.Sprintf("%s is now %s.", g.DisplayName(), state), nil
}

func (w *ManageWorker) guardStatus(ctx context.Context, inv *commands.Invocation) (string, error) {
	p, err := w.profiles.Get(ctx, inv.GuildID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, g := range models.AllGuards() {
		state := "off"
		if p.GuardEnabled(g) {
			state = "on"
		}
		fmt.Fprintf(&b, "%s: %s\n", g.DisplayName(), state)
	}
	fmt.Fprintf(&b, "Punishment: %s", p.Punishment())
	if p.Punishment() == models.PunishmentTimeout {
		fmt.Fprintf(&b, " (%s)", p.Timeout())
	}
	if p.LogChannelID != "" {
		fmt.Fprintf(&b, "\nLog channel: <#%s>", p.LogChannelID)
	}
	return b.String(), nil
}

func (w *ManageWorker) guardLogs(ctx context.Context, inv *commands.Invocation) (string, error) {
	ch := inv.String("channel")
	if err := w.store.SetLogChannel(ctx, inv.GuildID, ch); err != nil {
		return "", err
	}
	w.invalidate(ctx, inv.GuildID)
	if ch == "" {
		return "Incident notices are no longer posted.", nil
	}
	return fmt.Sprintf("Incident notices go to <#%s>.", ch), nil
}

func (w *ManageWorker) punishment(ctx context.Context, inv *commands.Invocation) (string, error) {
	if inv.Sub != "set" {
		return "", commands.Usage("Unknown subcommand %q.", inv.Sub)
	}
	p, ok := models.ParsePunishment(inv.String("type"))
	if !ok {
		return "", commands.Usage("Unknown punishment %q.", inv.String("type"))
	}
	timeout := models.DefaultTimeoutDuration
	if minutes, ok := inv.Int("minutes"); ok && minutes > 0 {
		timeout = time.Duration(minutes) * time.Minute
	}

	if err := w.store.SetPunishment(ctx, inv.GuildID, p, timeout); err != nil {
		return "", err
	}
	w.invalidate(ctx, inv.GuildID)

	reason := "punishment set to " + string(p)
	if p == models.PunishmentTimeout {
		reason += " for " + timeout.String()
	}
	w.record(ctx, inv, models.ActionPunishmentSet, models.Target{ID: inv.GuildID, Kind: models.TargetGuild}, reason)
	return "The " + reason + ".", nil
}

func (w *ManageWorker) joinVoice(ctx context.Context, inv *commands.Invocation) (string, error) {
	if inv.Sub != "join" {
		return "", commands.Usage("Unknown subcommand %q.", inv.Sub)
	}
	ch := inv.String("channel")
	if ch == "" {
		return "", commands.Usage("Give a voice channel.")
	}
	if _, err := w.voice.JoinVoice(ctx, inv.GuildID, ch); err != nil {
		if errors.Is(err, relay.ErrUnknownAction) {
			return "", commands.Usage("That command cannot be relayed.")
		}
		return "", err
	}
	return fmt.Sprintf("The guard workers will join <#%s>.", ch), nil
}
