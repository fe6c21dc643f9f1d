package worker

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-guard-bot/internal/bot"
	"discord-guard-bot/internal/guard/massdelete"
	"discord-guard-bot/internal/guard/resolver"
	"discord-guard-bot/internal/models"
	"discord-guard-bot/internal/platform"
	"discord-guard-bot/internal/relay"
)

// HandleFunc runs an event through the guard pipeline
type HandleFunc func(ev resolver.Event) resolver.Outcome

// ChannelWorker guards channel and role deletion. It keeps a live channel
// count per guild for mass-deletion checks.
type ChannelWorker struct {
	handle HandleFunc
	mass   *massdelete.Detector
	client platform.Client
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	counts map[string]int
}

func newChannelWorker(handle HandleFunc, mass *massdelete.Detector, client platform.Client, logger *zap.Logger) *ChannelWorker {
	w := &ChannelWorker{}
	w.init(handle, mass, client, logger)
	return w
}

func (w *ChannelWorker) init(handle HandleFunc, mass *massdelete.Detector, client platform.Client, logger *zap.Logger) {
	w.handle = handle
	w.mass = mass
	w.client = client
	w.logger = logger
	w.now = time.Now
	w.counts = make(map[string]int)
}

func (w *ChannelWorker) Options() bot.Options {
	return bot.Options{Intents: discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates}
}

func (w *ChannelWorker) Attach(rt *Runtime) error {
	w.init(rt.Handle, rt.Mass, rt.Client, rt.Logger.Named("channel"))
	rt.Resolver.AfterEscalate = w.Recapture

	rt.Session.AddHandler(w.onGuildCreate)
	rt.Session.AddHandler(w.onGuildDelete)
	rt.Session.AddHandler(w.onChannelCreate)
	rt.Session.AddHandler(w.onChannelDelete)
	rt.Session.AddHandler(w.onRoleDelete)

	rt.Go("relay", voiceRelay(rt, relay.GuardFreshness))
	return nil
}

func (w *ChannelWorker) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	count := len(g.Channels)
	w.mu.Lock()
	w.counts[g.ID] = count
	w.mu.Unlock()
	w.mass.Capture(g.ID, count)
	w.logger.Debug("channel snapshot taken", zap.String("guild_id", g.ID), zap.Int("channels", count))
}

func (w *ChannelWorker) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	w.mu.Lock()
	delete(w.counts, g.ID)
	w.mu.Unlock()
	w.mass.Forget(g.ID)
}

func (w *ChannelWorker) onChannelCreate(_ *discordgo.Session, c *discordgo.ChannelCreate) {
	if c.GuildID == "" {
		return
	}
	w.mu.Lock()
	w.counts[c.GuildID]++
	w.mu.Unlock()
}

// liveAfterDelete decrements the guild's count, or reports UnknownCount when
// the guild was never counted
func (w *ChannelWorker) liveAfterDelete(guildID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.counts[guildID]
	if !ok {
		return resolver.UnknownCount
	}
	if n > 0 {
		n--
	}
	w.counts[guildID] = n
	return n
}

func (w *ChannelWorker) onChannelDelete(_ *discordgo.Session, c *discordgo.ChannelDelete) {
	if c.Channel == nil || c.GuildID == "" {
		return
	}
	snapshot := platform.ChannelFrom(c.Channel)
	w.handle(resolver.Event{
		GuildID:    c.GuildID,
		Kind:       models.ActionChannelDelete,
		Target:     models.Target{ID: c.ID, Kind: models.TargetChannel, Name: c.Name},
		ObservedAt: w.now(),
		Channel:    &snapshot,
		LiveCount:  w.liveAfterDelete(c.GuildID),
	})
}

func (w *ChannelWorker) onRoleDelete(_ *discordgo.Session, r *discordgo.GuildRoleDelete) {
	w.handle(resolver.Event{
		GuildID:    r.GuildID,
		Kind:       models.ActionRoleDelete,
		Target:     models.Target{ID: r.RoleID, Kind: models.TargetRole},
		ObservedAt: w.now(),
		LiveCount:  resolver.UnknownCount,
	})
}

// Recapture re-reads the guild's channels after an emergency response and
// moves the snapshot to what is left
func (w *ChannelWorker) Recapture(ctx context.Context, guildID string) {
	chs, err := w.client.ListChannels(ctx, guildID)
	if err != nil {
		w.logger.Warn("failed to refresh channel snapshot", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.counts[guildID] = len(chs)
	w.mu.Unlock()
	w.mass.Capture(guildID, len(chs))
}
